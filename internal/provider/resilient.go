package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/loomhq/loom/internal/circuit"
	"github.com/loomhq/loom/internal/observability"
	"github.com/loomhq/loom/internal/ratelimit"
	"github.com/loomhq/loom/internal/retry"
)

// ResilientConfig tunes the resilience layers wrapped around a provider.
type ResilientConfig struct {
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Retry     retry.Config     `yaml:"retry"`
	Breaker   circuit.Config   `yaml:"breaker"`
}

// DefaultResilientConfig returns sane defaults for wrapping a provider.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		RateLimit: ratelimit.Config{
			MaxRequests: 60,
			Window:      time.Minute,
			Enabled:     true,
		},
		Retry: retry.Config{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   30 * time.Second,
			Multiplier: 2.0,
		},
		Breaker: circuit.Config{
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
		},
	}
}

// Stats holds cumulative counters for a resilient provider.
type Stats struct {
	TotalRequests uint64 `json:"total_requests"`
	Failures      uint64 `json:"failures"`
	Retries       uint64 `json:"retries"`
	RateLimitHits uint64 `json:"rate_limit_hits"`
	CircuitTrips  uint64 `json:"circuit_trips"`
}

// Resilient wraps a Provider with a circuit breaker, a client-side rate
// limiter, and retry with exponential backoff, applied in that order. The
// breaker gate comes first so an open circuit fails fast without consuming
// rate-limit tokens.
type Resilient struct {
	inner   Provider
	config  ResilientConfig
	breaker *circuit.Breaker
	limiter *ratelimit.Bucket
	metrics *observability.Metrics
	log     *observability.Logger

	totalRequests atomic.Uint64
	failures      atomic.Uint64
	retries       atomic.Uint64
	rateLimitHits atomic.Uint64
}

// ResilientOption customizes a Resilient wrapper.
type ResilientOption func(*Resilient)

// WithMetrics attaches Prometheus metrics to the wrapper.
func WithMetrics(m *observability.Metrics) ResilientOption {
	return func(r *Resilient) { r.metrics = m }
}

// WithLogger attaches a structured logger to the wrapper.
func WithLogger(l *observability.Logger) ResilientOption {
	return func(r *Resilient) { r.log = l }
}

// NewResilient wraps inner with the configured resilience layers.
func NewResilient(inner Provider, config ResilientConfig, opts ...ResilientOption) *Resilient {
	if config.Breaker.Name == "" {
		config.Breaker.Name = inner.Name()
	}
	if config.Retry.ShouldRetry == nil {
		config.Retry.ShouldRetry = IsRetryable
	}
	r := &Resilient{
		inner:   inner,
		config:  config,
		breaker: circuit.New(config.Breaker),
		log:     observability.Nop(),
	}
	if config.RateLimit.Enabled {
		r.limiter = ratelimit.NewBucket(config.RateLimit)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the wrapped provider's name.
func (r *Resilient) Name() string {
	return r.inner.Name()
}

// Generate calls the wrapped provider with the full resilience pipeline.
func (r *Resilient) Generate(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	r.totalRequests.Add(1)

	if err := r.preflight(ctx); err != nil {
		r.countRequest("rejected")
		return nil, err
	}

	attempt := 0
	resp, err := retry.DoWithValue(ctx, r.config.Retry, func() (*Response, error) {
		if attempt > 0 {
			r.retries.Add(1)
			if r.metrics != nil {
				r.metrics.ProviderRetries.WithLabelValues(r.inner.Name()).Inc()
			}
			r.log.Debug(ctx, "retrying provider call",
				"provider", r.inner.Name(), "attempt", attempt)
		}
		attempt++

		resp, err := r.inner.Generate(ctx, messages, tools)
		r.record(ctx, err)
		return resp, err
	})
	if err != nil {
		r.failures.Add(1)
		r.countRequest("error")
		return nil, err
	}
	r.countRequest("ok")
	return resp, nil
}

// GenerateStream streams a response with the same resilience pipeline.
// Retries only cover failures before the first chunk is yielded; once
// output has been observed the stream is not restarted, and a mid-stream
// failure is surfaced as the final chunk's Err.
func (r *Resilient) GenerateStream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan Chunk, error) {
	r.totalRequests.Add(1)

	if err := r.preflight(ctx); err != nil {
		r.countRequest("rejected")
		return nil, err
	}

	streamer, ok := r.inner.(StreamingProvider)
	if !ok {
		return r.synthesizeStream(ctx, messages, tools)
	}

	var src <-chan Chunk
	attempt := 0
	err := retry.Do(ctx, r.config.Retry, func() error {
		if attempt > 0 {
			r.retries.Add(1)
			if r.metrics != nil {
				r.metrics.ProviderRetries.WithLabelValues(r.inner.Name()).Inc()
			}
		}
		attempt++

		ch, err := streamer.GenerateStream(ctx, messages, tools)
		if err != nil {
			// Success is recorded when the stream drains cleanly.
			r.record(ctx, err)
			return err
		}
		src = ch
		return nil
	})
	if err != nil {
		r.failures.Add(1)
		r.countRequest("error")
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		failed := false
		for chunk := range src {
			if chunk.Err != nil && !failed {
				failed = true
				r.failures.Add(1)
				r.breaker.RecordFailure()
				r.countRequest("error")
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if !failed {
			r.breaker.RecordSuccess()
			r.countRequest("ok")
		}
	}()
	return out, nil
}

// synthesizeStream serves GenerateStream for providers that only implement
// the blocking call, emitting the full response as a short chunk sequence.
func (r *Resilient) synthesizeStream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan Chunk, error) {
	attempt := 0
	resp, err := retry.DoWithValue(ctx, r.config.Retry, func() (*Response, error) {
		if attempt > 0 {
			r.retries.Add(1)
			if r.metrics != nil {
				r.metrics.ProviderRetries.WithLabelValues(r.inner.Name()).Inc()
			}
		}
		attempt++

		resp, err := r.inner.Generate(ctx, messages, tools)
		r.record(ctx, err)
		return resp, err
	})
	if err != nil {
		r.failures.Add(1)
		r.countRequest("error")
		return nil, err
	}
	r.countRequest("ok")

	out := make(chan Chunk)
	go func() {
		defer close(out)
		emit := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if resp.Content != "" {
			if !emit(Chunk{Content: resp.Content}) {
				return
			}
		}
		for i := range resp.ToolCalls {
			tc := resp.ToolCalls[i]
			if !emit(Chunk{ToolCall: &tc}) {
				return
			}
		}
		usage := resp.Usage
		emit(Chunk{Usage: &usage, Done: true, StopReason: resp.StopReason})
	}()
	return out, nil
}

func (r *Resilient) countRequest(status string) {
	if r.metrics != nil {
		r.metrics.ProviderRequests.WithLabelValues(r.inner.Name(), status).Inc()
	}
}

// preflight runs the breaker gate and then the rate limiter.
func (r *Resilient) preflight(ctx context.Context) error {
	if err := r.breaker.Allow(); err != nil {
		r.failures.Add(1)
		if r.metrics != nil {
			r.metrics.CircuitTrips.WithLabelValues(r.inner.Name()).Inc()
		}
		r.log.Warn(ctx, "circuit breaker rejected request", "provider", r.inner.Name())
		return err
	}
	if r.limiter != nil {
		if !r.limiter.TryAcquire() {
			r.rateLimitHits.Add(1)
			if r.metrics != nil {
				r.metrics.RateLimitWaits.WithLabelValues(r.inner.Name()).Inc()
			}
			r.log.Debug(ctx, "rate limited, waiting",
				"provider", r.inner.Name(), "wait", r.limiter.WaitTime())
			if err := r.limiter.Acquire(ctx); err != nil {
				r.failures.Add(1)
				return err
			}
		}
	}
	return nil
}

// record updates the breaker after a provider call. Context cancellation is
// the caller's doing and does not count against the provider.
func (r *Resilient) record(ctx context.Context, err error) {
	if err == nil {
		r.breaker.RecordSuccess()
		return
	}
	if ctx.Err() != nil {
		return
	}
	r.breaker.RecordFailure()
	r.log.Warn(ctx, "provider call failed",
		"provider", r.inner.Name(),
		"reason", string(Classify(err)),
		"error", err)
}

// GetStats returns a snapshot of the cumulative counters.
func (r *Resilient) GetStats() Stats {
	bs := r.breaker.Stats()
	return Stats{
		TotalRequests: r.totalRequests.Load(),
		Failures:      r.failures.Load(),
		Retries:       r.retries.Load(),
		RateLimitHits: r.rateLimitHits.Load(),
		CircuitTrips:  bs.Trips,
	}
}

// ResetStats zeroes the counters and resets the circuit breaker.
func (r *Resilient) ResetStats() {
	r.totalRequests.Store(0)
	r.failures.Store(0)
	r.retries.Store(0)
	r.rateLimitHits.Store(0)
	r.breaker.Reset()
}
