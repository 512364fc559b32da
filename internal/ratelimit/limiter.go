// Package ratelimit provides token-bucket rate limiting for outbound
// provider requests.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int `yaml:"max_requests"`

	// Window is the period over which MaxRequests is budgeted.
	Window time.Duration `yaml:"window"`

	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 10,
		Window:      time.Second,
		Enabled:     true,
	}
}

// Bucket implements token bucket rate limiting. Tokens accrue continuously
// at MaxRequests/Window rather than in discrete windows, which avoids the
// boundary burst problem of fixed-window counters.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a full token bucket.
func NewBucket(config Config) *Bucket {
	if config.MaxRequests <= 0 {
		config.MaxRequests = 10
	}
	if config.Window <= 0 {
		config.Window = time.Second
	}

	max := float64(config.MaxRequests)
	return &Bucket{
		tokens:     max,
		maxTokens:  max,
		refillRate: max / config.Window.Seconds(),
		lastRefill: time.Now(),
	}
}

// TryAcquire consumes a token if one is available, without waiting.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Acquire consumes a token, sleeping for exactly the time needed for one
// token to accrue when the bucket is empty. Returns early with the context
// error if ctx is done before a token is available.
func (b *Bucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := b.waitLocked()
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens returns the current fractional token count.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Available returns the integer-floored token count for diagnostics.
func (b *Bucket) Available() int {
	return int(b.Tokens())
}

// WaitTime returns how long until a token would be available.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	return b.waitLocked()
}

// refill adds tokens based on time elapsed (must be called with lock held).
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// waitLocked computes the time for one token to accrue (lock held, refilled).
func (b *Bucket) waitLocked() time.Duration {
	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// Limiter manages buckets for multiple keys (one per provider).
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	config  Config
}

// NewLimiter creates a new keyed rate limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  config,
	}
}

// Acquire blocks until the key's bucket yields a token.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	if !l.config.Enabled {
		return nil
	}
	return l.getBucket(key).Acquire(ctx)
}

// TryAcquire consumes a token for the key if available.
func (l *Limiter) TryAcquire(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.getBucket(key).TryAcquire()
}

// getBucket returns or creates the bucket for a key.
func (l *Limiter) getBucket(key string) *Bucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists = l.buckets[key]; exists {
		return bucket
	}

	bucket = NewBucket(l.config)
	l.buckets[key] = bucket
	return bucket
}
