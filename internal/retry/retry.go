// Package retry provides utilities for retrying operations with configurable
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the factor for exponential backoff.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes delays to desynchronize concurrent retry storms.
	// Off by default; deterministic backoff matches the documented timing.
	Jitter bool `yaml:"jitter"`

	// ShouldRetry decides whether a failure is worth retrying. A nil
	// predicate retries everything except PermanentError.
	ShouldRetry func(error) bool `yaml:"-"`
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

func (c *Config) normalize() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
}

// Do invokes op until it succeeds, the retry budget is exhausted, or the
// ShouldRetry predicate rejects the failure. The last error is returned.
func Do(ctx context.Context, config Config, op func() error) error {
	config.normalize()

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt >= config.MaxRetries {
			break
		}
		if !shouldRetry(config, lastErr) {
			break
		}

		delay := Backoff(attempt, config.BaseDelay, config.MaxDelay, config.Multiplier)
		if config.Jitter {
			delay = withJitter(delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// DoWithValue invokes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, error) {
	var value T
	err := Do(ctx, config, func() error {
		var opErr error
		value, opErr = op()
		return opErr
	})
	return value, err
}

func shouldRetry(config Config, err error) bool {
	if IsPermanent(err) {
		return false
	}
	if config.ShouldRetry != nil {
		return config.ShouldRetry(err)
	}
	return true
}

// Backoff calculates the delay before retry number attempt (zero-based):
// min(base * multiplier^attempt, max).
func Backoff(attempt int, base, max time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(multiplier, float64(attempt))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

// withJitter scales a delay by a random factor in [0.5, 1.5).
func withJitter(delay time.Duration) time.Duration {
	factor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	return time.Duration(float64(delay) * factor)
}

// PermanentError marks an error that should never be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
