// Package circuit implements the circuit breaker pattern used to guard
// outbound provider calls.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed = "closed"
	StateOpen   = "open"
)

// Config configures a circuit breaker.
type Config struct {
	// Name identifies this breaker (typically the provider name).
	Name string `yaml:"name"`

	// FailureThreshold is the failure count that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is how long the circuit stays open before the next
	// call is allowed through as a probe.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// OnStateChange is called when the state flips.
	OnStateChange func(from, to string) `yaml:"-"`
}

// Breaker tracks consecutive provider failures and fails fast while open.
//
// Unlike a breaker that zeroes its counter on success, a single success only
// decrements the count, so one lucky call does not erase a degradation
// pattern. When the reset timeout elapses the next call is allowed through
// and the counter is halved rather than cleared.
type Breaker struct {
	config Config

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool

	trips uint64
}

// New creates a breaker with the given config.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	return &Breaker{config: config}
}

// OpenError is returned without attempting the call while the circuit is open.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s, retry in %.0fs", e.Name, e.RetryIn.Seconds())
}

// Allow reports whether a call may proceed. While open, it permits a probe
// once the reset timeout has elapsed since the last failure (halving the
// failure counter); otherwise it returns an OpenError with the remaining
// cooldown.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}

	elapsed := time.Since(b.lastFailure)
	if elapsed >= b.config.ResetTimeout {
		// Half-open probe: close but keep half the failure history.
		b.setOpen(false)
		b.failures /= 2
		return nil
	}

	return &OpenError{
		Name:    b.config.Name,
		RetryIn: b.config.ResetTimeout - elapsed,
	}
}

// RecordSuccess decrements the failure counter (floor 0).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 {
		b.failures--
	}
}

// RecordFailure increments the failure counter and opens the circuit once
// the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if !b.open && b.failures >= b.config.FailureThreshold {
		b.setOpen(true)
		b.trips++
	}
}

// Execute runs fn with breaker protection, recording the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// setOpen flips the open flag. Must be called with mu held.
func (b *Breaker) setOpen(open bool) {
	if b.open == open {
		return
	}
	b.open = open

	if b.config.OnStateChange != nil {
		from, to := StateClosed, StateOpen
		if !open {
			from, to = StateOpen, StateClosed
		}
		// Call asynchronously to avoid blocking under the lock.
		go b.config.OnStateChange(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return StateOpen
	}
	return StateClosed
}

// Stats contains a snapshot of breaker state.
type Stats struct {
	Name        string
	State       string
	Failures    int
	LastFailure time.Time
	Trips       uint64
}

// Stats returns current breaker statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := StateClosed
	if b.open {
		state = StateOpen
	}
	return Stats{
		Name:        b.config.Name,
		State:       state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		Trips:       b.trips,
	}
}

// Reset manually closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setOpen(false)
	b.failures = 0
}

// Registry manages breakers keyed by name, one per wrapped provider.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a registry with default config for new breakers.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns or creates the breaker with the given name.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()

	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if b, ok := r.breakers[name]; ok {
		return b
	}

	config := r.defaults
	config.Name = name
	b = New(config)
	r.breakers[name] = b
	return b
}

// Stats returns statistics for all breakers.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}
