// Package pool provides a bounded concurrency pool for in-flight async
// operations.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when an operation exceeds the pool's per-call timeout.
var ErrTimeout = errors.New("pool: operation timed out")

// Config configures a concurrency pool.
type Config struct {
	// MaxConcurrent caps simultaneously running operations. Default: 4.
	MaxConcurrent int

	// Timeout, when positive, races each operation against a timer.
	Timeout time.Duration
}

// Pool caps the number of concurrently running operations. Callers beyond
// the cap queue FIFO on the semaphore until a slot frees.
type Pool struct {
	config  Config
	sem     chan struct{}
	active  atomic.Int64
	pending atomic.Int64
}

// New creates a pool with the given config.
func New(config Config) *Pool {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	return &Pool{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Run acquires a slot, executes fn, and releases the slot. When the pool is
// saturated the caller blocks until a slot frees or ctx is done. With a
// configured timeout, fn races a timer and loses with ErrTimeout; the
// abandoned fn keeps its slot until it returns.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	p.pending.Add(1)
	select {
	case p.sem <- struct{}{}:
		p.pending.Add(-1)
	case <-ctx.Done():
		p.pending.Add(-1)
		return ctx.Err()
	}

	p.active.Add(1)

	if p.config.Timeout <= 0 {
		defer func() {
			p.active.Add(-1)
			<-p.sem
		}()
		return fn(ctx)
	}

	fnCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		defer func() {
			p.active.Add(-1)
			<-p.sem
		}()
		done <- fn(fnCtx)
	}()

	timer := time.NewTimer(p.config.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		return err
	case <-timer.C:
		cancel()
		return fmt.Errorf("%w after %v", ErrTimeout, p.config.Timeout)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Active returns the number of operations currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Pending returns the number of callers waiting for a slot.
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// ParallelMap runs fn over items with at most width concurrent invocations
// and returns results in input order. The first error is returned alongside
// the partial results; remaining items still run to completion.
func ParallelMap[T any, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), width int) ([]R, error) {
	p := New(Config{MaxConcurrent: width})
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, it T) {
			defer wg.Done()
			errs[idx] = p.Run(ctx, func(runCtx context.Context) error {
				r, err := fn(runCtx, it)
				if err != nil {
					return err
				}
				results[idx] = r
				return nil
			})
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
