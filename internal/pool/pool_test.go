package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunCapsConcurrency(t *testing.T) {
	p := New(Config{MaxConcurrent: 2})

	var current, peak atomic.Int64
	release := make(chan struct{})
	done := make(chan error, 5)

	for i := 0; i < 5; i++ {
		go func() {
			done <- p.Run(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				<-release
				current.Add(-1)
				return nil
			})
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if got := p.Active(); got != 2 {
		t.Errorf("expected 2 active, got %d", got)
	}
	if got := p.Pending(); got != 3 {
		t.Errorf("expected 3 pending, got %d", got)
	}

	close(release)
	for i := 0; i < 5; i++ {
		if err := <-done; err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	if got := peak.Load(); got > 2 {
		t.Errorf("concurrency exceeded cap: peak %d", got)
	}
}

func TestRunTimeout(t *testing.T) {
	p := New(Config{MaxConcurrent: 1, Timeout: 20 * time.Millisecond})

	err := p.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestRunContextCanceledWhileQueued(t *testing.T) {
	p := New(Config{MaxConcurrent: 1})

	release := make(chan struct{})
	go p.Run(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Run(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	close(release)
}

func TestRunPropagatesError(t *testing.T) {
	p := New(Config{MaxConcurrent: 1})

	wantErr := errors.New("op failed")
	err := p.Run(context.Background(), func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestParallelMapOrder(t *testing.T) {
	items := []int{5, 3, 1, 4, 2}

	results, err := ParallelMap(context.Background(), items, func(_ context.Context, n int) (string, error) {
		// Finish out of order.
		time.Sleep(time.Duration(n) * 5 * time.Millisecond)
		return fmt.Sprintf("item-%d", n), nil
	}, 3)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, n := range items {
		want := fmt.Sprintf("item-%d", n)
		if results[i] != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want)
		}
	}
}

func TestParallelMapError(t *testing.T) {
	wantErr := errors.New("bad item")

	_, err := ParallelMap(context.Background(), []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, wantErr
		}
		return n * 10, nil
	}, 2)

	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}
