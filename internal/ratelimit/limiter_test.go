package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquire(t *testing.T) {
	b := NewBucket(Config{MaxRequests: 5, Window: time.Second})

	for i := 0; i < 5; i++ {
		if !b.TryAcquire() {
			t.Fatalf("expected token %d to be available", i+1)
		}
	}
	if b.TryAcquire() {
		t.Error("expected exhausted bucket to refuse")
	}
}

func TestAcquireImmediate(t *testing.T) {
	b := NewBucket(Config{MaxRequests: 5, Window: time.Second})

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := b.Acquire(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate acquires, took %v", elapsed)
	}
}

func TestAcquireBlocksForRefill(t *testing.T) {
	b := NewBucket(Config{MaxRequests: 5, Window: 500 * time.Millisecond})

	for i := 0; i < 5; i++ {
		if !b.TryAcquire() {
			t.Fatal("expected token")
		}
	}

	// One token accrues every window/maxRequests = 100ms.
	start := time.Now()
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("acquire returned too early: %v", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("acquire blocked too long: %v", elapsed)
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	b := NewBucket(Config{MaxRequests: 1, Window: time.Hour})
	if !b.TryAcquire() {
		t.Fatal("expected token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestRefill(t *testing.T) {
	b := NewBucket(Config{MaxRequests: 10, Window: 100 * time.Millisecond})

	for b.TryAcquire() {
	}
	if b.Available() != 0 {
		t.Fatalf("expected empty bucket, have %d", b.Available())
	}

	time.Sleep(120 * time.Millisecond)
	if got := b.Available(); got != 10 {
		t.Errorf("expected full refill, got %d tokens", got)
	}
}

func TestWaitTime(t *testing.T) {
	b := NewBucket(Config{MaxRequests: 2, Window: time.Second})

	if wait := b.WaitTime(); wait != 0 {
		t.Errorf("expected zero wait with tokens available, got %v", wait)
	}

	b.TryAcquire()
	b.TryAcquire()

	wait := b.WaitTime()
	if wait <= 0 || wait > 600*time.Millisecond {
		t.Errorf("unexpected wait time %v", wait)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1, Window: time.Hour, Enabled: false})

	for i := 0; i < 10; i++ {
		if !l.TryAcquire("anthropic") {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestLimiterPerKeyBuckets(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1, Window: time.Hour, Enabled: true})

	if !l.TryAcquire("a") {
		t.Fatal("expected token for key a")
	}
	if l.TryAcquire("a") {
		t.Error("key a should be exhausted")
	}
	if !l.TryAcquire("b") {
		t.Error("key b should have its own bucket")
	}
}
