package limiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/limiter"
)

func TestUnlimited_AlwaysAcquires(t *testing.T) {
	l := limiter.New(limiter.Config{})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if got := l.InFlight(); got != 0 {
		t.Errorf("InFlight = %d, want 0 for unlimited", got)
	}
}

func TestConcurrencyCap(t *testing.T) {
	l := limiter.New(limiter.Config{MaxConcurrency: 2})
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire should fail with both slots held")
	}
	if got := l.InFlight(); got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}

	l.Release()
	if !l.TryAcquire() {
		t.Error("TryAcquire should succeed after Release")
	}
}

func TestAcquire_BlocksUntilContextDone(t *testing.T) {
	l := limiter.New(limiter.Config{MaxConcurrency: 1})
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	timed, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(timed)
	if err == nil {
		t.Fatal("Acquire should fail once the context expires")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected it to block until the deadline", elapsed)
	}
}

func TestRateLimit(t *testing.T) {
	// 1 token available immediately, then 10/s refill.
	l := limiter.New(limiter.Config{RateLimit: 10, RateBurst: 1})

	if !l.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	if l.TryAcquire() {
		t.Error("second immediate TryAcquire should be rate limited")
	}

	// After ~100ms a token has refilled.
	time.Sleep(120 * time.Millisecond)
	if !l.TryAcquire() {
		t.Error("TryAcquire should succeed after refill")
	}
}

func TestRateLimitFailureReturnsSlot(t *testing.T) {
	l := limiter.New(limiter.Config{MaxConcurrency: 1, RateLimit: 10, RateBurst: 1})

	if !l.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	l.Release()

	// Rate token is spent; the failed acquire must give its slot back.
	if l.TryAcquire() {
		t.Error("TryAcquire should be rate limited")
	}
	if got := l.InFlight(); got != 0 {
		t.Errorf("InFlight = %d, want 0 after failed acquire", got)
	}
}
