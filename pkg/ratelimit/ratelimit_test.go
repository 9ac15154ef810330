package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_NilNeverBlocks(t *testing.T) {
	limiter := New(0, 1, 0.5)
	if limiter != nil {
		t.Fatalf("expected nil limiter for zero rps")
	}

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("nil limiter should not block")
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := New(10, 1, 0) // 100ms interval
	ctx := context.Background()

	// First token is available immediately.
	_ = limiter.Wait(ctx)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	duration := time.Since(start)
	if duration < 50*time.Millisecond || duration > 200*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", duration)
	}
}

func TestLimiter_Burst(t *testing.T) {
	limiter := New(1, 3, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_ = limiter.Wait(ctx)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected burst of 3 to pass without waiting")
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := New(1, 1, 0)
	_ = limiter.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatalf("expected context canceled error")
	}
}

func TestLimiter_Jitter(t *testing.T) {
	limiter := New(10, 1, 0.5) // 100ms interval, up to +50ms
	ctx := context.Background()

	_ = limiter.Wait(ctx)

	start := time.Now()
	_ = limiter.Wait(ctx)
	duration := time.Since(start)

	if duration < 50*time.Millisecond || duration > 300*time.Millisecond {
		t.Errorf("expected jittered wait roughly between 100ms and 150ms, took %v", duration)
	}
}

func TestHostLimiter_IndependentHosts(t *testing.T) {
	hl := NewHostLimiter(1, 1, 0)
	ctx := context.Background()

	_ = hl.Wait(ctx, "https://a.example/x")

	start := time.Now()
	if err := hl.Wait(ctx, "https://b.example/y"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected a different host not to wait")
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := hl.Wait(cctx, "https://a.example/z"); err == nil {
		t.Errorf("expected same host to be throttled past the deadline")
	}
}
