package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// fakeClock drives a RateLimiter deterministically: sleeps advance the
// clock instead of blocking.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) install(r *RateLimiter) {
	r.now = func() time.Time { return c.now }
	r.sleep = func(ctx context.Context, d time.Duration) error {
		c.slept = append(c.slept, d)
		c.now = c.now.Add(d)
		return nil
	}
}

func TestRateLimiterBurstThenWait(t *testing.T) {
	clk := newFakeClock()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 3, RefillRate: 1, MaxWait: 5 * time.Second})
	clk.install(r)

	ctx := context.Background()

	// Bucket starts full: first three requests pass without waiting.
	for i := 0; i < 3; i++ {
		if err := r.Acquire(ctx, "sess-a", 1); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if len(clk.slept) != 0 {
		t.Fatalf("burst requests should not wait, slept %v", clk.slept)
	}

	// Fourth and fifth requests each wait for one token to refill.
	for i := 0; i < 2; i++ {
		if err := r.Acquire(ctx, "sess-a", 1); err != nil {
			t.Fatalf("request %d: %v", i+4, err)
		}
	}
	if len(clk.slept) != 2 {
		t.Fatalf("expected 2 waits, got %v", clk.slept)
	}
	for _, d := range clk.slept {
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Errorf("expected ~1s wait, got %v", d)
		}
	}
}

func TestRateLimiterRejectsBeyondMaxWait(t *testing.T) {
	clk := newFakeClock()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillRate: 0.1, MaxWait: 5 * time.Second})
	clk.install(r)

	ctx := context.Background()
	if err := r.Acquire(ctx, "sess-a", 1); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Refilling one token takes 10s, beyond the 5s ceiling.
	err := r.Acquire(ctx, "sess-a", 1)
	if !errors.Is(err, models.NewRateLimited()) {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	if len(clk.slept) != 0 {
		t.Errorf("over-ceiling request should not sleep, slept %v", clk.slept)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	clk := newFakeClock()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillRate: 0.1, MaxWait: time.Second})
	clk.install(r)

	ctx := context.Background()
	if err := r.Acquire(ctx, "sess-a", 1); err != nil {
		t.Fatalf("sess-a: %v", err)
	}
	if err := r.Acquire(ctx, "sess-b", 1); err != nil {
		t.Fatalf("sess-b should have its own bucket: %v", err)
	}
}

func TestRateLimiterRefillCapsAtCapacity(t *testing.T) {
	clk := newFakeClock()
	r := NewRateLimiter(RateLimiterConfig{Capacity: 2, RefillRate: 1, MaxWait: time.Second})
	clk.install(r)

	ctx := context.Background()
	if err := r.Acquire(ctx, "sess-a", 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A long idle period refills to capacity, not beyond.
	clk.now = clk.now.Add(time.Hour)
	if got := r.Tokens("sess-a"); got != 2 {
		t.Errorf("Tokens() = %v, want capacity 2", got)
	}
}

func TestRateLimiterContextCancelledWhileWaiting(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Capacity: 1, RefillRate: 1, MaxWait: 5 * time.Second})

	ctx := context.Background()
	if err := r.Acquire(ctx, "sess-a", 1); err != nil {
		t.Fatalf("first request: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := r.Acquire(cancelled, "sess-a", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
