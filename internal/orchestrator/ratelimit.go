package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// RateLimiterConfig contains configuration options for the RateLimiter.
type RateLimiterConfig struct {
	// Capacity is the maximum number of tokens a bucket can hold.
	Capacity float64
	// RefillRate is how many tokens are added per second.
	RefillRate float64
	// MaxWait bounds how long an acquisition may wait for refill before
	// being rejected.
	MaxWait time.Duration
}

// DefaultRateLimiterConfig returns the default rate limiter settings.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Capacity:   10,
		RefillRate: 2,
		MaxWait:    5 * time.Second,
	}
}

// RateLimiter throttles spawn requests per requester key using token
// buckets. Buckets start full and refill continuously.
type RateLimiter struct {
	cfg RateLimiterConfig

	// mu protects buckets
	mu      sync.Mutex
	buckets map[string]*tokenBucket

	// now and sleep are injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// tokenBucket tracks the token balance for one requester key.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a RateLimiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Acquire takes n tokens from the requester's bucket, waiting for refill
// up to MaxWait. It returns a RATE_LIMITED error when the wait would
// exceed MaxWait, and the context error if ctx is cancelled while waiting.
func (r *RateLimiter) Acquire(ctx context.Context, key string, n float64) error {
	wait, err := r.tryTake(key, n)
	if err != nil {
		return err
	}
	if wait == 0 {
		return nil
	}

	if err := r.sleep(ctx, wait); err != nil {
		return err
	}

	// Tokens accrued while sleeping; retry once, another waiter may have
	// claimed them first.
	wait, err = r.tryTake(key, n)
	if err != nil {
		return err
	}
	if wait == 0 {
		return nil
	}
	return models.NewRateLimited()
}

// Tokens returns the current token balance for a requester key.
func (r *RateLimiter) Tokens(key string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucketLocked(key)
	r.refillLocked(b)
	return b.tokens
}

// tryTake attempts to take n tokens. It returns 0 on success, the
// required wait when the bucket will refill within MaxWait, and a
// RATE_LIMITED error when it will not.
func (r *RateLimiter) tryTake(key string, n float64) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucketLocked(key)
	r.refillLocked(b)

	if b.tokens >= n {
		b.tokens -= n
		return 0, nil
	}

	if r.cfg.RefillRate <= 0 {
		return 0, models.NewRateLimited()
	}

	deficit := n - b.tokens
	wait := time.Duration(deficit / r.cfg.RefillRate * float64(time.Second))
	if wait > r.cfg.MaxWait {
		return 0, models.NewRateLimited()
	}
	return wait, nil
}

// bucketLocked returns the bucket for a key, creating a full one on
// first use. Caller must hold mu.
func (r *RateLimiter) bucketLocked(key string) *tokenBucket {
	b, ok := r.buckets[key]
	if !ok {
		b = &tokenBucket{
			tokens:     r.cfg.Capacity,
			lastRefill: r.now(),
		}
		r.buckets[key] = b
	}
	return b
}

// refillLocked credits tokens accrued since the last refill. Caller must
// hold mu.
func (r *RateLimiter) refillLocked(b *tokenBucket) {
	now := r.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * r.cfg.RefillRate
	if b.tokens > r.cfg.Capacity {
		b.tokens = r.cfg.Capacity
	}
	b.lastRefill = now
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
