// Package ratelimit implements a per-user token bucket. Thread-safe, no
// background goroutines; buckets refill lazily on each Allow call.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a user has exhausted their bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the token bucket limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited.
	BurstSize         int // Maximum tokens in a bucket. 0 = RequestsPerMinute.
}

// Limiter rate-limits render and answer requests per chat user. Each user
// gets an independent bucket, so one user cannot exhaust another's quota.
type Limiter struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	rate    float64 // tokens per second
	burst   float64

	now func() time.Time // test seam
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a limiter. With RequestsPerMinute 0, Allow always
// succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[int64]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow consumes one token from the user's bucket, or returns
// ErrRateLimited when it is empty.
func (l *Limiter) Allow(userID int64) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok {
		// First request starts with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[userID] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// Prune drops buckets idle long enough to have refilled completely. They
// are indistinguishable from fresh buckets, so dropping them only bounds
// memory.
func (l *Limiter) Prune(idleFor time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleFor)
	pruned := 0
	for id, b := range l.buckets {
		if b.lastFill.Before(cutoff) {
			delete(l.buckets, id)
			pruned++
		}
	}
	return pruned
}
