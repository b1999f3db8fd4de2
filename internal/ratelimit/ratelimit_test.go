package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Burst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 6, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow(42); err != nil {
			t.Fatalf("request %d within burst denied: %v", i+1, err)
		}
	}
	if err := l.Allow(42); !errors.Is(err, ErrRateLimited) {
		t.Errorf("request past burst allowed, err = %v", err)
	}
}

func TestAllow_Refill(t *testing.T) {
	now := time.Now()
	l := NewLimiter(Config{RequestsPerMinute: 6, BurstSize: 1})
	l.now = func() time.Time { return now }

	if err := l.Allow(1); err != nil {
		t.Fatalf("first request denied: %v", err)
	}
	if err := l.Allow(1); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("empty bucket allowed, err = %v", err)
	}

	// 6/min refills one token in 10 seconds.
	now = now.Add(10 * time.Second)
	if err := l.Allow(1); err != nil {
		t.Errorf("refilled bucket denied: %v", err)
	}
}

func TestAllow_IndependentUsers(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 6, BurstSize: 1})

	if err := l.Allow(1); err != nil {
		t.Fatalf("user 1 denied: %v", err)
	}
	if err := l.Allow(1); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("user 1 not limited")
	}
	if err := l.Allow(2); err != nil {
		t.Errorf("user 2 starved by user 1: %v", err)
	}
}

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow(7); err != nil {
			t.Fatalf("unlimited limiter denied request %d: %v", i+1, err)
		}
	}
}

func TestPrune(t *testing.T) {
	now := time.Now()
	l := NewLimiter(Config{RequestsPerMinute: 6, BurstSize: 1})
	l.now = func() time.Time { return now }

	l.Allow(1)
	now = now.Add(2 * time.Hour)
	l.Allow(2)

	if pruned := l.Prune(time.Hour); pruned != 1 {
		t.Errorf("Prune = %d, want 1", pruned)
	}
	// The pruned user starts over with a full bucket.
	if err := l.Allow(1); err != nil {
		t.Errorf("pruned user denied: %v", err)
	}
}
