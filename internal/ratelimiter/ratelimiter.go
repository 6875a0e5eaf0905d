package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter spaces calls that share a key (a hub host) by at least
// interval. Calls with different keys do not wait for each other.
type RateLimiter struct {
	interval time.Duration
	lastSent map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
	log      *slog.Logger
}

func New(interval time.Duration, log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		interval: max(interval, 0),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
		log:      log,
	}
}

// Wait blocks until a call for key may proceed and reserves that slot.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	delay := rl.reserve(key)
	if delay <= 0 {
		return nil
	}

	rl.log.DebugContext(ctx, "Rate limiting hub request",
		"key", key,
		"delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rl *RateLimiter) reserve(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	next := now

	if lastSent, exists := rl.lastSent[key]; exists {
		next = maxTime(now, lastSent.Add(rl.interval))
	}

	rl.lastSent[key] = next

	return next.Sub(now)
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
