package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window counter keyed by client. Suitable for a
// single process; multi-instance deployments use the Redis limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Take(ctx context.Context, clientID string, tier Tier) (*Result, error) {
	limit := Limit(tier)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[clientID]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(window)}
		l.buckets[clientID] = b
	}
	b.count++

	return standing(limit, b.count, b.resetAt, now), nil
}

// standing converts a window count into the shaping result. Requests past
// the allowance are spread across full windows instead of refused.
func standing(limit, count int, resetAt, now time.Time) *Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	var delay time.Duration
	if count > limit {
		windowsOver := (count - 1) / limit
		delay = resetAt.Add(time.Duration(windowsOver-1) * window).Sub(now)
		if delay < 0 {
			delay = 0
		}
	}

	return &Result{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Delay:     delay,
	}
}
