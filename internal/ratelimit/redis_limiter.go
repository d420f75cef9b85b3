package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared across instances. Each
// client gets one key per window, expired by Redis itself.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Take(ctx context.Context, clientID string, tier Tier) (*Result, error) {
	limit := Limit(tier)
	key := fmt.Sprintf("%s:%s", l.prefix, clientID)
	now := time.Now()

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	count := int(incr.Val())
	resetAt := now.Add(ttl.Val())
	if ttl.Val() <= 0 {
		resetAt = now.Add(window)
	}

	return standing(limit, count, resetAt, now), nil
}
