package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/class-grouper/internal/infrastructure/ratelimit"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXED WINDOW RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter counts requests per key in fixed windows shared by every
// instance using the same Redis.
type RateLimiter struct {
	client *Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(client *Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow implements ratelimit.Limiter. The counter is incremented and its
// expiry set in one pipeline.
func (l *RateLimiter) Allow(ctx context.Context, key string) (ratelimit.Result, error) {
	if key == "" {
		return ratelimit.Result{}, ErrKeyEmpty
	}

	now := l.now()
	windowID := now.UnixNano() / int64(l.window)
	windowEnd := time.Unix(0, (windowID+1)*int64(l.window))
	redisKey := RateLimitKey(key, windowID)

	var incr *redis.IntCmd
	_, err := l.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("redis rate limit: %w", err)
	}

	count := int(incr.Val())
	res := ratelimit.Result{Limit: l.limit}
	if count <= l.limit {
		res.Allowed = true
		res.Remaining = l.limit - count
		return res, nil
	}

	res.RetryAfter = windowEnd.Sub(now)
	return res, nil
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)
