// Package ratelimit provides per-client request limiting for the HTTP API.
// Local keeps token buckets in process; the Redis implementation in
// persistence/redis shares a fixed window across instances, and Fallback
// switches between the two when Redis fails.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed bool

	// Limit is the configured number of requests per window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// RetryAfter is how long a rejected client should wait.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

const (
	// idleTTL is how long an unused bucket is kept.
	idleTTL = 10 * time.Minute

	// sweepEvery is the number of Allow calls between idle bucket sweeps.
	sweepEvery = 1024
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local is an in-process Limiter with one token bucket per key. Buckets
// refill continuously at limit/window and hold at most limit tokens.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	every   rate.Limit
	calls   int
	now     func() time.Time
}

// NewLocal creates a Local limiter allowing limit requests per window.
func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Local{
		buckets: make(map[string]*bucket),
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		now:     time.Now,
	}
}

// Allow implements Limiter. It never returns an error.
func (l *Local) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := Result{Limit: l.limit}
	if b.limiter.AllowN(now, 1) {
		res.Allowed = true
		res.Remaining = int(b.limiter.TokensAt(now))
		return res, nil
	}

	r := b.limiter.ReserveN(now, 1)
	res.RetryAfter = r.DelayFrom(now)
	r.CancelAt(now)
	return res, nil
}

// Len returns the number of tracked keys.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Local) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(l.buckets, key)
		}
	}
}
