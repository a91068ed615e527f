package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/class-grouper/pkg/circuitbreaker"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

// Fallback sends requests to a shared primary limiter and switches to a
// secondary, usually Local, while the primary keeps failing. The breaker
// stops calls to the primary for a cool-down after repeated errors so a dead
// Redis does not add a timeout to every request.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	breaker   *circuitbreaker.Breaker
	log       *logger.Logger
}

// FallbackConfig tunes the breaker around the primary limiter.
type FallbackConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
}

// DefaultFallbackConfig opens after 3 failures and retries after 15s.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		FailureThreshold: 3,
		CoolDown:         15 * time.Second,
	}
}

// NewFallback wraps primary with a breaker and secondary as the backup.
func NewFallback(primary, secondary Limiter, cfg FallbackConfig, log *logger.Logger) *Fallback {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("ratelimit"))

	breaker := circuitbreaker.New("ratelimit-primary",
		circuitbreaker.WithFailureThreshold(cfg.FailureThreshold),
		circuitbreaker.WithSuccessThreshold(1),
		circuitbreaker.WithCoolDown(cfg.CoolDown),
		// A client hanging up says nothing about Redis.
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("rate limiter breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	)

	return &Fallback{
		primary:   primary,
		secondary: secondary,
		breaker:   breaker,
		log:       log,
	}
}

// Allow implements Limiter. Errors from the primary are not returned; the
// secondary answers instead.
func (f *Fallback) Allow(ctx context.Context, key string) (Result, error) {
	res, err := circuitbreaker.DoWithData(ctx, f.breaker, func(ctx context.Context) (Result, error) {
		return f.primary.Allow(ctx, key)
	})
	if err == nil {
		return res, nil
	}

	if !circuitbreaker.IsRejected(err) {
		f.log.Debug("primary rate limiter failed, using fallback", logger.Err(err))
	}
	return f.secondary.Allow(ctx, key)
}

// State returns the breaker state around the primary limiter.
func (f *Fallback) State() circuitbreaker.State {
	return f.breaker.State()
}
