package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/class-grouper/pkg/circuitbreaker"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

type scriptedLimiter struct {
	calls int
	err   error
	res   Result
}

func (s *scriptedLimiter) Allow(context.Context, string) (Result, error) {
	s.calls++
	return s.res, s.err
}

func TestFallback_UsesPrimaryWhenHealthy(t *testing.T) {
	primary := &scriptedLimiter{res: Result{Allowed: true, Limit: 10, Remaining: 9}}
	secondary := &scriptedLimiter{res: Result{Allowed: false}}
	f := NewFallback(primary, secondary, DefaultFallbackConfig(), logger.Nop())

	res, err := f.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
	assert.Equal(t, 0, secondary.calls)
}

func TestFallback_SecondaryAnswersOnError(t *testing.T) {
	primary := &scriptedLimiter{err: errors.New("connection refused")}
	secondary := &scriptedLimiter{res: Result{Allowed: true, Limit: 5, Remaining: 4}}
	f := NewFallback(primary, secondary, DefaultFallbackConfig(), logger.Nop())

	res, err := f.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallback_BreakerSkipsPrimary(t *testing.T) {
	primary := &scriptedLimiter{err: errors.New("timeout")}
	secondary := NewLocal(100, time.Minute)
	f := NewFallback(primary, secondary, FallbackConfig{FailureThreshold: 2, CoolDown: time.Hour}, logger.Nop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		res, err := f.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, circuitbreaker.StateOpen, f.State())
}

func TestFallback_CanceledRequestsDoNotOpenBreaker(t *testing.T) {
	primary := &scriptedLimiter{err: context.Canceled}
	secondary := NewLocal(100, time.Minute)
	f := NewFallback(primary, secondary, FallbackConfig{FailureThreshold: 2, CoolDown: time.Hour}, logger.Nop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.Allow(ctx, "k")
		require.NoError(t, err)
	}

	assert.Equal(t, 5, primary.calls)
	assert.Equal(t, circuitbreaker.StateClosed, f.State())
}
