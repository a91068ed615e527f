// Package circuitbreaker stops calling a failing dependency for a while and
// lets a few probe calls through before trusting it again.
//
// The HTTP rate limiter uses it to stop waiting on Redis when Redis is down.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call until the cool-down passes.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned without calling the dependency while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrProbeLimit is returned when all half-open probe slots are taken.
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

// IsRejected reports whether err came from the breaker rather than the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrOpen) || errors.Is(err, ErrProbeLimit)
}

// StateChangeFunc is called after every transition, outside the breaker lock.
type StateChangeFunc func(name string, from, to State)

// Config holds breaker settings.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker. Default: 5
	FailureThreshold int

	// SuccessThreshold consecutive probe successes close it again. Default: 2
	SuccessThreshold int

	// CoolDown is how long the breaker stays open. Default: 30s
	CoolDown time.Duration

	// MaxProbes is the number of concurrent half-open calls. Default: 1
	MaxProbes int

	OnStateChange StateChangeFunc

	// IsFailure decides which errors count. Nil counts every non-nil error.
	IsFailure func(error) bool
}

// DefaultConfig returns the default settings for name.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		MaxProbes:        1,
	}
}

// Option configures a Breaker.
type Option func(*Config)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many probe successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithCoolDown sets how long the breaker stays open.
func WithCoolDown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CoolDown = d
		}
	}
}

// WithOnStateChange registers a transition callback.
func WithOnStateChange(fn StateChangeFunc) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithIsFailure sets the failure classifier.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		c.IsFailure = fn
	}
}

// Counts are running totals since the last Reset.
type Counts struct {
	Requests             int
	Rejected             int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// Breaker is safe for concurrent use.
type Breaker struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probes   int
}

// New creates a closed Breaker.
func New(name string, opts ...Option) *Breaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	return &Breaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Do calls fn unless the breaker rejects the call, and records the outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// DoWithData is Do for calls that return a value.
func DoWithData[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.CoolDown {
			b.counts.Rejected++
			b.mu.Unlock()
			return ErrOpen
		}
		notify := b.transition(StateHalfOpen)
		b.probes = 1
		b.counts.Requests++
		b.mu.Unlock()
		notify()
		return nil

	case StateHalfOpen:
		if b.probes >= b.config.MaxProbes {
			b.counts.Rejected++
			b.mu.Unlock()
			return ErrProbeLimit
		}
		b.probes++
	}

	b.counts.Requests++
	b.mu.Unlock()
	return nil
}

func (b *Breaker) record(err error) {
	failed := err != nil
	if failed && b.config.IsFailure != nil {
		failed = b.config.IsFailure(err)
	}

	b.mu.Lock()
	notify := func() {}

	if failed {
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			notify = b.transition(StateOpen)
			b.openedAt = b.now()
		}
	} else {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			if b.counts.ConsecutiveSuccesses >= b.config.SuccessThreshold {
				notify = b.transition(StateClosed)
			} else if b.probes > 0 {
				b.probes--
			}
		}
	}

	b.mu.Unlock()
	notify()
}

// transition must be called with mu held. The returned func runs the
// callback and must be called after unlocking.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return func() {}
	}

	b.state = to
	b.probes = 0
	if to != StateHalfOpen {
		b.counts.ConsecutiveSuccesses = 0
		b.counts.ConsecutiveFailures = 0
	}

	cb := b.config.OnStateChange
	if cb == nil {
		return func() {}
	}
	name := b.config.Name
	return func() { cb(name, from, to) }
}

// State returns the current state. An open breaker whose cool-down has
// passed still reports StateOpen until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the running totals.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears the counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.counts = Counts{}
	b.probes = 0
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.config.Name
}
