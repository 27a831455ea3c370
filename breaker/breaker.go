// Package breaker guards upstream calls with a consecutive-failure circuit
// breaker built on sony/gobreaker.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"go.pilab.hu/ledger/log"
)

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}

// ErrCircuitOpen is matched by every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned without invoking the guarded call.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Name, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// StateObserver is notified on every transition.
type StateObserver func(name string, from, to State)

type settings struct {
	name      string
	threshold uint32
	reset     time.Duration
	observers []StateObserver
	logger    log.Logger
}

// Option configures a Breaker.
type Option func(*settings)

func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithFailureThreshold sets the consecutive failures that trip the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.threshold = uint32(n)
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before a trial call.
func WithResetTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.reset = d
		}
	}
}

func WithStateObserver(fn StateObserver) Option {
	return func(s *settings) { s.observers = append(s.observers, fn) }
}

func WithLogger(logger log.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// Breaker counts a guarded call as one success or failure. A call that
// ends in context cancellation is not counted at all.
type Breaker struct {
	cb    *gobreaker.CircuitBreaker[struct{}]
	name  string
	reset time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	openedAt    time.Time
}

// New creates a closed breaker.
func New(opts ...Option) *Breaker {
	s := settings{
		name:      "ledger",
		threshold: DefaultFailureThreshold,
		reset:     DefaultResetTimeout,
		logger:    log.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	b := &Breaker{name: s.name, reset: s.reset}
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        s.name,
		MaxRequests: 1,
		Timeout:     s.reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.threshold
		},
		IsSuccessful: func(err error) bool { return err == nil },
		IsExcluded:   isCancellation,
		OnStateChange: func(name string, from, to gobreaker.State) {
			f, t := fromGobreaker(from), fromGobreaker(to)
			if t == Open {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
			s.logger.Warn(context.Background(), "Circuit breaker changed state", log.Fields{
				"breaker": name,
				"from":    f.String(),
				"to":      t.String(),
			})
			for _, fn := range s.observers {
				fn(name, f, t)
			}
		},
	})
	return b
}

// isCancellation reports outcomes that prove nothing about the upstream.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Name of the breaker.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open. The error of fn is returned
// unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	called := false
	_, err := b.cb.Execute(func() (struct{}, error) {
		called = true
		return struct{}{}, fn(ctx)
	})
	if !called {
		return b.openError()
	}

	b.mu.Lock()
	switch {
	case isCancellation(err):
	case err == nil:
		b.failures = 0
	default:
		b.failures++
		b.lastFailure = time.Now()
	}
	b.mu.Unlock()
	return err
}

func (b *Breaker) openError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := &CircuitOpenError{Name: b.name}
	if !b.openedAt.IsZero() {
		if left := b.reset - time.Since(b.openedAt); left > 0 {
			e.RetryAfter = left
		}
	}
	return e
}

// State reports the current state. An open breaker whose reset timeout has
// elapsed reports HALF_OPEN.
func (b *Breaker) State() State { return fromGobreaker(b.cb.State()) }

// Failures is the number of consecutive failed calls.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastFailure is the instant of the most recent failed call.
func (b *Breaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}
