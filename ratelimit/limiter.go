// Package ratelimit throttles upstream calls with one token bucket per
// operation class.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Class groups endpoints sharing one rate budget.
type Class string

const (
	ClassAuth   Class = "auth"
	ClassData   Class = "data"
	ClassReport Class = "report"
)

// Limit is the number of requests admitted per Window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultLimits are the upstream's published budgets. Report endpoints are
// the scarcest.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassAuth:   {MaxRequests: 10, Window: time.Second},
		ClassData:   {MaxRequests: 5, Window: time.Second},
		ClassReport: {MaxRequests: 2, Window: time.Second},
	}
}

type bucket struct {
	limit      Limit
	tokens     int
	lastRefill time.Time
}

type key struct {
	class  Class
	tenant string
}

// Limiter is a set of lazily created token buckets. The zero value is not
// usable; call New.
type Limiter struct {
	mu       sync.Mutex
	limits   map[Class]Limit
	fallback Limit
	buckets  map[key]*bucket

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(class Class, d time.Duration)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimit overrides the limit of one class.
func WithLimit(class Class, limit Limit) Option {
	return func(l *Limiter) { l.limits[class] = limit }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the context-aware sleep used while waiting for a token.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithWaitObserver is called every time a caller has to suspend.
func WithWaitObserver(fn func(class Class, d time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// New creates a Limiter with DefaultLimits. Classes without a configured
// limit share the data limit.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		limits:  DefaultLimits(),
		buckets: make(map[key]*bucket),
		now:     time.Now,
		sleep:   Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.fallback = l.limits[ClassData]
	return l
}

// Wait blocks until the class bucket has a token, then spends it.
func (l *Limiter) Wait(ctx context.Context, class Class) error {
	return l.WaitFor(ctx, class, "")
}

// WaitFor is Wait on a bucket private to tenant. An empty tenant selects the
// process-wide bucket of the class.
func (l *Limiter) WaitFor(ctx context.Context, class Class, tenant string) error {
	for {
		l.mu.Lock()
		b := l.bucketLocked(key{class: class, tenant: tenant})
		l.refillLocked(b)
		if b.tokens >= 1 {
			b.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := waitDuration(b)
		l.mu.Unlock()

		if l.onWait != nil {
			l.onWait(class, wait)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Tokens returns the number of tokens currently in the bucket.
func (l *Limiter) Tokens(class Class, tenant string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucketLocked(key{class: class, tenant: tenant}).tokens
}

func (l *Limiter) bucketLocked(k key) *bucket {
	b, ok := l.buckets[k]
	if !ok {
		limit, known := l.limits[k.class]
		if !known {
			limit = l.fallback
		}
		b = &bucket{limit: limit, tokens: limit.MaxRequests, lastRefill: l.now()}
		l.buckets[k] = b
	}
	return b
}

// refillLocked adds floor(elapsed/window * max) tokens, capped at max, and
// resets lastRefill to now. Time short of one token leaves lastRefill alone;
// the remainder past the last whole token is dropped.
func (l *Limiter) refillLocked(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 || b.limit.Window <= 0 {
		return
	}

	var add int64
	if elapsed >= b.limit.Window {
		add = int64(b.limit.MaxRequests)
	} else {
		add = int64(elapsed) * int64(b.limit.MaxRequests) / int64(b.limit.Window)
	}
	if add <= 0 {
		return
	}

	b.tokens = min(b.tokens+int(add), b.limit.MaxRequests)
	b.lastRefill = now
}

// waitDuration is ceil((1 - tokens) / max * window).
func waitDuration(b *bucket) time.Duration {
	if b.limit.MaxRequests <= 0 {
		return b.limit.Window
	}
	missing := int64(1 - b.tokens)
	num := missing * int64(b.limit.Window)
	den := int64(b.limit.MaxRequests)
	return time.Duration((num + den - 1) / den)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
