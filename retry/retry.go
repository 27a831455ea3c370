// Package retry re-invokes a failing call with bounded exponential backoff.
package retry

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	// MaxAttempts is the total number of invocations, not the number of
	// retries.
	MaxAttempts int
	BaseDelay   time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries every error three times in total, sleeping 1s and
// then 2s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Delay is the pause after failed attempt index i (0-based).
func (p Policy) Delay(i int) time.Duration {
	return p.BaseDelay << uint(i)
}

// Do invokes fn until it succeeds, the policy gives up, or ctx is done. The
// error of the last attempt is returned as is.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		d := p.Delay(i)
		if p.OnRetry != nil {
			p.OnRetry(i+1, d, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
