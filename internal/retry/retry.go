// Package retry wraps interactions with the session in bounded retry loops.
// Only whitelisted transient failures are retried; anything else is returned
// on the first attempt, untouched.
package retry

import (
	"context"
	"fmt"
	"time"

	"courtcrawl/internal/session"

	"github.com/cenkalti/backoff/v4"
)

// InteractionError reports an operation that kept failing transiently until
// its attempt budget ran out.
type InteractionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }

// Policy is a fixed-budget retry policy with a constant or jittered delay.
type Policy struct {
	Attempts int
	Delay    time.Duration
	// Jitter randomizes each delay by +/- Jitter*Delay. Zero means constant.
	Jitter float64
	// Retryable decides which errors are transient. Defaults to
	// session.IsTransient.
	Retryable func(error) bool
	// Notify, if set, is called after every failed attempt that will be retried.
	Notify func(op string, attempt int, err error)
}

// Default is ten attempts one second apart.
func Default() Policy {
	return Policy{Attempts: 10, Delay: time.Second}
}

func (p Policy) backOff() backoff.BackOff {
	if p.Jitter <= 0 {
		return backoff.NewConstantBackOff(p.Delay)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Delay
	eb.MaxInterval = p.Delay
	eb.Multiplier = 1
	eb.RandomizationFactor = p.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// context ends, or the attempt budget is spent. In the last case the final
// error is wrapped in an *InteractionError.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = session.IsTransient
	}

	n := 0
	operation := func() error {
		n++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		if p.Notify != nil {
			p.Notify(op, n, err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || !retryable(err) {
		return err
	}
	return &InteractionError{Op: op, Attempts: n, Err: err}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
