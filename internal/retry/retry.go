// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts and reports the outcome as a value.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted wraps the last error once every attempt has failed
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures Do
type Policy struct {
	MaxAttempts int           // total attempts including the first; <1 means 1
	Backoff     time.Duration // fixed pause between attempts

	// OnRetry, if set, is called after each failed attempt that will be retried
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Result is the outcome of Do
type Result struct {
	Attempts int
	Err      error
}

// OK reports whether the operation eventually succeeded
func (r Result) OK() bool {
	return r.Err == nil
}

// Do runs op until it succeeds, the attempts run out, or ctx is done
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) Result {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Backoff)
	b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return op(ctx)
	}, b, func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}
	})

	if err == nil {
		return Result{Attempts: attempts}
	}
	if ctx.Err() != nil {
		return Result{Attempts: attempts, Err: err}
	}
	return Result{
		Attempts: attempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err),
	}
}
