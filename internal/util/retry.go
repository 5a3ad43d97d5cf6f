package util

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy controls the context-aware retry helpers.
// MaxTries <= 0 means a single attempt. A nil RetryIf retries every error.
type RetryPolicy struct {
	MaxTries int
	Backoff  time.Duration
	RetryIf  func(error) bool
}

func (p RetryPolicy) tries() int {
	if p.MaxTries <= 0 {
		return 1
	}
	return p.MaxTries
}

func (p RetryPolicy) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.RetryIf == nil {
		return true
	}
	return p.RetryIf(err)
}

// wait sleeps for the linear backoff of attempt i or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context, i int) error {
	if p.Backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Backoff * time.Duration(i+1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn up to maxTries times until it returns a nil error.
// If maxTries <= 0, it defaults to 1. Returns the last error if all attempts fail.
func Retry[T any](maxTries int, fn func() (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryWithContext calls fn until it succeeds, the policy gives up, or ctx is done.
// Context errors are never retried.
func RetryWithContext[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	tries := p.tries()
	for i := 0; i < tries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !p.shouldRetry(err) {
			return zero, err
		}
		lastErr = err
		if i < tries-1 {
			if werr := p.wait(ctx, i); werr != nil {
				return zero, werr
			}
		}
	}
	return zero, lastErr
}

// RetryErrWithContext is RetryWithContext for functions without a result.
func RetryErrWithContext(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
