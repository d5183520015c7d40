package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often a transient source failure is retried. The
// wait doubles after every attempt up to MaxBackoff.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         bool
}

// DefaultRetryPolicy returns the policy used for source fetches.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: time.Second,
		MaxBackoff:     15 * time.Second,
		Jitter:         true,
	}
}

// RetryableError marks a transient failure such as a 5xx response or a
// network error. Everything else is permanent.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as transient.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked transient.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// RetryFunc is told about each retry before the wait starts.
type RetryFunc func(attempt int, wait time.Duration, err error)

// Retry calls fn until it succeeds, fails permanently or the policy runs
// out. onRetry may be nil.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error, onRetry RetryFunc) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt >= policy.MaxRetries {
			break
		}

		wait := backoff(policy, attempt)
		if onRetry != nil {
			onRetry(attempt+1, wait, lastErr)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	return fmt.Errorf("gave up after %d retries: %w", policy.MaxRetries, lastErr)
}

// backoff returns InitialBackoff doubled attempt times, capped at MaxBackoff,
// with up to 10% jitter either way.
func backoff(policy RetryPolicy, attempt int) time.Duration {
	wait := policy.InitialBackoff
	for i := 0; i < attempt; i++ {
		wait *= 2
		if policy.MaxBackoff > 0 && wait >= policy.MaxBackoff {
			wait = policy.MaxBackoff
			break
		}
	}
	if policy.MaxBackoff > 0 && wait > policy.MaxBackoff {
		wait = policy.MaxBackoff
	}

	if policy.Jitter {
		wait += time.Duration(float64(wait) * 0.1 * (2*rand.Float64() - 1))
	}
	return wait
}
