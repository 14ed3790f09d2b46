package tool

import (
	"context"
	"errors"
	"net"
	"time"
)

// RetryPolicy bounds how often an HTTP-backed tool call is attempted.
// Backoff grows linearly: attempt n waits n*Backoff before the next try.
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	Backoff     time.Duration `json:"backoff,omitempty" yaml:"backoff,omitempty"`
}

type attemptFunc func(ctx context.Context, attempt int) (any, error)

// retryHook is told about each failed attempt that will be retried.
type retryHook func(attempt int, err error)

func callWithRetry(ctx context.Context, policy RetryPolicy, onRetry retryHook, fn attemptFunc) (any, int, error) {
	normalized := normalizeRetryPolicy(policy)
	var lastErr error

	for attempt := 1; attempt <= normalized.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if attempt == normalized.MaxAttempts || !isRetryableError(err) {
			return nil, attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		wait := retryBackoffDuration(normalized, attempt)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, normalized.MaxAttempts, lastErr
}

func normalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	out := policy
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.Backoff < 0 {
		out.Backoff = 0
	}
	return out
}

func retryBackoffDuration(policy RetryPolicy, attempt int) time.Duration {
	if policy.Backoff <= 0 || attempt <= 0 {
		return 0
	}
	return policy.Backoff * time.Duration(attempt)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if callErr, ok := callErrorFrom(err); ok {
		return callErr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
