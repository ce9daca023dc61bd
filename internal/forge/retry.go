package forge

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// RetryOptions configures exponential backoff retry.
type RetryOptions struct {
	MaxAttempts int           // total attempts including the first (default 3)
	BaseDelay   time.Duration // delay before the first retry (default 500ms)
	Factor      float64       // backoff multiplier per attempt (default 2)
	Jitter      float64       // +/- fraction applied to each delay (default 0.5)
}

// DefaultRetryOptions matches the backoff policy: base 0.5s, factor 2,
// max 3 attempts, +/-50% jitter.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.5,
	}
}

// WithRetry runs op, retrying connection failures and 5xx responses with
// exponential backoff and jitter. A KindRateLimited error (every 429
// response), other non-retryable errors and context cancellation return
// immediately.
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	var result T
	var lastErr error

	delay := opts.BaseDelay
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}

		if rl, ok := lastErr.(*Error); ok && rl.Kind == KindRateLimited {
			return result, lastErr
		}
		if !isRetryable(lastErr) || attempt == opts.MaxAttempts {
			return result, lastErr
		}

		wait := jittered(delay, opts.Jitter)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * opts.Factor)
	}

	return result, lastErr
}

// WithRetryVoid is WithRetry for operations with no return value.
func WithRetryVoid(ctx context.Context, op func() error, opts RetryOptions) error {
	_, err := WithRetry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, opts)
	return err
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(d) * (1 + delta))
}

func isRetryable(err error) bool {
	if fe, ok := err.(*Error); ok {
		switch fe.Kind {
		case KindNetwork:
			return true
		case KindAuth, KindConfig, KindMergeConflict, KindNotFound:
			return false
		}
		if fe.Status == 429 || fe.Status == 500 || fe.Status == 502 || fe.Status == 503 || fe.Status == 504 {
			return true
		}
		return false
	}

	errLower := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "no such host",
		"network is unreachable", "i/o timeout", "dial tcp"} {
		if strings.Contains(errLower, s) {
			return true
		}
	}
	return false
}
