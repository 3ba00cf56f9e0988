package core

// retry.go implements retry with exponential backoff and jitter.
//
// An attempt's error is classified before any wait: non-retryable errors are
// returned at once, retryable ones wait
//
//	min(InitialDelay * BackoffMultiplier^(attempt-1) * (1 + U[0, 0.3)), MaxDelay)
//
// and try again, for at most MaxRetries+1 attempts in total.

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Retry defaults.
const (
	DefaultMaxRetries        = 3
	DefaultInitialDelay      = time.Second
	DefaultMaxDelay          = 10 * time.Second
	DefaultBackoffMultiplier = 2.0

	// maxJitter is the largest fraction added on top of the exponential delay.
	maxJitter = 0.3
)

// RetryOptions configures WithRetry. Start from DefaultRetryOptions: a zero
// MaxRetries means a single attempt, while zero delays and multiplier fall
// back to the defaults.
type RetryOptions struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// RetryableErrors extends the built-in allow-list. Each entry matches an
	// error message case-insensitively or an HTTP status code exactly.
	RetryableErrors []string

	// OnRetry runs before each wait. When nil a warning is logged instead.
	OnRetry func(err error, attempt int)

	// Sleep and Rand replace the wall clock and jitter source in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// DefaultRetryOptions returns 3 retries starting at 1s, capped at 10s, doubling.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:        DefaultMaxRetries,
		InitialDelay:      DefaultInitialDelay,
		MaxDelay:          DefaultMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	return o
}

// RetryExhaustedError is returned once every retry has failed.
type RetryExhaustedError struct {
	Retries int
	Err     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d retries: %v", e.Retries, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// WithRetry calls fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. Cancelling ctx stops any pending wait.
func WithRetry[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts RetryOptions) (T, error) {
	opts = opts.withDefaults()
	var zero T

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		if attempt > opts.MaxRetries {
			return zero, &RetryExhaustedError{Retries: opts.MaxRetries, Err: err}
		}

		if ctx.Err() != nil || !IsRetryable(err, opts.RetryableErrors) {
			return zero, err
		}

		delay := backoffDelay(attempt, opts, opts.Rand())

		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		} else {
			slog.Warn("retrying operation",
				"attempt", attempt,
				"max_retries", opts.MaxRetries,
				"delay_ms", delay.Milliseconds(),
				"error", err,
			)
		}

		if serr := opts.Sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("retry aborted after attempt %d: %w (last error: %v)", attempt, serr, err)
		}
	}
}

// backoffDelay returns the wait after the given 1-based attempt. jitter is a
// uniform sample in [0, 1) scaled to at most 30% of the exponential delay.
func backoffDelay(attempt int, opts RetryOptions, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(opts.InitialDelay) * math.Pow(opts.BackoffMultiplier, float64(attempt-1))
	d := exp * (1 + jitter*maxJitter)
	if d > float64(opts.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return opts.MaxDelay
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryable wraps fn so every call goes through WithRetry with opts.
func Retryable[A, T any](fn func(ctx context.Context, arg A) (T, error), opts RetryOptions) func(ctx context.Context, arg A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		return WithRetry(ctx, func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		}, opts)
	}
}

// BatchRetryOptions configures WithBatchRetry.
type BatchRetryOptions struct {
	RetryOptions
	ContinueOnError bool
}

// WithBatchRetry runs each operation in order, each with its own retry budget.
// Without ContinueOnError the first final failure is returned and the
// remaining operations are not run.
func WithBatchRetry[T any](ctx context.Context, ops []func(ctx context.Context) (T, error), opts BatchRetryOptions) ([]BatchResult[T], error) {
	results := make([]BatchResult[T], 0, len(ops))
	for i, op := range ops {
		v, err := WithRetry(ctx, op, opts.RetryOptions)
		if err != nil {
			if !opts.ContinueOnError {
				return results, err
			}
			results = append(results, BatchResult[T]{Err: err, Index: i})
			continue
		}
		results = append(results, BatchResult[T]{Success: true, Result: v, Index: i})
	}
	return results, nil
}
