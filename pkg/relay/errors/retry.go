package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool

	// OnRetry is called before sleeping ahead of attempt number next.
	OnRetry func(next int, err error, backoff time.Duration)
}

// DefaultRetry is the standard retry configuration.
// Every attempt is a fresh request with its own timeout, so backoff stays short.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// RetryResult contains the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent retrying.
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, fails permanently, or
// cfg.MaxAttempts calls have been made. Cancellation of ctx, before an
// attempt or while backing off, ends the loop with a permanent error.
func WithRetryContext[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(context.Context) (T, error),
) RetryResult[T] {
	start := time.Now()
	limit := max(cfg.MaxAttempts, 1)
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	fail := func(attempts int, err error, cat Category, note string) RetryResult[T] {
		return RetryResult[T]{
			Err:      &CategorizedError{Err: err, Category: cat, Retries: attempts, Context: note},
			Attempts: attempts,
			Duration: time.Since(start),
		}
	}

	wait := cfg.InitialBackoff
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return fail(n-1, err, CategoryPermanent, "context cancelled")
		}

		v, err := fn(ctx)
		switch {
		case err == nil:
			return RetryResult[T]{Value: v, Attempts: n, Duration: time.Since(start)}
		case !retryable(err):
			return fail(n, err, Categorize(err), "")
		case n == limit:
			return fail(n, err, Categorize(err), "max retries exceeded")
		}

		d := calculateBackoff(wait, cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(n+1, err, d)
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fail(n, ctx.Err(), CategoryPermanent, "context cancelled during backoff")
		case <-t.C:
		}

		wait = time.Duration(float64(wait) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 {
			wait = min(wait, cfg.MaxBackoff)
		}
	}
}

// calculateBackoff spreads base by up to jitter in either direction.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	spread := float64(base) * jitter
	return base + time.Duration(spread*(2*rand.Float64()-1))
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.MaxBackoff = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.Jitter = j
	}
}

// WithOnRetry sets a callback invoked before each retry.
func WithOnRetry(fn func(next int, err error, backoff time.Duration)) RetryOption {
	return func(cfg *RetryConfig) {
		cfg.OnRetry = fn
	}
}

// NewRetryConfig creates a retry configuration with the given options.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
