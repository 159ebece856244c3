// Package resilience provides reliability patterns for certpilot's
// external-process calls: bounded retries for flaky collaborators and
// a circuit breaker for the ACME endpoint.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts  uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the defaults used for short local
// operations (artifact polling, nginx reload).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Retry executes an operation with exponential backoff, respecting
// context cancellation between attempts.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		b.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	}

	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx)
	return backoff.Retry(op, policy)
}

// Permanent marks an error as non-retryable so Retry stops immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsContextErr reports whether a retry failure was caused by the
// context rather than the operation itself.
func IsContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
