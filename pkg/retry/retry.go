// Package retry provides the bounded exponential-backoff wrapper used for
// every outbound vendor call, with per-call timeouts and HTTP-aware error
// classification.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config controls the retry schedule and the per-call deadline.
type Config struct {
	// MaxAttempts is the total number of calls (initial + retries).
	MaxAttempts int
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
	// CallTimeout is the deadline applied to each individual call.
	CallTimeout time.Duration
}

// DefaultConfig matches the analyzer schedule: 3 attempts, 1s/2s/4s backoff
// capped at 10s, 30s per call.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// Do runs op with the configured schedule. Each call gets its own timeout;
// non-retryable errors abort immediately. The last error is returned when all
// attempts are exhausted.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempt := func() error {
		callCtx := ctx
		if cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
			defer cancel()
		}
		err := op(callCtx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(attempt,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), ctx))
}

// IsRetryable classifies an error for the retry loop: rate limits (429),
// server errors (5xx), and timeouts retry; auth failures and other client
// errors do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// The caller cancelling is never retryable.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Per-call deadline expiry is a transient condition.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}

	// Unknown errors are not safe to retry.
	return false
}
