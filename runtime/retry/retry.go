// Package retry provides the retry policy applied to classified transient
// failures: exponential backoff with jitter, a pluggable retryability
// classifier, and a structured exhaustion error.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

type (
	// Config configures retry behavior.
	Config struct {
		// MaxAttempts is the maximum number of attempts, including the
		// initial attempt. A value of 0 or 1 means no retries.
		MaxAttempts int
		// InitialBackoff is the delay before the first retry.
		InitialBackoff time.Duration
		// MaxBackoff is the maximum delay between retries.
		MaxBackoff time.Duration
		// BackoffMultiplier is the factor by which the backoff increases
		// after each retry. A value of 2.0 provides exponential backoff.
		BackoffMultiplier float64
		// Jitter adds randomness to the backoff to prevent thundering herd.
		// A value of 0.25 adds up to ±25% jitter.
		Jitter float64
		// Retryable classifies errors; only errors it accepts are retried.
		// Nil retries nothing.
		Retryable func(error) bool
		// OnAttempt, when set, observes each attempt number as it completes.
		OnAttempt func(attempt int)
	}

	// ExhaustedError is returned when all retry attempts are exhausted.
	ExhaustedError struct {
		// Attempts is the number of attempts made.
		Attempts int
		// TotalDuration is the total time spent including backoff waits.
		TotalDuration time.Duration
		// LastError is the error from the last attempt.
		LastError error
	}
)

// DefaultConfig returns the retry policy applied to model calls: three
// retries on a 500 ms exponential backoff with ±25% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       4,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.25,
	}
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

// Unwrap returns the underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// Do executes fn with the configured retry policy. fn is retried when the
// classifier accepts its error; other errors return immediately. Context
// cancellation during a backoff wait returns the context error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if cfg.Retryable == nil || !cfg.Retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return &ExhaustedError{
		Attempts:      maxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// backoff computes the delay for a given attempt: initial * multiplier^(n-1),
// capped at MaxBackoff, with symmetric jitter.
func backoff(cfg Config, attempt int) time.Duration {
	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(cfg.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if max := float64(cfg.MaxBackoff); max > 0 && d > max {
		d = max
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
	}
	return time.Duration(d)
}
