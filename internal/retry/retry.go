// Package retry provides a retry combinator with exponential backoff for
// calls to transient-failure-prone external dependencies.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// ErrRetryable marks an error as safe to retry. External clients wrap
// transient failures with Mark so the combinator can distinguish them
// from terminal errors.
var ErrRetryable = errors.New("retryable error")

// Mark wraps err so that Retryable reports it as transient.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// Retryable reports whether err has been marked transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// Default retry parameters.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultBase         = 2.0
)

// Config is an immutable value describing retry behavior.
// The zero value is not valid; use DefaultConfig or construct explicitly.
type Config struct {
	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Base is the exponential backoff base.
	Base float64
	// Jitter randomizes each delay to [0.5, 1.0] x the computed value.
	Jitter bool
	// IsRetryable decides whether an error triggers a retry.
	// Nil means Retryable (only errors marked with Mark are retried).
	IsRetryable func(error) bool
	// Logger for retry attempts. Nil means slog.Default().
	Logger *slog.Logger
	// Sleep is overridable for tests. Nil means a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns a Config with the documented defaults and jitter on.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Base:         DefaultBase,
		Jitter:       true,
	}
}

// Validate checks that the config values are usable.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0 (got %d)", c.MaxRetries)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("InitialDelay must be >= 0 (got %s)", c.InitialDelay)
	}
	if c.MaxDelay <= 0 {
		return fmt.Errorf("MaxDelay must be > 0 (got %s)", c.MaxDelay)
	}
	if c.Base < 1 {
		return fmt.Errorf("Base must be >= 1 (got %g)", c.Base)
	}
	return nil
}

// Delay returns the backoff delay for a 0-indexed attempt:
// min(InitialDelay * Base^attempt, MaxDelay), jittered to
// [0.5, 1.0] x that value when Jitter is enabled.
func (c Config) Delay(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialDelay) * pow(c.Base, attempt))
	if d > c.MaxDelay || d < 0 {
		d = c.MaxDelay
	}
	if c.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

// pow is an integer-exponent power; avoids importing math for one call.
func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// Op is an operation that may fail transiently.
type Op func(ctx context.Context) error

// Do runs op, retrying per cfg. Non-retryable errors propagate
// immediately. After exhausting retries the last error is returned;
// a terminal failure is never swallowed. Context cancellation aborts
// the backoff wait and returns ctx.Err().
func Do(ctx context.Context, cfg Config, name string, op Op) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	isRetryable := cfg.IsRetryable
	if isRetryable == nil {
		isRetryable = Retryable
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			logger.Error("retries exhausted",
				"op", name,
				"attempts", attempt+1,
				"error", err)
			return lastErr
		}

		delay := cfg.Delay(attempt)
		logger.Warn("retrying after transient failure",
			"op", name,
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// Wrap returns a new Op with retry behavior baked in, so call sites can
// pass the wrapped operation around without carrying the config.
func Wrap(cfg Config, name string, op Op) Op {
	return func(ctx context.Context) error {
		return Do(ctx, cfg, name, op)
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
