// Package retry runs an operation until it succeeds or a bounded number of
// attempts is used up, sleeping between attempts.
//
// The profiler uses it to wait for in-flight interrupt handlers before
// swapping capture buffers: the wait is bounded so a wedged handler can
// never hang Stop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrConditionNotMet is returned by Until when the condition never held.
var ErrConditionNotMet = errors.New("condition not met")

// Config defines attempts and backoff.
type Config struct {
	// MaxRetries is the maximum number of attempts. Must be positive.
	MaxRetries int

	// InitialBackoff is the sleep before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the sleep. Zero means no cap.
	MaxBackoff time.Duration

	// Multiplier grows the sleep after each attempt. Values below one
	// default to 2; exactly one gives a constant backoff.
	Multiplier float64
}

// Constant returns a config sleeping interval between up to attempts tries.
func Constant(attempts int, interval time.Duration) Config {
	return Config{
		MaxRetries:     attempts,
		InitialBackoff: interval,
		MaxBackoff:     interval,
		Multiplier:     1,
	}
}

// ShouldRetryFunc reports whether err is worth another attempt. A nil
// ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it returns nil, shouldRetry rejects its error, the
// attempts run out or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(Backoff(cfg, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// Until polls cond with the backoff of cfg and reports whether it held.
func Until(ctx context.Context, cfg Config, cond func() bool) error {
	return Do(ctx, cfg, func() error {
		if cond() {
			return nil
		}
		return ErrConditionNotMet
	}, nil)
}

// Backoff returns the sleep before the given attempt (1-based).
func Backoff(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 2
	}
	backoff := time.Duration(math.Pow(mult, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	return backoff
}
