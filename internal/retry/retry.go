// Package retry implements exponential backoff with optional jitter for
// the bounded retries the merge bot needs: polling a PR's mergeable
// tri-state. The scheduler's error backoff is a fixed sleep and does not
// use this package.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cphillipson/mergebot/internal/logging"
)

// Config controls attempt count and backoff shape.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
	RetryIf        func(error) bool
}

// Default returns a generic 3-attempt, 1s-up-to-30s retry policy.
func Default() *Config {
	return &Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
		RetryIf:        func(err error) bool { return err != nil },
	}
}

// MergeablePollConfig doubles the delay from 1s up to ~64s, the bound
// PR detail refetches must respect while mergeable remains unknown.
func MergeablePollConfig(retryIf func(error) bool) *Config {
	return &Config{
		MaxAttempts:    8, // sleeps 1+2+4+8+16+32+64 = 127s between attempts, just over the ~2min bound
		InitialBackoff: time.Second,
		MaxBackoff:     64 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         false,
		RetryIf:        retryIf,
	}
}

// WithResult executes fn with retry logic, returning its value on success.
func WithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	var zero T
	if cfg == nil {
		cfg = Default()
	}
	logger := logging.Global().WithComponent("retry")

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			logger.Warnf("all %d attempts failed, giving up: %v", cfg.MaxAttempts, err)
			break
		}

		backoff := cfg.backoff(attempt)
		logger.Debugf("attempt %d failed, retrying in %v: %v", attempt, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func (c *Config) backoff(attempt int) time.Duration {
	backoff := time.Duration(float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1)))
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	if c.Jitter {
		jitterRange := time.Duration(float64(backoff) * 0.1)
		if jitterRange > 0 {
			backoff += time.Duration(rand.Int63n(int64(jitterRange))) - jitterRange/2
		}
	}
	if backoff < 0 {
		backoff = c.InitialBackoff
	}
	return backoff
}
