// Package ratelimit throttles outbound gateway calls to a configured rate,
// with a timeout so a stalled limiter cannot hang a Step indefinitely.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cphillipson/mergebot/internal/logging"
)

// Config configures a Limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	Name              string
}

// Limiter wraps golang.org/x/time/rate with a wait timeout and stats.
type Limiter struct {
	limiter *rate.Limiter
	timeout time.Duration
	name    string
	logger  *logging.Logger
	mu      sync.RWMutex
}

// New builds a Limiter. Non-positive fields fall back to safe defaults.
func New(cfg Config) *Limiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5.0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
		name:    name,
		logger:  logging.Global().WithComponent("ratelimit"),
	}
}

// Wait blocks until a token is available or the context (bounded by the
// limiter's own timeout, if the caller supplied no deadline) expires.
func (l *Limiter) Wait(ctx context.Context) error {
	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := l.limiter.Wait(waitCtx); err != nil {
		if err == context.DeadlineExceeded {
			return fmt.Errorf("rate limiter %s: timeout after %v", l.name, time.Since(start))
		}
		return fmt.Errorf("rate limiter %s: %w", l.name, err)
	}

	if waited := time.Since(start); waited > time.Millisecond {
		l.logger.Debugf("rate limiter %s: waited %v for permission", l.name, waited)
	}
	return nil
}

// Allow reports whether a request may proceed without blocking.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Stats reports current limiter state, used for health/diagnostics output.
type Stats struct {
	Name   string
	Limit  float64
	Burst  int
	Tokens int
}

func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Name:   l.name,
		Limit:  float64(l.limiter.Limit()),
		Burst:  l.limiter.Burst(),
		Tokens: int(l.limiter.Tokens()),
	}
}
