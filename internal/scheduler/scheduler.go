// Package scheduler implements the Merge Scheduler of §4.6: the
// process-wide singleton that coalesces concurrent Run() calls into at
// most one pending rerun and arms a deferred wakeup when the Step goes
// idle with a positive minimum delay.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cphillipson/mergebot/internal/logging"
	"github.com/cphillipson/mergebot/internal/step"
)

const defaultBackoff = 10 * time.Minute

// Stepper is the PR Step contract the Scheduler drives. step.Step
// satisfies it directly.
type Stepper interface {
	Run(ctx context.Context) (step.Result, error)
}

// Scheduler is the singleton described in §4.6. Zero value is not usable;
// build one with New.
type Scheduler struct {
	mu             sync.Mutex
	running        bool
	rerunRequested bool
	timer          *time.Timer

	stepper Stepper
	onFatal func(error)
	backoff time.Duration
	logger  *logging.Logger
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithBackoff overrides the default 10-minute error backoff; tests use
// this to avoid sleeping out the real interval.
func WithBackoff(d time.Duration) Option {
	return func(s *Scheduler) { s.backoff = d }
}

// New builds a Scheduler. onFatal is called when a Step iteration returns
// an error, as the "request the HTTP listener be closed" collaborator
// notification in §4.6 step 4; it may be nil.
func New(stepper Stepper, onFatal func(error), opts ...Option) *Scheduler {
	s := &Scheduler{
		stepper: stepper,
		onFatal: onFatal,
		backoff: defaultBackoff,
		logger:  logging.Global().WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes §4.6's contract: coalesce concurrent callers into one
// pending rerun, loop the Step until an iteration completes cleanly with
// no rerun requested, then arm a timer if the Step reported it is idle
// with a positive minimum delay.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.rerunRequested = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		s.rerunRequested = false
		s.cancelTimerLocked()
		s.mu.Unlock()

		result, err := s.stepper.Run(ctx)
		if err != nil {
			s.logger.WithError(err).Error("step failed; backing off")
			s.mu.Lock()
			s.rerunRequested = true
			s.mu.Unlock()
			if s.onFatal != nil {
				s.onFatal(err)
			}
			time.Sleep(s.backoff)
			continue
		}

		s.mu.Lock()
		rerun := s.rerunRequested
		if !rerun && result.Outcome == step.Idle && result.MinDelay != nil && *result.MinDelay > 0 {
			s.armTimerLocked(ctx, *result.MinDelay)
		}
		if !rerun {
			// Clear running in the same critical section that decided to
			// stop: a concurrent Run() racing in between would otherwise
			// set rerunRequested only to have it discarded here.
			s.running = false
		}
		s.mu.Unlock()

		if !rerun {
			break
		}
	}
}

// armTimerLocked must be called with mu held. Arming while a timer is
// already pending is a bug per §5's timer discipline.
func (s *Scheduler) armTimerLocked(ctx context.Context, d time.Duration) {
	if s.timer != nil {
		panic("scheduler: timer armed while one is already pending")
	}
	s.timer = time.AfterFunc(d, func() { s.Run(ctx) })
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}
