package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cphillipson/mergebot/internal/scheduler"
	"github.com/cphillipson/mergebot/internal/step"
)

type fakeStepper struct {
	mu      sync.Mutex
	results []step.Result
	errs    []error
	calls   int32
}

func (f *fakeStepper) Run(context.Context) (step.Result, error) {
	n := atomic.AddInt32(&f.calls, 1) - 1
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(n) < len(f.errs) && f.errs[n] != nil {
		return step.Result{}, f.errs[n]
	}
	if int(n) < len(f.results) {
		return f.results[n], nil
	}
	return step.Result{Outcome: step.Idle}, nil
}

func TestRun_IdleNoDelay_CompletesWithoutArmingTimer(t *testing.T) {
	stepper := &fakeStepper{results: []step.Result{{Outcome: step.Idle}}}
	s := scheduler.New(stepper, nil)

	s.Run(context.Background())

	assert.EqualValues(t, 1, atomic.LoadInt32(&stepper.calls))
}

func TestRun_IdleWithDelay_ArmsTimerThatReinvokesRun(t *testing.T) {
	delay := 20 * time.Millisecond
	stepper := &fakeStepper{results: []step.Result{{Outcome: step.Idle, MinDelay: &delay}}}
	s := scheduler.New(stepper, nil)

	s.Run(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt32(&stepper.calls))

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&stepper.calls))
}

func TestRun_ErrorTriggersOnFatalAndEventualRetry(t *testing.T) {
	stepper := &fakeStepper{errs: []error{errors.New("boom")}}
	s := scheduler.New(stepper, func(error) {}, scheduler.WithBackoff(10*time.Millisecond))

	s.Run(context.Background())

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&stepper.calls)), 2)
}

func TestRun_ConcurrentCallsCoalesceIntoOneRerun(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	stepper := stepperFunc(func(context.Context) (step.Result, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-release
		}
		return step.Result{Outcome: step.Idle}, nil
	})
	s := scheduler.New(stepper, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		s.Run(context.Background())
	}
	close(release)
	wg.Wait()

	require.LessOrEqual(t, int(atomic.LoadInt32(&calls)), 2)
}

type stepperFunc func(ctx context.Context) (step.Result, error)

func (f stepperFunc) Run(ctx context.Context) (step.Result, error) { return f(ctx) }
