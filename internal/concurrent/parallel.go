// Package concurrent runs independent read-only fetches side by side.
// §5 scopes this deliberately narrow: it bounds a handful of
// independent Gateway reads within one precondition check, never the
// single-threaded Step/Scheduler loop itself.
package concurrent

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cphillipson/mergebot/internal/logging"
)

// Executor runs tasks concurrently with a bounded number of in-flight
// goroutines, returning the first error encountered.
type Executor struct {
	concurrency int
	logger      *logging.Logger
}

// NewExecutor builds an Executor. A non-positive concurrency defaults to
// the number of available CPUs.
func NewExecutor(concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Executor{
		concurrency: concurrency,
		logger:      logging.Global().WithComponent("concurrent"),
	}
}

// Execute runs every task, bounded by the executor's concurrency limit,
// and returns the first error any task returns.
func (e *Executor) Execute(ctx context.Context, tasks ...func(context.Context) error) error {
	if len(tasks) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := task(ctx); err != nil {
				e.logger.WithError(err).Debugf("task %d failed", i)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
