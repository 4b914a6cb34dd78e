// Package step implements the PR Step of §4.5: one pass over the resume
// path and the open-PR scan, driving a single merge.Context instance.
package step

import (
	"context"
	"time"

	"github.com/cphillipson/mergebot/internal/gateway"
	"github.com/cphillipson/mergebot/internal/logging"
	"github.com/cphillipson/mergebot/internal/merge"
)

// Outcome is the result of one Step pass.
type Outcome int

const (
	InProgress Outcome = iota
	Idle
)

// Result is what Run returns. MinDelay is only meaningful when Outcome is
// Idle; nil means no PR was deferred.
type Result struct {
	Outcome  Outcome
	MinDelay *time.Duration
}

// Step drives one pass of the resume path followed by the open-PR scan.
type Step struct {
	gw     gateway.Gateway
	cfg    merge.Config
	logger *logging.Logger
}

// New builds a Step bound to a gateway and merge policy.
func New(gw gateway.Gateway, cfg merge.Config) *Step {
	return &Step{gw: gw, cfg: cfg, logger: logging.Global().WithComponent("step")}
}

// Run executes one resume-then-scan pass.
func (s *Step) Run(ctx context.Context) (Result, error) {
	mc := merge.New(s.gw, s.cfg)

	inProgress, err := s.resume(ctx, mc)
	if err != nil {
		return Result{}, err
	}
	if inProgress {
		return Result{Outcome: InProgress}, nil
	}

	return s.scan(ctx, mc)
}

func (s *Step) resume(ctx context.Context, mc *merge.Context) (bool, error) {
	stagingRef := "refs/heads/" + s.cfg.StagingBranch
	head, err := s.gw.GetRef(ctx, stagingRef)
	if gateway.IsKind(err, gateway.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	tags, err := s.gw.ListTags(ctx)
	if err != nil {
		return false, err
	}

	for _, tag := range tags {
		if tag.TargetSHA != head {
			continue
		}
		number, ok := mc.TagPattern(tag.Name)
		if !ok {
			continue
		}

		pr, err := s.gw.GetPR(ctx, number, false)
		if gateway.IsKind(err, gateway.NotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		if !pr.Open {
			if !s.cfg.DryRun {
				if err := s.gw.DeleteRef(ctx, tag.Name); err != nil && !gateway.IsKind(err, gateway.NotFound) {
					return false, err
				}
			}
			return false, nil
		}

		outcome, err := mc.FinishProcessing(ctx, number, head)
		if err != nil {
			return false, err
		}
		return outcome == merge.StillWaiting, nil
	}

	return false, nil
}

func (s *Step) scan(ctx context.Context, mc *merge.Context) (Result, error) {
	prs, err := s.gw.ListOpenPRs(ctx)
	if err != nil {
		return Result{}, err
	}

	var minDelay *time.Duration
	for i, pr := range prs {
		result, startErr := mc.StartProcessing(ctx, pr.Number)
		if startErr != nil {
			if i != len(prs)-1 {
				s.logger.WithPR(pr.Number).WithError(startErr).Warn("start-processing failed, continuing scan")
				continue
			}
			return Result{}, startErr
		}

		switch result.Outcome {
		case merge.Started:
			return Result{Outcome: InProgress}, nil
		case merge.Deferred:
			if minDelay == nil || result.Delay < *minDelay {
				d := result.Delay
				minDelay = &d
			}
		case merge.Rejected:
			// nothing to do
		}
	}

	return Result{Outcome: Idle, MinDelay: minDelay}, nil
}
