// Package labeler applies the idempotent lifecycle label transitions of
// §4.4. Every transition first removes the labels that must not coexist
// with the target, then adds the target label; add tolerates an
// already-applied label, remove tolerates the label already being gone.
package labeler

import (
	"context"

	"github.com/cphillipson/mergebot/internal/gateway"
	"github.com/cphillipson/mergebot/internal/logging"
)

const (
	Merging              = "merging"
	Merged               = "merged"
	MergeFailedOther     = "merge-failed-other"
	StagingChecksFailed  = "staging-checks-failed"
	MergeReady           = "merge-ready"
	FailedDescription    = "failed-description"
)

var transitions = map[string]struct {
	removes []string
}{
	Merging:             {removes: []string{MergeReady, MergeFailedOther, StagingChecksFailed}},
	Merged:              {removes: []string{Merging, MergeReady, MergeFailedOther, StagingChecksFailed}},
	MergeFailedOther:    {removes: []string{Merging, MergeReady}},
	StagingChecksFailed: {removes: []string{Merging}},
	MergeReady:          {removes: []string{Merging, StagingChecksFailed}},
}

// Labeler drives label transitions through a Gateway.
type Labeler struct {
	gw     gateway.Gateway
	logger *logging.Logger
}

// New builds a Labeler.
func New(gw gateway.Gateway) *Labeler {
	return &Labeler{gw: gw, logger: logging.Global().WithComponent("labeler")}
}

// Transition moves the PR to the named lifecycle label, removing whatever
// the transition table says must not coexist with it first.
func (l *Labeler) Transition(ctx context.Context, number int, target string) error {
	t, ok := transitions[target]
	if !ok {
		l.logger.Errorf("unknown label transition target %q", target)
		return nil
	}

	for _, remove := range t.removes {
		if err := l.gw.RemoveLabel(ctx, number, remove); err != nil && !gateway.IsKind(err, gateway.NotFound) {
			return err
		}
	}

	if err := l.gw.AddLabels(ctx, number, []string{target}); err != nil && !gateway.IsKind(err, gateway.Unprocessable) {
		return err
	}

	l.logger.WithPR(number).Infof("transitioned to label %q", target)
	return nil
}

// SetFailedDescription applies the failed-description marker (no removes).
func (l *Labeler) SetFailedDescription(ctx context.Context, number int) error {
	if err := l.gw.AddLabels(ctx, number, []string{FailedDescription}); err != nil && !gateway.IsKind(err, gateway.Unprocessable) {
		return err
	}
	return nil
}

// ClearFailedDescription removes the failed-description marker.
func (l *Labeler) ClearFailedDescription(ctx context.Context, number int) error {
	if err := l.gw.RemoveLabel(ctx, number, FailedDescription); err != nil && !gateway.IsKind(err, gateway.NotFound) {
		return err
	}
	return nil
}
