// Package merge implements the Merge Context of §4.3: the per-PR state
// machine that runs the precondition check, stages a synthetic merge
// commit, observes its status, and either fast-forwards the base branch
// or cleans up.
package merge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cphillipson/mergebot/internal/concurrent"
	"github.com/cphillipson/mergebot/internal/gateway"
	"github.com/cphillipson/mergebot/internal/labeler"
	"github.com/cphillipson/mergebot/internal/logging"
	"github.com/cphillipson/mergebot/internal/status"
	"github.com/cphillipson/mergebot/internal/voting"
)

const maxMessageLineLength = 72

// Config holds the fixed parameters of the merge policy for one repository.
type Config struct {
	StagingBranch string // short name; prefixed with "heads/" internally
	TagPrefix     string
	DryRun        bool
	MergedRun     bool
	Voting        voting.Config
}

// StartOutcome is the result of StartProcessing.
type StartOutcome int

const (
	Started StartOutcome = iota
	Deferred
	Rejected
)

// StartResult is what StartProcessing returns; Delay is only meaningful
// when Outcome is Deferred.
type StartResult struct {
	Outcome StartOutcome
	Delay   time.Duration
}

// FinishOutcome is the result of FinishProcessing.
type FinishOutcome int

const (
	Done FinishOutcome = iota
	StillWaiting
)

// Context drives one PR through the state machine described in §4.3.
type Context struct {
	gw       gateway.Gateway
	labeler  *labeler.Labeler
	cfg      Config
	logger   *logging.Logger
	parallel *concurrent.Executor
}

// New builds a Context bound to a single repository's gateway and policy.
func New(gw gateway.Gateway, cfg Config) *Context {
	return &Context{
		gw:       gw,
		labeler:  labeler.New(gw),
		cfg:      cfg,
		logger:   logging.Global().WithComponent("merge"),
		parallel: concurrent.NewExecutor(2),
	}
}

func (c *Context) tagRef(number int) string {
	return fmt.Sprintf("refs/tags/%s%d", c.cfg.TagPrefix, number)
}

func (c *Context) stagingRef() string {
	return "refs/heads/" + c.cfg.StagingBranch
}

func (c *Context) baseRef(branch string) string {
	return "refs/heads/" + branch
}

// TagPattern reports the PR number encoded in a tag name, per the
// "^refs/tags/(prefix)(\d+)$" round-trip §6.4 requires.
func (c *Context) TagPattern(tagName string) (number int, ok bool) {
	prefix := "refs/tags/" + c.cfg.TagPrefix
	if !strings.HasPrefix(tagName, prefix) {
		return 0, false
	}
	digits := strings.TrimPrefix(tagName, prefix)
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func buildMessage(pr gateway.PullRequest) string {
	return fmt.Sprintf("%s\n\n%s\n\n(PR #%d)", pr.Title, pr.Body, pr.Number)
}

func validMessage(msg string) bool {
	for _, line := range strings.Split(msg, "\n") {
		if utf8.RuneCountInString(line) > maxMessageLineLength {
			return false
		}
	}
	return true
}

// statusOf evaluates the Status Evaluator (§4.2) for the given commit
// against the base branch's required contexts.
func (c *Context) statusOf(ctx context.Context, sha, base string) (status.State, error) {
	combined, err := c.gw.GetCombinedStatus(ctx, sha)
	if err != nil {
		return "", err
	}
	required, err := c.gw.GetRequiredStatusContexts(ctx, base)
	if err != nil {
		return "", err
	}
	return status.Evaluate(combined, required), nil
}

// tagIsFresh reports whether the merge tag's tree still equals the host's
// current preview-merge tree for the PR.
func (c *Context) tagIsFresh(ctx context.Context, number int, tagSHA string) (bool, error) {
	tagCommit, err := c.gw.GetCommit(ctx, tagSHA)
	if err != nil {
		return false, err
	}
	previewTree, err := c.gw.GetPreviewMergeTree(ctx, number)
	if err != nil {
		return false, err
	}
	return tagCommit.TreeSHA == previewTree, nil
}

// precondResult is the outcome of the shared precondition check.
type precondResult struct {
	rejected bool
	delay    time.Duration
}

// precondition runs steps a-g of §4.3 shared by StartProcessing and the
// tag-freshness-aware path. pr is re-fetched fresh on every call.
func (c *Context) precondition(ctx context.Context, number int) (precondResult, error) {
	pr, err := c.gw.GetPR(ctx, number, true)
	if err != nil {
		return precondResult{}, err
	}

	// a. must be open
	if !pr.Open {
		return precondResult{rejected: true}, nil
	}

	// b. message validity, best-effort, skipped entirely under dry-run
	if !c.cfg.DryRun {
		msg := buildMessage(*pr)
		if validMessage(msg) {
			if err := c.labeler.ClearFailedDescription(ctx, number); err != nil {
				c.logger.WithPR(number).WithError(err).Warn("failed to clear failed-description label")
			}
		} else {
			if err := c.labeler.SetFailedDescription(ctx, number); err != nil {
				c.logger.WithPR(number).WithError(err).Warn("failed to set failed-description label")
			}
		}
	}

	// c. mergeable tri-state must be true
	if pr.Mergeable == nil || !*pr.Mergeable {
		return precondResult{rejected: true}, nil
	}

	// d. head status must be success
	headState, err := c.statusOf(ctx, pr.HeadSHA, pr.Base)
	if err != nil {
		return precondResult{}, err
	}
	if headState != status.Success {
		return precondResult{rejected: true}, nil
	}

	// e. not already merged
	if pr.HasLabel(labeler.Merged) {
		return precondResult{rejected: true}, nil
	}

	// f. voting
	collaborators, reviews := c.fetchVotingInputs(ctx, number)
	decision := voting.Evaluate(*pr, collaborators, reviews, time.Now(), c.cfg.Voting)
	if !decision.Approved {
		return precondResult{rejected: true}, nil
	}

	// g. merge tag evaluation
	blocked, err := c.evaluateMergeTag(ctx, number)
	if err != nil {
		return precondResult{}, err
	}
	if blocked {
		return precondResult{rejected: true}, nil
	}

	return precondResult{rejected: false, delay: decision.Delay}, nil
}

// evaluateMergeTag implements the tag-freshness sub-state of step g. It
// returns true when the existing tag blocks a new StartProcessing attempt.
func (c *Context) evaluateMergeTag(ctx context.Context, number int) (bool, error) {
	tagSHA, err := c.gw.GetRef(ctx, c.tagRef(number))
	if gateway.IsKind(err, gateway.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pr, err := c.gw.GetPR(ctx, number, false)
	if err != nil {
		return false, err
	}

	tagState, err := c.statusOf(ctx, tagSHA, pr.Base)
	if err != nil {
		return false, err
	}

	if tagState != status.Failure {
		// success or pending: let the resume path handle it.
		return false, nil
	}

	fresh, err := c.tagIsFresh(ctx, number, tagSHA)
	if err != nil {
		return false, err
	}

	if fresh {
		if !c.cfg.DryRun {
			if err := c.labeler.Transition(ctx, number, labeler.StagingChecksFailed); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if !c.cfg.DryRun {
		if err := c.gw.DeleteRef(ctx, c.tagRef(number)); err != nil && !gateway.IsKind(err, gateway.NotFound) {
			return false, err
		}
	}
	return false, nil
}

// fetchVotingInputs fetches collaborators and reviews side by side: they
// are independent reads and voting tolerates either coming back empty on
// error, same as a sequential best-effort fetch would.
func (c *Context) fetchVotingInputs(ctx context.Context, number int) ([]gateway.Collaborator, []gateway.Review) {
	var collaborators []gateway.Collaborator
	var reviews []gateway.Review

	_ = c.parallel.Execute(ctx,
		func(ctx context.Context) error {
			cs, err := c.gw.ListCollaborators(ctx)
			if err != nil {
				return nil
			}
			collaborators = cs
			return nil
		},
		func(ctx context.Context) error {
			rs, err := c.gw.ListReviews(ctx, number)
			if err != nil {
				return nil
			}
			reviews = rs
			return nil
		},
	)

	return collaborators, reviews
}

// StartProcessing runs the precondition check and, if approved and ready,
// stages a new synthetic merge commit for the PR.
func (c *Context) StartProcessing(ctx context.Context, number int) (StartResult, error) {
	pre, err := c.precondition(ctx, number)
	if err != nil {
		return StartResult{}, err
	}
	if pre.rejected {
		return StartResult{Outcome: Rejected}, nil
	}
	if pre.delay > 0 {
		return StartResult{Outcome: Deferred, Delay: pre.delay}, nil
	}
	if c.cfg.DryRun {
		c.logger.WithPR(number).Info("dry-run: would start merge, rejecting instead")
		return StartResult{Outcome: Rejected}, nil
	}

	pr, err := c.gw.GetPR(ctx, number, false)
	if err != nil {
		return StartResult{}, err
	}

	// Step 1: base branch head. No cleanup needed if this fails.
	baseSHA, err := c.gw.GetRef(ctx, c.baseRef(pr.Base))
	if err != nil {
		return StartResult{}, err
	}

	// Steps 2-6: every failure past this point requires abort-merge-cleanup.
	treeSHA, err := c.gw.GetPreviewMergeTree(ctx, number)
	if err != nil {
		_ = c.abortCleanup(ctx, number)
		return StartResult{}, err
	}

	commitSHA, err := c.gw.CreateCommit(ctx, treeSHA, buildMessage(*pr), []string{baseSHA})
	if err != nil {
		_ = c.abortCleanup(ctx, number)
		return StartResult{}, err
	}

	if err := c.gw.CreateRef(ctx, c.tagRef(number), commitSHA); err != nil {
		_ = c.abortCleanup(ctx, number)
		return StartResult{}, err
	}

	if err := c.gw.UpdateRef(ctx, c.stagingRef(), commitSHA, true); err != nil {
		_ = c.abortCleanup(ctx, number)
		return StartResult{}, err
	}

	if err := c.labeler.Transition(ctx, number, labeler.Merging); err != nil {
		_ = c.abortCleanup(ctx, number)
		return StartResult{}, err
	}

	return StartResult{Outcome: Started}, nil
}

// FinishProcessing observes the staging tag's status and either completes
// the fast-forward, aborts, or reports that the PR is still waiting.
func (c *Context) FinishProcessing(ctx context.Context, number int, tagSHA string) (FinishOutcome, error) {
	pr, err := c.gw.GetPR(ctx, number, false)
	if err != nil {
		return Done, err
	}
	if !pr.Open {
		if err := c.abortCleanup(ctx, number); err != nil {
			return Done, err
		}
		return Done, nil
	}

	tagState, err := c.statusOf(ctx, tagSHA, pr.Base)
	if err != nil {
		return Done, err
	}
	switch tagState {
	case status.Pending:
		return StillWaiting, nil
	case status.Failure:
		if err := c.abortCleanup(ctx, number); err != nil {
			return Done, err
		}
		return Done, nil
	}

	baseSHA, err := c.gw.GetRef(ctx, c.baseRef(pr.Base))
	if err != nil {
		return Done, err
	}

	cmp, err := c.gw.CompareCommits(ctx, baseSHA, tagSHA)
	if err != nil {
		return Done, err
	}

	switch cmp {
	case gateway.CompareIdentical, gateway.CompareBehind:
		if c.cfg.DryRun {
			// completeCleanup is skipped under dry-run; report StillWaiting
			// so the resume path picks the tag up again once it is off.
			return StillWaiting, nil
		}
		if err := c.completeCleanup(ctx, number); err != nil {
			return Done, err
		}
		return Done, nil
	case gateway.CompareDiverged:
		if err := c.abortCleanup(ctx, number); err != nil {
			return Done, err
		}
		return Done, nil
	}

	// cmp == ahead: recheck preconditions and freshness before advancing.
	stillValid, err := c.recheckForFinish(ctx, number)
	if err != nil {
		return Done, err
	}
	fresh, err := c.tagIsFresh(ctx, number, tagSHA)
	if err != nil {
		return Done, err
	}
	if !stillValid || !fresh {
		if err := c.abortCleanup(ctx, number); err != nil {
			return Done, err
		}
		return Done, nil
	}

	if c.cfg.MergedRun {
		if err := c.labeler.Transition(ctx, number, labeler.MergeReady); err != nil {
			return Done, err
		}
		return StillWaiting, nil
	}

	if c.cfg.DryRun {
		// Skipped under dry-run: advancing base is the one irreversible
		// mutation in this path. Re-entry on exit from dry-run picks the
		// tag back up via the resume path.
		return StillWaiting, nil
	}

	if err := c.gw.UpdateRef(ctx, c.baseRef(pr.Base), tagSHA, false); err != nil {
		if gateway.IsKind(err, gateway.Unprocessable) {
			if cleanupErr := c.abortCleanup(ctx, number); cleanupErr != nil {
				return Done, cleanupErr
			}
			return Done, nil
		}
		return Done, err
	}

	if err := c.completeCleanup(ctx, number); err != nil {
		return Done, err
	}
	return Done, nil
}

// recheckForFinish re-validates that the PR is still open, mergeable,
// green, unlabeled as merged, and approved, without touching the merge
// tag itself (that is FinishProcessing's own job).
func (c *Context) recheckForFinish(ctx context.Context, number int) (bool, error) {
	pr, err := c.gw.GetPR(ctx, number, true)
	if err != nil {
		return false, err
	}
	if !pr.Open {
		return false, nil
	}
	if pr.Mergeable == nil || !*pr.Mergeable {
		return false, nil
	}
	if pr.HasLabel(labeler.Merged) {
		return false, nil
	}

	headState, err := c.statusOf(ctx, pr.HeadSHA, pr.Base)
	if err != nil {
		return false, err
	}
	if headState != status.Success {
		return false, nil
	}

	collaborators, reviews := c.fetchVotingInputs(ctx, number)
	decision := voting.Evaluate(*pr, collaborators, reviews, time.Now(), c.cfg.Voting)
	return decision.Approved && decision.Delay == 0, nil
}

// completeCleanup labels the PR merged, closes it, and removes the tag.
func (c *Context) completeCleanup(ctx context.Context, number int) error {
	if c.cfg.DryRun {
		// Skipped under dry-run. FinishProcessing does not reach this
		// under dry-run: it reports StillWaiting instead, so the PR is
		// picked up again once dry-run is turned off.
		return nil
	}
	if err := c.labeler.Transition(ctx, number, labeler.Merged); err != nil {
		return err
	}
	if err := c.gw.ClosePR(ctx, number); err != nil {
		return err
	}
	if err := c.gw.DeleteRef(ctx, c.tagRef(number)); err != nil && !gateway.IsKind(err, gateway.NotFound) {
		return err
	}
	return nil
}

// abortCleanup labels the PR merge-failed-other and removes the tag.
func (c *Context) abortCleanup(ctx context.Context, number int) error {
	if c.cfg.DryRun {
		return nil
	}
	if err := c.labeler.Transition(ctx, number, labeler.MergeFailedOther); err != nil {
		return err
	}
	if err := c.gw.DeleteRef(ctx, c.tagRef(number)); err != nil && !gateway.IsKind(err, gateway.NotFound) {
		return err
	}
	return nil
}
