// Package voting implements the pure approval policy of §4.1: it looks at
// nothing but a PR, its collaborators, its reviews, and the clock, and
// returns whether the PR is approved and, if not yet ready, how long to
// wait before re-checking.
package voting

import (
	"sort"
	"time"

	"github.com/cphillipson/mergebot/internal/gateway"
)

// Config is the subset of the process configuration the voting policy
// consults.
type Config struct {
	NecessaryApprovals  int
	SufficientApprovals int // must be > 1, enforced at config load time
	VotingDelayMin      time.Duration
	VotingDelayMax      time.Duration
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Approved bool
	// Delay is only meaningful when Approved is true: zero means ready
	// now, positive means re-check after this long.
	Delay time.Duration
}

// NotApproved is the rejected decision; it carries no delay.
var NotApproved = Decision{Approved: false}

// ReadyIn returns an approved decision with the given wait.
func ReadyIn(d time.Duration) Decision {
	if d < 0 {
		d = 0
	}
	return Decision{Approved: true, Delay: d}
}

type vote struct {
	login       string
	submittedAt time.Time
	state       gateway.ReviewState
}

// Evaluate runs the nine-step algorithm of §4.1.
func Evaluate(pr gateway.PullRequest, collaborators []gateway.Collaborator, reviews []gateway.Review, now time.Time, cfg Config) Decision {
	core := make(map[string]bool, len(collaborators))
	for _, c := range collaborators {
		if c.CanPush {
			core[c.Login] = true
		}
	}

	for _, reviewer := range pr.RequestedReviewers {
		if core[reviewer] {
			return NotApproved
		}
	}

	age := now.Sub(pr.CreatedAt)
	if age < cfg.VotingDelayMin {
		return ReadyIn(cfg.VotingDelayMin - age)
	}

	votes := make(map[string]vote)
	if core[pr.AuthorLogin] {
		votes[pr.AuthorLogin] = vote{login: pr.AuthorLogin, submittedAt: pr.CreatedAt, state: gateway.ReviewApproved}
	}

	ordered := append([]gateway.Review(nil), reviews...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt) })

	for _, r := range ordered {
		if !core[r.Login] {
			continue
		}
		if r.State != gateway.ReviewApproved && r.State != gateway.ReviewChangesRequested {
			continue
		}
		votes[r.Login] = vote{login: r.Login, submittedAt: r.SubmittedAt, state: r.State}
	}

	approved := 0
	for _, v := range votes {
		if v.state == gateway.ReviewChangesRequested {
			return NotApproved
		}
		if v.state == gateway.ReviewApproved {
			approved++
		}
	}

	if approved < cfg.NecessaryApprovals {
		return NotApproved
	}

	if approved >= cfg.SufficientApprovals || age >= cfg.VotingDelayMax {
		return ReadyIn(0)
	}

	return ReadyIn(cfg.VotingDelayMax - age)
}
