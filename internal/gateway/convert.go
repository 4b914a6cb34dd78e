package gateway

import (
	"strings"

	gh "github.com/google/go-github/v57/github"
)

func convertPullRequest(pr *gh.PullRequest) PullRequest {
	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	for _, u := range pr.RequestedReviewers {
		reviewers = append(reviewers, u.GetLogin())
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	return PullRequest{
		Number:             pr.GetNumber(),
		HeadSHA:            pr.GetHead().GetSHA(),
		Base:               pr.GetBase().GetRef(),
		AuthorLogin:        pr.GetUser().GetLogin(),
		Mergeable:          pr.Mergeable,
		Open:               pr.GetState() == "open",
		Draft:              pr.GetDraft(),
		Locked:             pr.GetLocked(),
		Title:              pr.GetTitle(),
		Body:               pr.GetBody(),
		CreatedAt:          pr.GetCreatedAt().Time,
		RequestedReviewers: reviewers,
		Labels:             labels,
	}
}

func normalizeReviewState(state string) ReviewState {
	switch strings.ToUpper(state) {
	case "APPROVED":
		return ReviewApproved
	case "CHANGES_REQUESTED":
		return ReviewChangesRequested
	default:
		return ReviewOther
	}
}

func convertReview(r *gh.PullRequestReview) Review {
	return Review{
		Login:       r.GetUser().GetLogin(),
		SubmittedAt: r.GetSubmittedAt().Time,
		State:       normalizeReviewState(r.GetState()),
	}
}

func convertCollaborator(u *gh.User) Collaborator {
	push := false
	if perms := u.GetPermissions(); perms != nil {
		push = perms["push"]
	}
	return Collaborator{Login: u.GetLogin(), CanPush: push}
}

func normalizeStatusState(state string) StatusState {
	switch strings.ToLower(state) {
	case "pending":
		return StatusPending
	case "success":
		return StatusSuccess
	case "failure":
		return StatusFailure
	default:
		return StatusError
	}
}

func convertCombinedStatus(cs *gh.CombinedStatus) *CombinedStatus {
	out := &CombinedStatus{Aggregate: normalizeStatusState(cs.GetState())}
	for _, s := range cs.Statuses {
		out.Statuses = append(out.Statuses, StatusEntry{
			Context: s.GetContext(),
			State:   normalizeStatusState(s.GetState()),
		})
	}
	return out
}

func convertCommit(c *gh.Commit) *Commit {
	return &Commit{
		SHA:     c.GetSHA(),
		TreeSHA: c.GetTree().GetSHA(),
		Message: c.GetMessage(),
	}
}

// trimRefPrefix strips the "refs/" prefix go-github's path-style ref
// endpoints (get/update/delete) do not expect, while CreateRef and the
// webhook/tag-listing payloads use the fully qualified form.
func trimRefPrefix(ref string) string {
	return strings.TrimPrefix(ref, "refs/")
}
