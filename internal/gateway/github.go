package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"

	"github.com/cphillipson/mergebot/internal/logging"
	"github.com/cphillipson/mergebot/internal/ratelimit"
	"github.com/cphillipson/mergebot/internal/retry"
)

// GitHubConfig configures a GitHubGateway.
type GitHubConfig struct {
	Token             string
	Owner             string
	Repo              string
	BaseURL           string // non-empty for GitHub Enterprise
	RequestsPerSecond float64
	Burst             int
}

// GitHubGateway implements Gateway against api.github.com (or an
// Enterprise instance) via google/go-github.
type GitHubGateway struct {
	client  *gh.Client
	owner   string
	repo    string
	limiter *ratelimit.Limiter
	logger  *logging.Logger
}

// NewGitHubGateway builds a rate-limited, authenticated gateway.
func NewGitHubGateway(cfg GitHubConfig) (*GitHubGateway, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("gateway: github token is required")
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
		Timeout: 30 * time.Second,
	}

	client := gh.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		enterprise, err := client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("gateway: set enterprise base url: %w", err)
		}
		client = enterprise
	}

	return &GitHubGateway{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Name:              "github",
		}),
		logger: logging.Global().WithComponent("gateway"),
	}, nil
}

func (g *GitHubGateway) wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// handleError maps a go-github error into the gateway's 4-way Kind.
func handleError(op string, err error) error {
	if err == nil {
		return nil
	}

	if ghErr, ok := err.(*gh.ErrorResponse); ok {
		return convertGitHubError(op, ghErr)
	}

	msg := err.Error()
	if strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded") {
		return newError(Transient, op, "request context ended", err)
	}
	if strings.Contains(msg, "timeout") {
		return newError(Transient, op, "request timed out", err)
	}
	return newError(Fatal, op, "unexpected error", err)
}

func convertGitHubError(op string, ghErr *gh.ErrorResponse) *Error {
	status := ghErr.Response.StatusCode

	var kind Kind
	switch status {
	case http.StatusNotFound:
		kind = NotFound
	case http.StatusConflict:
		kind = Transient
	case http.StatusUnprocessableEntity:
		kind = Unprocessable
	case http.StatusTooManyRequests:
		kind = Transient
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		kind = Transient
	default: // 401, 403, and anything unrecognized are not recoverable mid-run
		kind = Fatal
	}

	message := ghErr.Message
	if len(ghErr.Errors) > 0 {
		details := make([]string, len(ghErr.Errors))
		for i, e := range ghErr.Errors {
			details[i] = e.Message
		}
		message = strings.Join(details, ", ")
	}

	return newError(kind, op, message, ghErr)
}

// isAlreadyExists reports the GitHub "label already exists" validation
// shape addLabels surfaces as Unprocessable.
func isAlreadyExists(err error) bool {
	ghErr, ok := err.(*gh.ErrorResponse)
	if !ok {
		return false
	}
	for _, e := range ghErr.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}
	return false
}

func (g *GitHubGateway) ListOpenPRs(ctx context.Context) ([]PullRequest, error) {
	opts := &gh.PullRequestListOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var all []PullRequest
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, handleError("listOpenPRs", err)
		}
		for _, pr := range prs {
			all = append(all, convertPullRequest(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubGateway) fetchPR(ctx context.Context, number int) (*gh.PullRequest, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	pr, _, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return nil, handleError("getPR", err)
	}
	return pr, nil
}

func (g *GitHubGateway) GetPR(ctx context.Context, number int, refreshMergeable bool) (*PullRequest, error) {
	pr, err := g.fetchPR(ctx, number)
	if err != nil {
		return nil, err
	}

	if refreshMergeable && pr.Mergeable == nil {
		cfg := retry.MergeablePollConfig(func(error) bool { return true })
		polled, pollErr := retry.WithResult(ctx, cfg, func() (*gh.PullRequest, error) {
			fresh, ferr := g.fetchPR(ctx, number)
			if ferr != nil {
				return nil, ferr
			}
			if fresh.Mergeable == nil {
				return nil, fmt.Errorf("mergeable status still unknown")
			}
			return fresh, nil
		})
		if pollErr == nil {
			pr = polled
		}
		// If polling exhausts its budget, fall through with Mergeable
		// still nil; callers treat unknown as not-ready.
	}

	converted := convertPullRequest(pr)
	return &converted, nil
}

func (g *GitHubGateway) ListReviews(ctx context.Context, number int) ([]Review, error) {
	opts := &gh.ListOptions{PerPage: 100}
	var all []Review
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		reviews, resp, err := g.client.PullRequests.ListReviews(ctx, g.owner, g.repo, number, opts)
		if err != nil {
			return nil, handleError("listReviews", err)
		}
		for _, r := range reviews {
			all = append(all, convertReview(r))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubGateway) ListCollaborators(ctx context.Context) ([]Collaborator, error) {
	opts := &gh.ListCollaboratorsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var all []Collaborator
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		users, resp, err := g.client.Repositories.ListCollaborators(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, handleError("listCollaborators", err)
		}
		for _, u := range users {
			all = append(all, convertCollaborator(u))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubGateway) GetCombinedStatus(ctx context.Context, ref string) (*CombinedStatus, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	status, _, err := g.client.Repositories.GetCombinedStatus(ctx, g.owner, g.repo, ref, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, handleError("getCombinedStatus", err)
	}
	return convertCombinedStatus(status), nil
}

func (g *GitHubGateway) GetRequiredStatusContexts(ctx context.Context, baseBranch string) ([]string, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	protection, _, err := g.client.Repositories.GetBranchProtection(ctx, g.owner, g.repo, baseBranch)
	if err != nil {
		if ghErr, ok := err.(*gh.ErrorResponse); ok && ghErr.Response.StatusCode == http.StatusNotFound {
			g.logger.Debugf("no branch protection configured for %s", baseBranch)
			return nil, nil
		}
		return nil, handleError("getRequiredStatusContexts", err)
	}
	if protection.RequiredStatusChecks == nil {
		return nil, nil
	}
	return protection.RequiredStatusChecks.Contexts, nil
}

func (g *GitHubGateway) CompareCommits(ctx context.Context, base, ref string) (CompareResult, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	comparison, _, err := g.client.Repositories.CompareCommits(ctx, g.owner, g.repo, base, ref, nil)
	if err != nil {
		return "", handleError("compareCommits", err)
	}
	switch comparison.GetStatus() {
	case "identical":
		return CompareIdentical, nil
	case "behind":
		return CompareBehind, nil
	case "ahead":
		return CompareAhead, nil
	default:
		return CompareDiverged, nil
	}
}

func (g *GitHubGateway) GetRef(ctx context.Context, ref string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	r, _, err := g.client.Git.GetRef(ctx, g.owner, g.repo, trimRefPrefix(ref))
	if err != nil {
		return "", handleError("getRef", err)
	}
	return r.GetObject().GetSHA(), nil
}

func (g *GitHubGateway) CreateRef(ctx context.Context, ref, sha string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, _, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, &gh.Reference{
		Ref:    gh.String(ref),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	})
	return handleError("createRef", err)
}

func (g *GitHubGateway) UpdateRef(ctx context.Context, ref, sha string, force bool) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, _, err := g.client.Git.UpdateRef(ctx, g.owner, g.repo, &gh.Reference{
		Ref:    gh.String(ref),
		Object: &gh.GitObject{SHA: gh.String(sha)},
	}, force)
	return handleError("updateRef", err)
}

func (g *GitHubGateway) DeleteRef(ctx context.Context, ref string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err := g.client.Git.DeleteRef(ctx, g.owner, g.repo, trimRefPrefix(ref))
	return handleError("deleteRef", err)
}

func (g *GitHubGateway) GetCommit(ctx context.Context, sha string) (*Commit, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	commit, _, err := g.client.Git.GetCommit(ctx, g.owner, g.repo, sha)
	if err != nil {
		return nil, handleError("getCommit", err)
	}
	return convertCommit(commit), nil
}

func (g *GitHubGateway) CreateCommit(ctx context.Context, treeSHA, message string, parents []string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	parentCommits := make([]*gh.Commit, 0, len(parents))
	for _, p := range parents {
		parentCommits = append(parentCommits, &gh.Commit{SHA: gh.String(p)})
	}
	commit, _, err := g.client.Git.CreateCommit(ctx, g.owner, g.repo, &gh.Commit{
		Message: gh.String(message),
		Tree:    &gh.Tree{SHA: gh.String(treeSHA)},
		Parents: parentCommits,
	}, nil)
	if err != nil {
		return "", handleError("createCommit", err)
	}
	return commit.GetSHA(), nil
}

func (g *GitHubGateway) GetPreviewMergeTree(ctx context.Context, number int) (string, error) {
	previewRef := fmt.Sprintf("refs/pull/%d/merge", number)
	sha, err := g.GetRef(ctx, previewRef)
	if err != nil {
		return "", err
	}
	commit, err := g.GetCommit(ctx, sha)
	if err != nil {
		return "", err
	}
	return commit.TreeSHA, nil
}

func (g *GitHubGateway) ListTags(ctx context.Context) ([]Tag, error) {
	opts := &gh.ReferenceListOptions{Ref: "tags/", ListOptions: gh.ListOptions{PerPage: 100}}
	var all []Tag
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		refs, resp, err := g.client.Git.ListMatchingRefs(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, handleError("listTags", err)
		}
		for _, r := range refs {
			all = append(all, Tag{Name: r.GetRef(), TargetSHA: r.GetObject().GetSHA()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (g *GitHubGateway) ListLabels(ctx context.Context, number int) ([]string, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	labels, _, err := g.client.Issues.ListLabelsByIssue(ctx, g.owner, g.repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, handleError("listLabels", err)
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names, nil
}

func (g *GitHubGateway) AddLabels(ctx context.Context, number int, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, number, names)
	if err != nil {
		if isAlreadyExists(err) {
			g.logger.Debugf("label(s) %v already present on #%d", names, number)
			return nil
		}
		return handleError("addLabels", err)
	}
	return nil
}

func (g *GitHubGateway) RemoveLabel(ctx context.Context, number int, name string) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, err := g.client.Issues.RemoveLabelForIssue(ctx, g.owner, g.repo, number, name)
	if err != nil {
		wrapped := handleError("removeLabel", err)
		if IsKind(wrapped, NotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

func (g *GitHubGateway) ClosePR(ctx context.Context, number int) error {
	if err := g.wait(ctx); err != nil {
		return err
	}
	_, _, err := g.client.PullRequests.Edit(ctx, g.owner, g.repo, number, &gh.PullRequest{
		State: gh.String("closed"),
	})
	return handleError("closePR", err)
}
