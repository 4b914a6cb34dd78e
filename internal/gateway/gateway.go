package gateway

import "context"

// Gateway is the minimum host-platform contract the merge state machine
// depends on. The GitHub implementation lives in github.go; tests depend
// only on this interface through a hand-rolled fake.
type Gateway interface {
	ListOpenPRs(ctx context.Context) ([]PullRequest, error)

	// GetPR re-fetches a PR. When refreshMergeable is true and the host
	// has not yet computed the mergeable tri-state, GetPR polls with a
	// bounded doubling backoff (1s up to ~64s) before giving up and
	// returning the PR with Mergeable still nil.
	GetPR(ctx context.Context, number int, refreshMergeable bool) (*PullRequest, error)

	ListReviews(ctx context.Context, number int) ([]Review, error)
	ListCollaborators(ctx context.Context) ([]Collaborator, error)

	GetCombinedStatus(ctx context.Context, ref string) (*CombinedStatus, error)
	GetRequiredStatusContexts(ctx context.Context, baseBranch string) ([]string, error)

	CompareCommits(ctx context.Context, base, ref string) (CompareResult, error)

	GetRef(ctx context.Context, ref string) (sha string, err error)
	CreateRef(ctx context.Context, ref, sha string) error
	UpdateRef(ctx context.Context, ref, sha string, force bool) error
	DeleteRef(ctx context.Context, ref string) error

	GetCommit(ctx context.Context, sha string) (*Commit, error)
	CreateCommit(ctx context.Context, treeSHA, message string, parents []string) (sha string, err error)

	// GetPreviewMergeTree returns the tree sha of the host's current
	// "what merging this PR would produce" virtual commit.
	GetPreviewMergeTree(ctx context.Context, number int) (treeSHA string, err error)

	ListTags(ctx context.Context) ([]Tag, error)

	ListLabels(ctx context.Context, number int) ([]string, error)
	AddLabels(ctx context.Context, number int, names []string) error
	RemoveLabel(ctx context.Context, number int, name string) error

	ClosePR(ctx context.Context, number int) error
}
