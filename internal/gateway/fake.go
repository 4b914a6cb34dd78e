package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Fake is an in-memory Gateway used by this repository's own tests and
// available to every package that depends on Gateway. Unlike a call/return
// mock it tracks real ref, tag, and label state so tests can assert on the
// invariants in §8 (exactly one tag, staging pointing at it, and so on)
// rather than only on which methods were called.
type Fake struct {
	PRs               map[int]*PullRequest
	Reviews           map[int][]Review
	Collaborators     []Collaborator
	RequiredContexts  []string
	CombinedStatuses  map[string]*CombinedStatus
	Refs              map[string]string // ref -> sha, keys without "refs/" prefix
	Commits           map[string]*Commit
	PreviewMergeTrees map[int]string
	// CompareResults lets a test force CompareCommits(base, ref) outcomes,
	// keyed as "base..ref". Unset pairs default to CompareAhead.
	CompareResults map[string]CompareResult
	NextCommitSHA  func() string

	commitCounter int
}

// NewFake returns an empty Fake ready for a test to populate.
func NewFake() *Fake {
	return &Fake{
		PRs:               make(map[int]*PullRequest),
		Reviews:           make(map[int][]Review),
		CombinedStatuses:  make(map[string]*CombinedStatus),
		Refs:              make(map[string]string),
		Commits:           make(map[string]*Commit),
		PreviewMergeTrees: make(map[int]string),
		CompareResults:    make(map[string]CompareResult),
	}
}

func (f *Fake) nextSHA(prefix string) string {
	if f.NextCommitSHA != nil {
		return f.NextCommitSHA()
	}
	f.commitCounter++
	return fmt.Sprintf("%s%d", prefix, f.commitCounter)
}

func (f *Fake) ListOpenPRs(_ context.Context) ([]PullRequest, error) {
	var open []PullRequest
	for _, pr := range f.PRs {
		if pr.Open {
			open = append(open, *pr)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

func (f *Fake) GetPR(_ context.Context, number int, _ bool) (*PullRequest, error) {
	pr, ok := f.PRs[number]
	if !ok {
		return nil, newError(NotFound, "getPR", fmt.Sprintf("pr #%d not found", number), nil)
	}
	cp := *pr
	return &cp, nil
}

func (f *Fake) ListReviews(_ context.Context, number int) ([]Review, error) {
	return append([]Review(nil), f.Reviews[number]...), nil
}

func (f *Fake) ListCollaborators(_ context.Context) ([]Collaborator, error) {
	return append([]Collaborator(nil), f.Collaborators...), nil
}

func (f *Fake) GetCombinedStatus(_ context.Context, ref string) (*CombinedStatus, error) {
	if cs, ok := f.CombinedStatuses[ref]; ok {
		cp := *cs
		return &cp, nil
	}
	return &CombinedStatus{Aggregate: StatusPending}, nil
}

func (f *Fake) GetRequiredStatusContexts(_ context.Context, _ string) ([]string, error) {
	return append([]string(nil), f.RequiredContexts...), nil
}

func (f *Fake) CompareCommits(_ context.Context, base, ref string) (CompareResult, error) {
	if base == ref {
		return CompareIdentical, nil
	}
	key := base + ".." + ref
	if cmp, ok := f.CompareResults[key]; ok {
		return cmp, nil
	}
	return CompareAhead, nil
}

func (f *Fake) GetRef(_ context.Context, ref string) (string, error) {
	sha, ok := f.Refs[strings.TrimPrefix(ref, "refs/")]
	if !ok {
		return "", newError(NotFound, "getRef", fmt.Sprintf("ref %q not found", ref), nil)
	}
	return sha, nil
}

func (f *Fake) CreateRef(_ context.Context, ref, sha string) error {
	f.Refs[strings.TrimPrefix(ref, "refs/")] = sha
	return nil
}

func (f *Fake) UpdateRef(_ context.Context, ref, sha string, force bool) error {
	key := strings.TrimPrefix(ref, "refs/")
	current, exists := f.Refs[key]
	if exists && !force {
		ahead, _ := f.CompareCommits(context.Background(), current, sha)
		if ahead != CompareAhead {
			return newError(Unprocessable, "updateRef", "not a fast-forward", nil)
		}
	}
	f.Refs[key] = sha
	return nil
}

func (f *Fake) DeleteRef(_ context.Context, ref string) error {
	key := strings.TrimPrefix(ref, "refs/")
	if _, ok := f.Refs[key]; !ok {
		return newError(NotFound, "deleteRef", fmt.Sprintf("ref %q not found", ref), nil)
	}
	delete(f.Refs, key)
	return nil
}

func (f *Fake) GetCommit(_ context.Context, sha string) (*Commit, error) {
	c, ok := f.Commits[sha]
	if !ok {
		return nil, newError(NotFound, "getCommit", fmt.Sprintf("commit %q not found", sha), nil)
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) CreateCommit(_ context.Context, treeSHA, message string, parents []string) (string, error) {
	sha := f.nextSHA("commit-")
	f.Commits[sha] = &Commit{SHA: sha, TreeSHA: treeSHA, Message: message}
	return sha, nil
}

func (f *Fake) GetPreviewMergeTree(_ context.Context, number int) (string, error) {
	tree, ok := f.PreviewMergeTrees[number]
	if !ok {
		return "", newError(NotFound, "getPreviewMergeTree", fmt.Sprintf("no preview merge for #%d", number), nil)
	}
	return tree, nil
}

func (f *Fake) ListTags(_ context.Context) ([]Tag, error) {
	var tags []Tag
	for ref, sha := range f.Refs {
		if strings.HasPrefix(ref, "tags/") {
			tags = append(tags, Tag{Name: "refs/" + ref, TargetSHA: sha})
		}
	}
	return tags, nil
}

func (f *Fake) ListLabels(_ context.Context, number int) ([]string, error) {
	pr, ok := f.PRs[number]
	if !ok {
		return nil, newError(NotFound, "listLabels", fmt.Sprintf("pr #%d not found", number), nil)
	}
	return append([]string(nil), pr.Labels...), nil
}

func (f *Fake) AddLabels(_ context.Context, number int, names []string) error {
	pr, ok := f.PRs[number]
	if !ok {
		return newError(NotFound, "addLabels", fmt.Sprintf("pr #%d not found", number), nil)
	}
	for _, name := range names {
		if !pr.HasLabel(name) {
			pr.Labels = append(pr.Labels, name)
		}
	}
	return nil
}

func (f *Fake) RemoveLabel(_ context.Context, number int, name string) error {
	pr, ok := f.PRs[number]
	if !ok {
		return nil // tolerate NotFound silently, as the real gateway does
	}
	kept := pr.Labels[:0]
	for _, l := range pr.Labels {
		if l != name {
			kept = append(kept, l)
		}
	}
	pr.Labels = kept
	return nil
}

func (f *Fake) ClosePR(_ context.Context, number int) error {
	pr, ok := f.PRs[number]
	if !ok {
		return newError(NotFound, "closePR", fmt.Sprintf("pr #%d not found", number), nil)
	}
	pr.Open = false
	return nil
}
