package gitx

import (
	"context"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Defaults for stale-branch cleanup.
var (
	// DefaultStaleBranchPrefixes are the branch name prefixes bosun owns and
	// may garbage-collect.
	DefaultStaleBranchPrefixes = []string{"ve/", "copilot-worktree-"}

	// DefaultProtectedBranches are never deleted, prefix match or not.
	// Patterns use glob syntax.
	DefaultProtectedBranches = []string{"main", "mainnet/main"}
)

// DefaultStaleBranchMinAge is the youngest a branch may be and still be
// collected.
const DefaultStaleBranchMinAge = 24 * time.Hour

// SkipReason explains why cleanup left a branch alone.
type SkipReason string

const (
	SkipProtected         SkipReason = "protected"
	SkipCheckedOut        SkipReason = "checked-out"
	SkipActiveWorktree    SkipReason = "active-worktree"
	SkipTooRecent         SkipReason = "too-recent"
	SkipUnpushedCommits   SkipReason = "unpushed-commits"
	SkipNotPushedNotMerge SkipReason = "not-pushed-not-merged"
	SkipNoCommitDate      SkipReason = "no-commit-date"
	SkipDateCheckFailed   SkipReason = "date-check-failed"
)

// CleanupOptions tunes CleanupStaleBranches. Zero values take the defaults.
type CleanupOptions struct {
	Prefixes  []string
	Protected []string
	MinAge    time.Duration
	DryRun    bool
	// MergeTarget is the branch merged-into checks run against.
	// Defaults to "origin/main".
	MergeTarget string
}

func (o *CleanupOptions) fill() {
	if len(o.Prefixes) == 0 {
		o.Prefixes = DefaultStaleBranchPrefixes
	}
	if len(o.Protected) == 0 {
		o.Protected = DefaultProtectedBranches
	}
	if o.MinAge <= 0 {
		o.MinAge = DefaultStaleBranchMinAge
	}
	if o.MergeTarget == "" {
		o.MergeTarget = "origin/main"
	}
}

// CleanupResult reports what a cleanup pass did.
type CleanupResult struct {
	Deleted []string
	Skipped map[string]SkipReason
	Errors  map[string]error
}

// CleanupStaleBranches deletes local task branches that are old, pushed (or
// merged), not checked out anywhere, and not protected. With DryRun the
// result lists what would be deleted but no refs move.
func (b *BranchManager) CleanupStaleBranches(ctx context.Context, opts CleanupOptions) (*CleanupResult, error) {
	opts.fill()

	res := &CleanupResult{
		Skipped: make(map[string]SkipReason),
		Errors:  make(map[string]error),
	}

	branches, err := b.git.LocalBranches(ctx)
	if err != nil {
		return nil, err
	}

	current, err := b.git.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	worktrees, err := b.git.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	wtBranches := make(map[string]bool, len(worktrees))
	for _, wt := range worktrees {
		if wt.Branch != "" {
			wtBranches[wt.Branch] = true
		}
	}

	now := b.now()
	for _, branch := range branches {
		if !hasAnyPrefix(branch, opts.Prefixes) {
			continue
		}

		if reason, ok := b.classifyStale(ctx, branch, current, wtBranches, opts, now); !ok {
			res.Skipped[branch] = reason
			continue
		}

		if opts.DryRun {
			res.Deleted = append(res.Deleted, branch)
			continue
		}
		if err := b.git.DeleteBranch(ctx, branch); err != nil {
			res.Errors[branch] = err
			continue
		}
		res.Deleted = append(res.Deleted, branch)
		b.logger.Info("deleted stale branch", "branch", branch)
	}
	return res, nil
}

// classifyStale decides whether one branch is collectable. Returns ok=true
// when the branch should be deleted, otherwise the reason it is kept.
func (b *BranchManager) classifyStale(ctx context.Context, branch, current string, wtBranches map[string]bool, opts CleanupOptions, now time.Time) (SkipReason, bool) {
	if matchesAny(branch, opts.Protected) {
		return SkipProtected, false
	}
	if branch == current {
		return SkipCheckedOut, false
	}
	if wtBranches[branch] {
		return SkipActiveWorktree, false
	}

	tip, err := b.git.LastCommitTime(ctx, branch)
	if err != nil {
		return SkipDateCheckFailed, false
	}
	if tip.IsZero() {
		return SkipNoCommitDate, false
	}
	if now.Sub(tip) < opts.MinAge {
		return SkipTooRecent, false
	}

	remoteOK, err := b.git.RemoteRefExists(ctx, branch)
	if err != nil {
		return SkipDateCheckFailed, false
	}
	if remoteOK {
		ahead, _, err := b.git.AheadBehind(ctx, branch)
		if err != nil {
			return SkipDateCheckFailed, false
		}
		if ahead > 0 {
			return SkipUnpushedCommits, false
		}
		return "", true
	}

	// No remote ref: only safe when the work already landed in the target.
	merged, err := b.git.IsMergedInto(ctx, branch, opts.MergeTarget)
	if err != nil || !merged {
		return SkipNotPushedNotMerge, false
	}
	return "", true
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

// matchesAny reports whether name matches any of the glob patterns.
// A malformed pattern is treated as a literal name.
func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			if p == name {
				return true
			}
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
