package gitx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Git provides git operations rooted at one repository.
// All mutating operations on the same repo serialize through mu.
type Git struct {
	repoRoot string
	runner   CommandRunner
	mu       sync.Mutex
}

// New creates a Git instance for the repository at repoRoot.
func New(repoRoot string, runner CommandRunner) *Git {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Git{repoRoot: repoRoot, runner: runner}
}

// RepoRoot returns the repository root path.
func (g *Git) RepoRoot() string {
	return g.repoRoot
}

// Lock serializes compound mutations on this repository.
func (g *Git) Lock()   { g.mu.Lock() }
func (g *Git) Unlock() { g.mu.Unlock() }

func (g *Git) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	return g.runner.Run(ctx, g.repoRoot, timeout, args...)
}

// --- ref queries ---

// CurrentBranch returns the checked-out branch, or "" in detached HEAD.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, TimeoutRefQuery, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	if out == "HEAD" {
		return "", nil
	}
	return out, nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (g *Git) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, TimeoutRefQuery, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return out != "", nil
}

// BranchExists checks if a local branch exists.
func (g *Git) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := g.run(ctx, TimeoutRefQuery, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		if IsExitStatus(err, 1) {
			return false, nil
		}
		return false, fmt.Errorf("check branch %s: %w", branch, err)
	}
	return true, nil
}

// RemoteRefExists checks if origin/branch exists in the local remote refs.
func (g *Git) RemoteRefExists(ctx context.Context, branch string) (bool, error) {
	_, err := g.run(ctx, TimeoutRefQuery, "show-ref", "--verify", "--quiet", "refs/remotes/origin/"+branch)
	if err != nil {
		if IsExitStatus(err, 1) {
			return false, nil
		}
		return false, fmt.Errorf("check remote ref %s: %w", branch, err)
	}
	return true, nil
}

// RevListCount counts commits in range (e.g. "origin/main..main").
func (g *Git) RevListCount(ctx context.Context, revRange string) (int, error) {
	out, err := g.run(ctx, TimeoutRefQuery, "rev-list", "--count", revRange)
	if err != nil {
		return 0, fmt.Errorf("rev-list %s: %w", revRange, err)
	}
	n, convErr := strconv.Atoi(out)
	if convErr != nil {
		return 0, fmt.Errorf("rev-list %s: bad count %q", revRange, out)
	}
	return n, nil
}

// AheadBehind returns how far branch is ahead of and behind origin/branch.
func (g *Git) AheadBehind(ctx context.Context, branch string) (ahead, behind int, err error) {
	ahead, err = g.RevListCount(ctx, "origin/"+branch+".."+branch)
	if err != nil {
		return 0, 0, err
	}
	behind, err = g.RevListCount(ctx, branch+"..origin/"+branch)
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

// LastCommitTime returns the committer time of a branch tip. A branch with
// no usable date returns the zero time without error.
func (g *Git) LastCommitTime(ctx context.Context, branch string) (time.Time, error) {
	out, err := g.run(ctx, TimeoutRefQuery, "log", "-1", "--format=%ct", branch)
	if err != nil {
		return time.Time{}, fmt.Errorf("commit time of %s: %w", branch, err)
	}
	if out == "" {
		return time.Time{}, nil
	}
	sec, convErr := strconv.ParseInt(out, 10, 64)
	if convErr != nil {
		return time.Time{}, fmt.Errorf("commit time of %s: bad timestamp %q", branch, out)
	}
	return time.Unix(sec, 0), nil
}

// IsMergedInto reports whether branch's tip is an ancestor of target.
func (g *Git) IsMergedInto(ctx context.Context, branch, target string) (bool, error) {
	_, err := g.run(ctx, TimeoutRefQuery, "merge-base", "--is-ancestor", branch, target)
	if err != nil {
		if IsExitStatus(err, 1) {
			return false, nil
		}
		return false, fmt.Errorf("merge-base %s %s: %w", branch, target, err)
	}
	return true, nil
}

// LocalBranches lists local branch names.
func (g *Git) LocalBranches(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, TimeoutRefQuery, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// --- config ---

// ConfigGet reads a config value; a missing key returns "".
func (g *Git) ConfigGet(ctx context.Context, key string) (string, error) {
	out, err := g.run(ctx, TimeoutRefQuery, "config", "--get", key)
	if err != nil {
		if IsExitStatus(err, 1) {
			return "", nil
		}
		return "", fmt.Errorf("config get %s: %w", key, err)
	}
	return out, nil
}

// ConfigSet writes a config value.
func (g *Git) ConfigSet(ctx context.Context, key, value string) error {
	if _, err := g.run(ctx, TimeoutRefQuery, "config", key, value); err != nil {
		return fmt.Errorf("config set %s: %w", key, err)
	}
	return nil
}

// --- sync mutations ---

// FetchAll fetches all remotes, pruning removed refs.
func (g *Git) FetchAll(ctx context.Context) error {
	if _, err := g.run(ctx, TimeoutFetch, "fetch", "--all", "--prune", "--quiet"); err != nil {
		return fmt.Errorf("fetch all: %w", err)
	}
	return nil
}

// Push pushes branch to origin using an explicit refspec.
func (g *Git) Push(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, TimeoutPush, "push", "origin", branch+":refs/heads/"+branch, "--quiet"); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// Rebase rebases the current branch onto target.
func (g *Git) Rebase(ctx context.Context, target string) error {
	if _, err := g.run(ctx, TimeoutRebase, "rebase", target); err != nil {
		return fmt.Errorf("rebase onto %s: %w", target, err)
	}
	return nil
}

// RebaseAbort aborts an in-progress rebase. Best-effort.
func (g *Git) RebaseAbort(ctx context.Context) {
	_, _ = g.run(ctx, TimeoutRebase, "rebase", "--abort")
}

// PullFFOnly fast-forwards the current branch.
func (g *Git) PullFFOnly(ctx context.Context) error {
	if _, err := g.run(ctx, TimeoutFetch, "pull", "--ff-only", "--quiet"); err != nil {
		return fmt.Errorf("pull --ff-only: %w", err)
	}
	return nil
}

// UpdateRef fast-forwards a non-checked-out branch without touching the
// working tree.
func (g *Git) UpdateRef(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, TimeoutRefQuery, "update-ref", "refs/heads/"+branch, "refs/remotes/origin/"+branch); err != nil {
		return fmt.Errorf("update-ref %s: %w", branch, err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, TimeoutRemoval, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

// --- worktrees ---

// WorktreeInfo is one entry from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string // short name, "" when detached
	Bare   bool
}

// ListWorktrees parses the porcelain worktree listing.
func (g *Git) ListWorktrees(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := g.run(ctx, TimeoutRefQuery, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList decodes `git worktree list --porcelain` output.
func parseWorktreeList(out string) []WorktreeInfo {
	var wts []WorktreeInfo
	var cur *WorktreeInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				wts = append(wts, *cur)
			}
			cur = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			}
		case line == "bare":
			if cur != nil {
				cur.Bare = true
			}
		case line == "":
			if cur != nil {
				wts = append(wts, *cur)
				cur = nil
			}
		}
	}
	if cur != nil {
		wts = append(wts, *cur)
	}
	return wts
}

// WorktreeAdd creates a worktree at path on a new branch from base.
func (g *Git) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	if _, err := g.run(ctx, TimeoutRebase, "worktree", "add", "-b", branch, path, base); err != nil {
		return fmt.Errorf("worktree add %s: %w", path, err)
	}
	return nil
}

// WorktreeAddExisting attaches a worktree at path for an existing branch.
func (g *Git) WorktreeAddExisting(ctx context.Context, path, branch string) error {
	if _, err := g.run(ctx, TimeoutRebase, "worktree", "add", path, branch); err != nil {
		return fmt.Errorf("worktree add %s: %w", path, err)
	}
	return nil
}

// WorktreeRemove force-removes a worktree.
func (g *Git) WorktreeRemove(ctx context.Context, path string) error {
	if _, err := g.run(ctx, TimeoutRemoval, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("worktree remove %s: %w", path, err)
	}
	return nil
}

// WorktreePrune drops stale worktree registrations.
func (g *Git) WorktreePrune(ctx context.Context) error {
	if _, err := g.run(ctx, TimeoutRemoval, "worktree", "prune"); err != nil {
		return fmt.Errorf("worktree prune: %w", err)
	}
	return nil
}
