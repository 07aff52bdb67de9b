package gitx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// WorktreeDir is the directory under the repo root holding task worktrees.
const WorktreeDir = ".cache/worktrees"

// copilotWorktreeMaxAge is how long dated copilot worktrees may live.
const copilotWorktreeMaxAge = 7 * 24 * time.Hour

// copilotWorktreePattern matches the legacy copilot-worktree-YYYY-MM-DD form.
var copilotWorktreePattern = regexp.MustCompile(`copilot-worktree-(\d{4}-\d{2}-\d{2})`)

// Worktree describes an allocated task worktree.
type Worktree struct {
	RepoRoot  string
	Branch    string
	Path      string
	CreatedAt time.Time
	AttemptID string
}

// WorktreeManager allocates and reaps per-attempt worktrees for one repo.
type WorktreeManager struct {
	git    *Git
	logger *slog.Logger
	now    func() time.Time
}

// NewWorktreeManager creates a manager over git.
func NewWorktreeManager(git *Git, logger *slog.Logger) *WorktreeManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorktreeManager{git: git, logger: logger, now: time.Now}
}

// WorktreePath returns the canonical worktree path for an attempt.
func (m *WorktreeManager) WorktreePath(attemptID string) string {
	return filepath.Join(m.git.RepoRoot(), WorktreeDir, attemptID)
}

// Allocate creates (or reattaches) the worktree for an attempt, tracking a
// branch derived from baseBranch. Idempotent by attempt ID: an existing
// worktree directory for the same attempt is returned as-is.
func (m *WorktreeManager) Allocate(ctx context.Context, attemptID, branch, baseBranch string) (*Worktree, error) {
	m.git.Lock()
	defer m.git.Unlock()

	path := m.WorktreePath(attemptID)
	if _, err := os.Stat(path); err == nil {
		return &Worktree{
			RepoRoot:  m.git.RepoRoot(),
			Branch:    branch,
			Path:      path,
			CreatedAt: m.now(),
			AttemptID: attemptID,
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create worktrees dir: %w", err)
	}

	// A stale registration (directory deleted, git still tracking it) makes
	// the first add fail; prune and retry before giving up.
	err := m.git.WorktreeAdd(ctx, path, branch, baseBranch)
	if err != nil {
		if addErr := m.git.WorktreeAddExisting(ctx, path, branch); addErr == nil {
			err = nil
		} else {
			_ = m.git.WorktreePrune(ctx)
			err = m.git.WorktreeAdd(ctx, path, branch, baseBranch)
			if err != nil {
				err = m.git.WorktreeAddExisting(ctx, path, branch)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("allocate worktree for %s: %w", attemptID, err)
	}

	return &Worktree{
		RepoRoot:  m.git.RepoRoot(),
		Branch:    branch,
		Path:      path,
		CreatedAt: m.now(),
		AttemptID: attemptID,
	}, nil
}

// Release removes a worktree and prunes the registration.
func (m *WorktreeManager) Release(ctx context.Context, wt *Worktree) error {
	m.git.Lock()
	defer m.git.Unlock()

	if err := m.git.WorktreeRemove(ctx, wt.Path); err != nil {
		m.logger.Warn("worktree remove failed", "path", wt.Path, "error", err)
	}
	return m.git.WorktreePrune(ctx)
}

// PruneStale reaps worktrees that are gone from disk or past the legacy
// copilot age limit. The repo root worktree is never touched. Returns the
// number of worktrees force-removed.
func (m *WorktreeManager) PruneStale(ctx context.Context) (int, error) {
	m.git.Lock()
	defer m.git.Unlock()

	if err := m.git.WorktreePrune(ctx); err != nil {
		return 0, err
	}

	wts, err := m.git.ListWorktrees(ctx)
	if err != nil {
		return 0, err
	}

	repoRoot := m.git.RepoRoot()
	removed := 0
	for _, wt := range wts {
		if wt.Bare || samePath(wt.Path, repoRoot) {
			continue
		}

		if _, statErr := os.Stat(wt.Path); os.IsNotExist(statErr) {
			if err := m.git.WorktreeRemove(ctx, wt.Path); err == nil {
				removed++
				m.logger.Info("removed worktree missing from disk", "path", wt.Path)
			}
			continue
		}

		if age, ok := copilotWorktreeAge(wt.Path, m.now()); ok && age > copilotWorktreeMaxAge {
			if err := m.git.WorktreeRemove(ctx, wt.Path); err == nil {
				removed++
				m.logger.Info("removed expired copilot worktree", "path", wt.Path, "age", age.Round(time.Hour))
			}
		}
	}

	if removed > 0 {
		_ = m.git.WorktreePrune(ctx)
	}
	return removed, nil
}

// copilotWorktreeAge extracts the date from a copilot-worktree-YYYY-MM-DD
// path and returns its age.
func copilotWorktreeAge(path string, now time.Time) (time.Duration, bool) {
	match := copilotWorktreePattern.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return 0, false
	}
	t, err := time.Parse("2006-01-02", match[1])
	if err != nil {
		return 0, false
	}
	return now.Sub(t), true
}

// RepairConfigCorruption resets core.bare=true on a repo that actually has
// a working tree. Worktree churn is known to leave this behind, after which
// most porcelain commands refuse to run. Returns true when a repair was made.
func (m *WorktreeManager) RepairConfigCorruption(ctx context.Context) (bool, error) {
	bare, err := m.git.ConfigGet(ctx, "core.bare")
	if err != nil {
		return false, err
	}
	if bare != "true" {
		return false, nil
	}
	// A repo root with a .git directory is not a bare repo, whatever the
	// config claims.
	if _, statErr := os.Stat(filepath.Join(m.git.RepoRoot(), ".git")); statErr != nil {
		return false, nil
	}
	if err := m.git.ConfigSet(ctx, "core.bare", "false"); err != nil {
		return false, err
	}
	m.logger.Warn("repaired core.bare corruption", "repo", m.git.RepoRoot())
	return true, nil
}

func samePath(a, b string) bool {
	ra, err1 := filepath.Abs(a)
	rb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return ra == rb
}
