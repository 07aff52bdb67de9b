package gitx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorktreePath(t *testing.T) {
	m := NewWorktreeManager(New("/repo", newFakeRunner(t)), nil)
	assert.Equal(t, filepath.Join("/repo", ".cache", "worktrees", "att-1"), m.WorktreePath("att-1"))
}

func TestAllocate_IdempotentByAttemptID(t *testing.T) {
	root := t.TempDir()
	r := newFakeRunner(t)
	m := NewWorktreeManager(New(root, r), nil)

	path := m.WorktreePath("att-1")
	require.NoError(t, os.MkdirAll(path, 0o755))

	wt, err := m.Allocate(context.Background(), "att-1", "ve/task-1", "main")
	require.NoError(t, err)
	assert.Equal(t, path, wt.Path)
	assert.Empty(t, r.calls, "existing worktree dir short-circuits git entirely")
}

func TestAllocate_CreatesNewWorktree(t *testing.T) {
	root := t.TempDir()
	r := newFakeRunner(t)
	path := filepath.Join(root, WorktreeDir, "att-2")
	r.on("worktree add -b ve/task-2 "+path+" main", "")

	m := NewWorktreeManager(New(root, r), nil)
	wt, err := m.Allocate(context.Background(), "att-2", "ve/task-2", "main")
	require.NoError(t, err)
	assert.Equal(t, "ve/task-2", wt.Branch)
	assert.Equal(t, "att-2", wt.AttemptID)
}

func TestAllocate_FallsBackToExistingBranch(t *testing.T) {
	root := t.TempDir()
	r := newFakeRunner(t)
	path := filepath.Join(root, WorktreeDir, "att-3")
	r.onErr("worktree add -b ve/task-3 "+path+" main",
		&CommandError{Output: "fatal: a branch named 've/task-3' already exists"})
	r.on("worktree add "+path+" ve/task-3", "")

	m := NewWorktreeManager(New(root, r), nil)
	_, err := m.Allocate(context.Background(), "att-3", "ve/task-3", "main")
	require.NoError(t, err)
	assert.True(t, r.called("worktree add "+path+" ve/task-3"))
}

func TestPruneStale_RemovesMissingAndExpired(t *testing.T) {
	root := t.TempDir()
	copilotPath := filepath.Join(root, WorktreeDir, "copilot-worktree-2020-01-01")
	require.NoError(t, os.MkdirAll(copilotPath, 0o755))
	missingPath := filepath.Join(root, WorktreeDir, "gone")

	r := newFakeRunner(t)
	r.on("worktree prune", "")
	r.on("worktree list --porcelain",
		"worktree "+root+"\nbranch refs/heads/main\n\n"+
			"worktree "+missingPath+"\nbranch refs/heads/ve/a\n\n"+
			"worktree "+copilotPath+"\nbranch refs/heads/ve/b")
	r.on("worktree remove --force "+missingPath, "")
	r.on("worktree remove --force "+copilotPath, "")

	m := NewWorktreeManager(New(root, r), nil)
	m.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	removed, err := m.PruneStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestPruneStale_KeepsRepoRootAndFreshWorktrees(t *testing.T) {
	root := t.TempDir()
	fresh := filepath.Join(root, WorktreeDir, "att-9")
	require.NoError(t, os.MkdirAll(fresh, 0o755))

	r := newFakeRunner(t)
	r.on("worktree prune", "")
	r.on("worktree list --porcelain",
		"worktree "+root+"\nbranch refs/heads/main\n\n"+
			"worktree "+fresh+"\nbranch refs/heads/ve/c")

	m := NewWorktreeManager(New(root, r), nil)
	removed, err := m.PruneStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCopilotWorktreeAge(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	age, ok := copilotWorktreeAge("/x/copilot-worktree-2026-01-03", now)
	require.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, age)

	_, ok = copilotWorktreeAge("/x/att-12345", now)
	assert.False(t, ok)
}

func TestRepairConfigCorruption(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	r := newFakeRunner(t)
	r.on("config --get core.bare", "true")
	r.on("config core.bare false", "")

	m := NewWorktreeManager(New(root, r), nil)
	repaired, err := m.RepairConfigCorruption(context.Background())
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.True(t, r.called("config core.bare false"))
}

func TestRepairConfigCorruption_NoopWhenClean(t *testing.T) {
	root := t.TempDir()
	r := newFakeRunner(t)
	r.on("config --get core.bare", "false")

	m := NewWorktreeManager(New(root, r), nil)
	repaired, err := m.RepairConfigCorruption(context.Background())
	require.NoError(t, err)
	assert.False(t, repaired)
}
