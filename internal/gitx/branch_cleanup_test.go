package gitx

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prepCleanupRepo registers the listing queries a cleanup pass always makes.
func prepCleanupRepo(r *fakeRunner, branches string, current string) {
	r.on("for-each-ref --format=%(refname:short) refs/heads/", branches)
	r.on("rev-parse --abbrev-ref HEAD", current)
	r.on("worktree list --porcelain", "worktree /repo\nbranch refs/heads/"+current)
}

// commitTime stamps a branch tip n hours before the test clock.
func commitTime(r *fakeRunner, branch string, clock time.Time, age time.Duration) {
	r.on("log -1 --format=%ct "+branch, strconv.FormatInt(clock.Add(-age).Unix(), 10))
}

func newTestCleanupManager(t *testing.T, r *fakeRunner, clock time.Time) *BranchManager {
	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)
	bm.now = func() time.Time { return clock }
	return bm
}

func TestCleanup_DryRunReportsWithoutDeleting(t *testing.T) {
	clock := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := newFakeRunner(t)
	prepCleanupRepo(r, "main\nve/abc", "main")
	commitTime(r, "ve/abc", clock, 48*time.Hour)
	r.on("show-ref --verify --quiet refs/remotes/origin/ve/abc", "")
	r.on("rev-list --count origin/ve/abc..ve/abc", "0")
	r.on("rev-list --count ve/abc..origin/ve/abc", "0")

	bm := newTestCleanupManager(t, r, clock)
	res, err := bm.CleanupStaleBranches(context.Background(), CleanupOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"ve/abc"}, res.Deleted)
	assert.False(t, r.called("branch -D ve/abc"), "dry run must not move refs")
}

func TestCleanup_DeletesPushedStaleBranch(t *testing.T) {
	clock := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := newFakeRunner(t)
	prepCleanupRepo(r, "main\nve/abc", "main")
	commitTime(r, "ve/abc", clock, 48*time.Hour)
	r.on("show-ref --verify --quiet refs/remotes/origin/ve/abc", "")
	r.on("rev-list --count origin/ve/abc..ve/abc", "0")
	r.on("rev-list --count ve/abc..origin/ve/abc", "0")
	r.on("branch -D ve/abc", "")

	bm := newTestCleanupManager(t, r, clock)
	res, err := bm.CleanupStaleBranches(context.Background(), CleanupOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ve/abc"}, res.Deleted)
	assert.Empty(t, res.Errors)
	assert.True(t, r.called("branch -D ve/abc"))
}

func TestCleanup_SkipReasons(t *testing.T) {
	clock := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := newFakeRunner(t)

	branches := "main\nve/current\nve/wt\nve/recent\nve/unpushed\nve/local-only\nve/nodate"
	r.on("for-each-ref --format=%(refname:short) refs/heads/", branches)
	r.on("rev-parse --abbrev-ref HEAD", "ve/current")
	r.on("worktree list --porcelain",
		"worktree /repo\nbranch refs/heads/ve/current\n\nworktree /repo/.cache/worktrees/a1\nbranch refs/heads/ve/wt")

	commitTime(r, "ve/recent", clock, time.Hour)

	commitTime(r, "ve/unpushed", clock, 48*time.Hour)
	r.on("show-ref --verify --quiet refs/remotes/origin/ve/unpushed", "")
	r.on("rev-list --count origin/ve/unpushed..ve/unpushed", "2")
	r.on("rev-list --count ve/unpushed..origin/ve/unpushed", "0")

	commitTime(r, "ve/local-only", clock, 48*time.Hour)
	r.onMissing("show-ref --verify --quiet refs/remotes/origin/ve/local-only")
	r.onMissing("merge-base --is-ancestor ve/local-only origin/main")

	r.on("log -1 --format=%ct ve/nodate", "")

	bm := newTestCleanupManager(t, r, clock)
	res, err := bm.CleanupStaleBranches(context.Background(), CleanupOptions{})
	require.NoError(t, err)

	assert.Empty(t, res.Deleted)
	assert.Equal(t, map[string]SkipReason{
		"ve/current":    SkipCheckedOut,
		"ve/wt":         SkipActiveWorktree,
		"ve/recent":     SkipTooRecent,
		"ve/unpushed":   SkipUnpushedCommits,
		"ve/local-only": SkipNotPushedNotMerge,
		"ve/nodate":     SkipNoCommitDate,
	}, res.Skipped)
}

func TestCleanup_ProtectedPatterns(t *testing.T) {
	clock := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := newFakeRunner(t)
	prepCleanupRepo(r, "ve/keep", "main")

	bm := newTestCleanupManager(t, r, clock)
	res, err := bm.CleanupStaleBranches(context.Background(), CleanupOptions{
		Protected: []string{"ve/k*"},
	})
	require.NoError(t, err)

	assert.Empty(t, res.Deleted)
	assert.Equal(t, SkipProtected, res.Skipped["ve/keep"])
}

func TestCleanup_MergedLocalOnlyBranchIsCollected(t *testing.T) {
	clock := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := newFakeRunner(t)
	prepCleanupRepo(r, "ve/merged", "main")
	commitTime(r, "ve/merged", clock, 48*time.Hour)
	r.onMissing("show-ref --verify --quiet refs/remotes/origin/ve/merged")
	r.on("merge-base --is-ancestor ve/merged origin/main", "")
	r.on("branch -D ve/merged", "")

	bm := newTestCleanupManager(t, r, clock)
	res, err := bm.CleanupStaleBranches(context.Background(), CleanupOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ve/merged"}, res.Deleted)
}

func TestCleanup_NonOwnedPrefixesUntouched(t *testing.T) {
	clock := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	r := newFakeRunner(t)
	prepCleanupRepo(r, "feature/x\nrelease-1.2", "main")

	bm := newTestCleanupManager(t, r, clock)
	res, err := bm.CleanupStaleBranches(context.Background(), CleanupOptions{})
	require.NoError(t, err)

	assert.Empty(t, res.Deleted)
	assert.Empty(t, res.Skipped, "branches outside owned prefixes are ignored entirely")
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("main", DefaultProtectedBranches))
	assert.True(t, matchesAny("mainnet/main", DefaultProtectedBranches))
	assert.False(t, matchesAny("ve/main", DefaultProtectedBranches))
	assert.True(t, matchesAny("release/v1/hotfix", []string{"release/**"}))
}
