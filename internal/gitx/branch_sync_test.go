package gitx

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/bosun/internal/logx"
)

func TestClassifySync(t *testing.T) {
	tests := []struct {
		name       string
		ahead      int
		behind     int
		dirty      bool
		checkedOut bool
		want       SyncAction
	}{
		{"in sync", 0, 0, false, true, SyncSkip},
		{"ahead only", 2, 0, false, false, SyncPush},
		{"diverged dirty", 2, 3, true, true, SyncSkipDirty},
		{"diverged dirty not checked out", 2, 3, true, false, SyncSkipDirty},
		{"diverged clean checked out", 2, 3, false, true, SyncRebasePush},
		{"diverged clean not checked out", 2, 3, false, false, SyncSkipDiverged},
		{"behind checked out clean", 0, 3, false, true, SyncFastForward},
		{"behind checked out dirty", 0, 3, true, true, SyncSkipDirty},
		{"behind not checked out", 0, 3, false, false, SyncUpdateRef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySync(tt.ahead, tt.behind, tt.dirty, tt.checkedOut)
			assert.Equal(t, tt.want, got)
		})
	}
}

// newTestBranchManager wires a BranchManager whose logs land in buf and whose
// throttler never suppresses across a single test.
func newTestBranchManager(t *testing.T, r *fakeRunner, buf *bytes.Buffer) *BranchManager {
	logger := slog.New(slog.NewTextHandler(buf, nil))
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &BranchManager{
		git:      New("/repo", r),
		logger:   logger,
		throttle: logx.NewThrottler(logger),
		now:      func() time.Time { return clock },
	}
}

// prepBranch registers the queries every sync pass makes for one branch.
func prepBranch(r *fakeRunner, branch string, ahead, behind int) {
	r.on("show-ref --verify --quiet refs/heads/"+branch, "")
	r.on("show-ref --verify --quiet refs/remotes/origin/"+branch, "")
	r.on("rev-list --count origin/"+branch+".."+branch, strconv.Itoa(ahead))
	r.on("rev-list --count "+branch+"..origin/"+branch, strconv.Itoa(behind))
}

func TestSync_FetchFailureAbortsPass(t *testing.T) {
	r := newFakeRunner(t)
	r.onErr("fetch --all --prune --quiet", errors.New("network down"))

	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)

	synced := bm.SyncLocalTrackingBranches(context.Background(), []string{"ve/x"})
	assert.Zero(t, synced)
	assert.Len(t, r.calls, 1, "nothing runs after a failed fetch")
	assert.Contains(t, buf.String(), "skipping branch sync")
}

func TestSync_AheadOnlyPushes(t *testing.T) {
	r := newFakeRunner(t)
	r.on("fetch --all --prune --quiet", "")
	r.on("rev-parse --abbrev-ref HEAD", "main")
	prepBranch(r, "ve/x", 1, 0)
	r.on("push origin ve/x:refs/heads/ve/x --quiet", "")

	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)

	synced := bm.SyncLocalTrackingBranches(context.Background(), []string{"ve/x"})
	assert.Equal(t, 1, synced)
	assert.True(t, r.called("push origin ve/x:refs/heads/ve/x --quiet"))
}

func TestSync_DivergedDirtySkipsWithSingleInfoLog(t *testing.T) {
	r := newFakeRunner(t)
	r.on("fetch --all --prune --quiet", "")
	r.on("rev-parse --abbrev-ref HEAD", "ve/x")
	prepBranch(r, "ve/x", 2, 3)
	r.on("status --porcelain", " M internal/foo.go")

	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)

	synced := bm.SyncLocalTrackingBranches(context.Background(), []string{"ve/x"})
	assert.Zero(t, synced)

	logs := buf.String()
	assert.Contains(t, logs, "has uncommitted changes")
	assert.NotContains(t, logs, "diverged", "dirty skip must preempt any divergence message")
	assert.False(t, r.called("rebase origin/ve/x"), "no rebase on a dirty tree")
}

func TestSync_DivergedCleanCurrentBranchRebasesAndPushes(t *testing.T) {
	r := newFakeRunner(t)
	r.on("fetch --all --prune --quiet", "")
	r.on("rev-parse --abbrev-ref HEAD", "ve/x")
	prepBranch(r, "ve/x", 2, 3)
	r.on("status --porcelain", "")
	r.on("rebase origin/ve/x", "")
	r.on("push origin ve/x:refs/heads/ve/x --quiet", "")

	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)

	synced := bm.SyncLocalTrackingBranches(context.Background(), []string{"ve/x"})
	assert.Equal(t, 1, synced)
	assert.True(t, r.called("rebase origin/ve/x"))
	assert.True(t, r.called("push origin ve/x:refs/heads/ve/x --quiet"))
}

func TestSync_RebaseFailureAborts(t *testing.T) {
	r := newFakeRunner(t)
	r.on("fetch --all --prune --quiet", "")
	r.on("rev-parse --abbrev-ref HEAD", "ve/x")
	prepBranch(r, "ve/x", 2, 3)
	r.on("status --porcelain", "")
	r.onErr("rebase origin/ve/x", errors.New("CONFLICT"))
	r.on("rebase --abort", "")

	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)

	synced := bm.SyncLocalTrackingBranches(context.Background(), []string{"ve/x"})
	assert.Zero(t, synced)
	assert.True(t, r.called("rebase --abort"), "failed rebase must be aborted")
	assert.False(t, r.called("push origin ve/x:refs/heads/ve/x --quiet"))
}

func TestSync_BehindNotCheckedOutUpdatesRef(t *testing.T) {
	r := newFakeRunner(t)
	r.on("fetch --all --prune --quiet", "")
	r.on("rev-parse --abbrev-ref HEAD", "main")
	prepBranch(r, "ve/x", 0, 3)
	r.on("update-ref refs/heads/ve/x refs/remotes/origin/ve/x", "")

	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)

	synced := bm.SyncLocalTrackingBranches(context.Background(), []string{"ve/x"})
	assert.Equal(t, 1, synced)
	assert.True(t, r.called("update-ref refs/heads/ve/x refs/remotes/origin/ve/x"))
	assert.False(t, r.called("status --porcelain"), "no dirty check needed off the current branch")
}

func TestSync_MissingRefsSkipQuietly(t *testing.T) {
	r := newFakeRunner(t)
	r.on("fetch --all --prune --quiet", "")
	r.on("rev-parse --abbrev-ref HEAD", "main")
	r.on("show-ref --verify --quiet refs/heads/ve/x", "")
	r.onMissing("show-ref --verify --quiet refs/remotes/origin/ve/x")

	var buf bytes.Buffer
	bm := newTestBranchManager(t, r, &buf)

	synced := bm.SyncLocalTrackingBranches(context.Background(), []string{"ve/x"})
	assert.Zero(t, synced)
	assert.Empty(t, buf.String())
}

func TestBranchSyncThrottleWindow(t *testing.T) {
	t.Setenv("BRANCH_SYNC_LOG_THROTTLE_MS", "")
	assert.Equal(t, DefaultBranchSyncThrottle, BranchSyncThrottleWindow())

	t.Setenv("BRANCH_SYNC_LOG_THROTTLE_MS", "10000")
	assert.Equal(t, 10*time.Second, BranchSyncThrottleWindow())

	// Below the floor clamps up.
	t.Setenv("BRANCH_SYNC_LOG_THROTTLE_MS", "1000")
	assert.Equal(t, 5*time.Second, BranchSyncThrottleWindow())

	t.Setenv("BRANCH_SYNC_LOG_THROTTLE_MS", "not-a-number")
	assert.Equal(t, DefaultBranchSyncThrottle, BranchSyncThrottleWindow())
}

func TestNewBranchManagerDefaults(t *testing.T) {
	bm := NewBranchManager(New("/repo", newFakeRunner(t)), nil)
	require.NotNil(t, bm.logger)
	require.NotNil(t, bm.throttle)
}
