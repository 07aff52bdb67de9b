package gitx

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/openfleet/bosun/internal/logx"
)

// branchSyncThrottleEnv overrides the sync log throttle window (ms, ≥5000).
const branchSyncThrottleEnv = "BRANCH_SYNC_LOG_THROTTLE_MS"

// DefaultBranchSyncThrottle is the default window for sync log throttling.
const DefaultBranchSyncThrottle = 5 * time.Minute

// minBranchSyncThrottle is the smallest configurable window.
const minBranchSyncThrottle = 5 * time.Second

// BranchSyncThrottleWindow resolves the sync log throttle window from the
// environment.
func BranchSyncThrottleWindow() time.Duration {
	raw := os.Getenv(branchSyncThrottleEnv)
	if raw == "" {
		return DefaultBranchSyncThrottle
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return DefaultBranchSyncThrottle
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minBranchSyncThrottle {
		return minBranchSyncThrottle
	}
	return d
}

// BranchManager keeps local tracking branches aligned with origin and
// garbage-collects stale task branches.
type BranchManager struct {
	git      *Git
	logger   *slog.Logger
	throttle *logx.Throttler
	now      func() time.Time
}

// NewBranchManager creates a BranchManager over git.
func NewBranchManager(git *Git, logger *slog.Logger) *BranchManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &BranchManager{
		git:      git,
		logger:   logger,
		throttle: logx.NewThrottler(logger, logx.WithWindow(BranchSyncThrottleWindow())),
		now:      time.Now,
	}
}

// SyncAction is the decision taken for one branch.
type SyncAction string

const (
	SyncSkip        SyncAction = "in-sync"
	SyncPush        SyncAction = "push"
	SyncRebasePush  SyncAction = "rebase-push"
	SyncFastForward SyncAction = "fast-forward"
	SyncUpdateRef   SyncAction = "update-ref"
	SyncSkipDirty    SyncAction = "skip-dirty"
	SyncSkipDiverged SyncAction = "skip-diverged"
)

// classifySync maps the branch state tuple to the action to take. The dirty
// check wins over divergence so the log order matches the decision order.
func classifySync(ahead, behind int, dirty, checkedOut bool) SyncAction {
	switch {
	case ahead == 0 && behind == 0:
		return SyncSkip
	case ahead > 0 && behind == 0:
		return SyncPush
	case ahead > 0 && behind > 0:
		if dirty {
			return SyncSkipDirty
		}
		if !checkedOut {
			return SyncSkipDiverged
		}
		return SyncRebasePush
	default: // behind only
		if checkedOut {
			if dirty {
				return SyncSkipDirty
			}
			return SyncFastForward
		}
		return SyncUpdateRef
	}
}

// SyncLocalTrackingBranches fast-forwards, pushes or rebases the named
// branches against origin. One fetch runs up front; a fetch failure aborts
// the whole pass with a throttled warning. Returns the number of branches
// actually moved.
func (b *BranchManager) SyncLocalTrackingBranches(ctx context.Context, branches []string) int {
	if err := b.git.FetchAll(ctx); err != nil {
		b.throttle.Warn("sync:fetch-all", "fetch --all failed, skipping branch sync", "error", err)
		return 0
	}

	current, err := b.git.CurrentBranch(ctx)
	if err != nil {
		b.throttle.Warn("sync:current-branch", "cannot determine current branch", "error", err)
		return 0
	}

	synced := 0
	for _, branch := range branches {
		if b.syncOne(ctx, branch, current) {
			synced++
		}
	}
	return synced
}

// syncOne handles a single branch; returns true when the branch moved.
func (b *BranchManager) syncOne(ctx context.Context, branch, current string) bool {
	localOK, err := b.git.BranchExists(ctx, branch)
	if err != nil || !localOK {
		return false
	}
	remoteOK, err := b.git.RemoteRefExists(ctx, branch)
	if err != nil || !remoteOK {
		return false
	}

	ahead, behind, err := b.git.AheadBehind(ctx, branch)
	if err != nil {
		b.throttle.Warn("sync:"+branch+":count", "ahead/behind query failed", "branch", branch, "error", err)
		return false
	}

	checkedOut := branch == current
	dirty := false
	if ahead > 0 && behind > 0 || (behind > 0 && checkedOut) {
		// The dirty check must be decided (and logged) before any
		// divergence message for this branch.
		dirty, err = b.git.HasUncommittedChanges(ctx)
		if err != nil {
			b.throttle.Warn("sync:"+branch+":status", "dirty check failed", "branch", branch, "error", err)
			return false
		}
	}

	switch classifySync(ahead, behind, dirty, checkedOut) {
	case SyncSkip:
		return false

	case SyncPush:
		if err := b.git.Push(ctx, branch); err != nil {
			b.throttle.Warn("sync:"+branch+":push", "push failed", "branch", branch, "error", err)
			return false
		}
		b.logger.Info("pushed local commits", "branch", branch, "ahead", ahead)
		return true

	case SyncSkipDirty:
		b.throttle.Info("sync:"+branch+":dirty", "has uncommitted changes — skipping pull", "branch", branch)
		return false

	case SyncSkipDiverged:
		b.throttle.Warn("sync:"+branch+":diverged",
			"diverged from origin but not checked out — rebase requires checkout, skipping",
			"branch", branch, "ahead", ahead, "behind", behind)
		return false

	case SyncRebasePush:
		b.logger.Info("rebasing diverged branch", "branch", branch, "ahead", ahead, "behind", behind)
		if err := b.git.Rebase(ctx, "origin/"+branch); err != nil {
			b.git.RebaseAbort(ctx)
			b.throttle.Warn("sync:"+branch+":rebase", "rebase failed, aborted", "branch", branch, "error", err)
			return false
		}
		if err := b.git.Push(ctx, branch); err != nil {
			b.throttle.Warn("sync:"+branch+":push", "push after rebase failed", "branch", branch, "error", err)
			return false
		}
		return true

	case SyncFastForward:
		if err := b.git.PullFFOnly(ctx); err != nil {
			b.throttle.Warn("sync:"+branch+":pull", "fast-forward pull failed", "branch", branch, "error", err)
			return false
		}
		b.logger.Info("fast-forwarded current branch", "branch", branch, "behind", behind)
		return true

	case SyncUpdateRef:
		if err := b.git.UpdateRef(ctx, branch); err != nil {
			b.throttle.Warn("sync:"+branch+":update-ref", "ref update failed", "branch", branch, "error", err)
			return false
		}
		b.logger.Info("fast-forwarded tracking ref", "branch", branch, "behind", behind)
		return true
	}
	return false
}
