package supervisor

import (
	"context"

	"github.com/openfleet/bosun/internal/task"
)

// orphanAge is how stale an attempt's last heartbeat (or start, before any
// heartbeat) must be before recovery declares its owner gone. Several
// missed heartbeat intervals, so a briefly stalled writer survives.
const orphanAge = 10 * heartbeatInterval

// recoverOrphans finishes attempts whose owner stopped heartbeating. Each
// is closed as failed ("orphaned") and its task moved to failed so a retry
// can pick it up. Attempts with a fresh heartbeat are left alone; worktrees
// are left for the sweeper's prune step.
func (s *Supervisor) recoverOrphans(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	pending, err := s.deps.Store.PendingAttempts(ctx)
	if err != nil {
		return err
	}
	cutoff := s.now().Add(-orphanAge)
	for _, a := range pending {
		if a.LastSeen().After(cutoff) {
			s.logger.Debug("pending attempt still heartbeating",
				"task", a.TaskID, "token", a.Token, "last_seen", a.LastSeen())
			continue
		}
		if err := s.deps.Store.FinishAttempt(ctx, a.Token, task.OutcomeFailed, "orphaned"); err != nil {
			s.logger.Warn("orphan finish failed", "token", a.Token, "error", err)
			continue
		}
		t, err := s.deps.Store.GetTask(ctx, a.TaskID)
		if err != nil {
			s.logger.Warn("orphan task lookup failed", "task", a.TaskID, "error", err)
			continue
		}
		if t.Status == task.StatusInProgress || t.Status == task.StatusInReview {
			if err := s.deps.Store.SetStatus(ctx, a.TaskID, task.StatusFailed); err != nil {
				s.logger.Warn("orphan status update failed", "task", a.TaskID, "error", err)
				continue
			}
		}
		s.logger.Warn("recovered orphaned attempt", "task", a.TaskID, "token", a.Token)
	}
	return nil
}
