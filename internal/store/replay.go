package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openfleet/bosun/internal/store/driver"
	"github.com/openfleet/bosun/internal/task"
)

// applyEvent materializes one log event into the tasks/attempts tables.
func (s *Store) applyEvent(ctx context.Context, tx driver.Tx, ev *Event) error {
	switch ev.Type {
	case EventTaskCreated:
		var t task.Task
		if err := json.Unmarshal(ev.Payload, &t); err != nil {
			return fmt.Errorf("decode task.created: %w", err)
		}
		return s.insertTaskRow(ctx, tx, &t)

	case EventStatusChanged:
		var ch statusChange
		if err := json.Unmarshal(ev.Payload, &ch); err != nil {
			return fmt.Errorf("decode status_changed: %w", err)
		}
		return s.setStatusRow(ctx, tx, ev.TaskID, ch.To)

	case EventAttemptStarted:
		var a task.Attempt
		if err := json.Unmarshal(ev.Payload, &a); err != nil {
			return fmt.Errorf("decode attempt.started: %w", err)
		}
		return s.insertAttemptRow(ctx, tx, &a)

	case EventAttemptHeartbeat:
		var hb attemptHeartbeat
		if err := json.Unmarshal(ev.Payload, &hb); err != nil {
			return fmt.Errorf("decode attempt.heartbeat: %w", err)
		}
		return s.heartbeatAttemptRow(ctx, tx, ev.AttemptToken, hb.At)

	case EventAttemptFinished:
		var fin attemptFinish
		if err := json.Unmarshal(ev.Payload, &fin); err != nil {
			return fmt.Errorf("decode attempt.finished: %w", err)
		}
		return s.finishAttemptRow(ctx, tx, ev.AttemptToken, fin.Outcome, fin.Detail)

	case EventTaskArchived:
		_, err := tx.Exec(ctx, fmt.Sprintf(
			"UPDATE tasks SET archived = %s WHERE id = %s",
			boolLit(s.drv.Dialect(), true), s.ph(1)), ev.TaskID)
		return err

	default:
		// Unknown event types are skipped so old databases survive upgrades.
		return nil
	}
}
