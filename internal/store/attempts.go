package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/store/driver"
	"github.com/openfleet/bosun/internal/task"
)

// attemptFinish is the payload of an attempt.finished event.
type attemptFinish struct {
	Outcome task.Outcome `json:"outcome"`
	Detail  string       `json:"detail,omitempty"`
}

// StartAttempt records a new attempt. At most one attempt per task may be
// pending; a second start while one runs returns CodeAttemptActive. Retrying
// the same token is an idempotent no-op.
func (s *Store) StartAttempt(ctx context.Context, a *task.Attempt) error {
	if a.Token == "" || a.TaskID == "" {
		return bosunerr.ErrConfigInvalid("attempt", "token and task_id are required")
	}
	if _, err := s.GetTask(ctx, a.TaskID); err != nil {
		return err
	}

	pending, err := s.PendingAttempt(ctx, a.TaskID)
	if err != nil {
		return err
	}
	if pending != nil && pending.Token != a.Token {
		return bosunerr.ErrAttemptActive(a.TaskID)
	}

	a.StartedAt = s.now().UTC()
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	tx, err := s.drv.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertAttemptRow(ctx, tx, a); err != nil {
		return err
	}
	ev := Event{TaskID: a.TaskID, Type: EventAttemptStarted, AttemptToken: a.Token, Payload: payload}
	inserted, err := s.appendEvent(ctx, tx, &ev, "attempt:"+a.Token+":started")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if inserted {
		s.emit(ev)
	}
	return nil
}

func (s *Store) insertAttemptRow(ctx context.Context, tx driver.Tx, a *task.Attempt) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO attempts (token, task_id, sdk, branch, worktree, started_at)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (token) DO NOTHING`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)),
		a.Token, a.TaskID, string(a.SDK), a.Branch, a.Worktree,
		a.StartedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.Token, err)
	}
	return nil
}

// attemptHeartbeat is the payload of an attempt.heartbeat event.
type attemptHeartbeat struct {
	At time.Time `json:"at"`
}

// Heartbeat records liveness for a pending attempt. The event lands in the
// log between the attempt's started and finished events; beating an
// already-finished attempt is a no-op.
func (s *Store) Heartbeat(ctx context.Context, token string) error {
	a, err := s.GetAttempt(ctx, token)
	if err != nil {
		return err
	}
	if !a.Pending() {
		return nil
	}

	at := s.now().UTC()
	payload, err := json.Marshal(attemptHeartbeat{At: at})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	tx, err := s.drv.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.heartbeatAttemptRow(ctx, tx, token, at); err != nil {
		return err
	}
	ev := Event{TaskID: a.TaskID, Type: EventAttemptHeartbeat, AttemptToken: token, Payload: payload}
	inserted, err := s.appendEvent(ctx, tx, &ev, "")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if inserted {
		s.emit(ev)
	}
	return nil
}

func (s *Store) heartbeatAttemptRow(ctx context.Context, tx driver.Tx, token string, at time.Time) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE attempts SET heartbeat_at = %s
		WHERE token = %s AND finished_at IS NULL`,
		s.ph(1), s.ph(2)),
		at.Format(timeFormat), token)
	if err != nil {
		return fmt.Errorf("heartbeat attempt %s: %w", token, err)
	}
	return nil
}

// FinishAttempt closes a pending attempt with an outcome. Finishing an
// already-finished attempt is an idempotent no-op.
func (s *Store) FinishAttempt(ctx context.Context, token string, outcome task.Outcome, detail string) error {
	a, err := s.GetAttempt(ctx, token)
	if err != nil {
		return err
	}
	if !a.Pending() {
		return nil
	}

	payload, err := json.Marshal(attemptFinish{Outcome: outcome, Detail: detail})
	if err != nil {
		return fmt.Errorf("marshal finish: %w", err)
	}

	tx, err := s.drv.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.finishAttemptRow(ctx, tx, token, outcome, detail); err != nil {
		return err
	}
	ev := Event{TaskID: a.TaskID, Type: EventAttemptFinished, AttemptToken: token, Payload: payload}
	inserted, err := s.appendEvent(ctx, tx, &ev, "attempt:"+token+":finished")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if inserted {
		s.emit(ev)
	}
	return nil
}

func (s *Store) finishAttemptRow(ctx context.Context, tx driver.Tx, token string, outcome task.Outcome, detail string) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE attempts SET finished_at = %s, outcome = %s, detail = %s
		WHERE token = %s AND finished_at IS NULL`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4)),
		s.timestamp(), string(outcome), detail, token)
	if err != nil {
		return fmt.Errorf("finish attempt %s: %w", token, err)
	}
	return nil
}

const attemptColumns = "token, task_id, sdk, branch, worktree, started_at, heartbeat_at, finished_at, outcome, detail"

func scanAttempt(scan func(...any) error) (*task.Attempt, error) {
	var a task.Attempt
	var sdk, started, outcome string
	var heartbeat, finished sql.NullString
	if err := scan(&a.Token, &a.TaskID, &sdk, &a.Branch, &a.Worktree,
		&started, &heartbeat, &finished, &outcome, &a.Detail); err != nil {
		return nil, err
	}
	a.SDK = task.SDK(sdk)
	a.StartedAt = parseTime(started)
	if heartbeat.Valid && heartbeat.String != "" {
		t := parseTime(heartbeat.String)
		a.HeartbeatAt = &t
	}
	if finished.Valid && finished.String != "" {
		t := parseTime(finished.String)
		a.FinishedAt = &t
	}
	a.Outcome = task.Outcome(outcome)
	return &a, nil
}

// GetAttempt loads one attempt by token.
func (s *Store) GetAttempt(ctx context.Context, token string) (*task.Attempt, error) {
	row := s.drv.QueryRow(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE token = "+s.ph(1), token)
	a, err := scanAttempt(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bosunerr.ErrTaskNotFound(token)
		}
		return nil, fmt.Errorf("get attempt %s: %w", token, err)
	}
	return a, nil
}

// PendingAttempt returns the running attempt for a task, or nil.
func (s *Store) PendingAttempt(ctx context.Context, taskID string) (*task.Attempt, error) {
	row := s.drv.QueryRow(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE task_id = "+s.ph(1)+
			" AND finished_at IS NULL", taskID)
	a, err := scanAttempt(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pending attempt of %s: %w", taskID, err)
	}
	return a, nil
}

// PendingAttempts returns all running attempts across tasks. The supervisor
// uses this for orphan recovery after a crash.
func (s *Store) PendingAttempts(ctx context.Context) ([]*task.Attempt, error) {
	rows, err := s.drv.Query(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE finished_at IS NULL ORDER BY started_at")
	if err != nil {
		return nil, fmt.Errorf("pending attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*task.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttemptsForTask returns a task's attempts oldest first.
func (s *Store) AttemptsForTask(ctx context.Context, taskID string) ([]*task.Attempt, error) {
	rows, err := s.drv.Query(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE task_id = "+s.ph(1)+
			" ORDER BY started_at", taskID)
	if err != nil {
		return nil, fmt.Errorf("attempts of %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*task.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
