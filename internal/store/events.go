package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfleet/bosun/internal/store/driver"
)

// EventType enumerates the append-only task event log.
type EventType string

const (
	EventTaskCreated      EventType = "task.created"
	EventStatusChanged    EventType = "task.status_changed"
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptHeartbeat EventType = "attempt.heartbeat"
	EventAttemptFinished  EventType = "attempt.finished"
	EventTaskArchived     EventType = "task.archived"
)

// Event is one record in the task event log.
type Event struct {
	Seq          int64           `json:"seq"`
	TaskID       string          `json:"task_id"`
	Type         EventType       `json:"type"`
	AttemptToken string          `json:"attempt_token,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// appendEvent inserts an event inside tx. Events carrying a key are
// idempotent: a replayed duplicate is dropped and inserted=false returned.
func (s *Store) appendEvent(ctx context.Context, tx driver.Tx, ev *Event, key string) (bool, error) {
	payload := ev.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	var keyArg any
	if key != "" {
		keyArg = key
	}
	var tokenArg any
	if ev.AttemptToken != "" {
		tokenArg = ev.AttemptToken
	}

	res, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO task_events (task_id, type, attempt_token, event_key, payload, created_at)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (event_key) DO NOTHING`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)),
		ev.TaskID, string(ev.Type), tokenArg, keyArg, string(payload), s.timestamp())
	if err != nil {
		return false, fmt.Errorf("append event %s: %w", ev.Type, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event %s: %w", ev.Type, err)
	}
	return n > 0, nil
}

// emit forwards an event to the sink after its transaction committed.
func (s *Store) emit(ev Event) {
	if s.sink != nil {
		ev.CreatedAt = s.now().UTC()
		s.sink(ev)
	}
}

// Events returns the event log for a task in append order. A task ID of ""
// returns the full log.
func (s *Store) Events(ctx context.Context, taskID string) ([]Event, error) {
	query := `SELECT seq, task_id, type, COALESCE(attempt_token, ''), payload, created_at
		FROM task_events`
	var args []any
	if taskID != "" {
		query += " WHERE task_id = " + s.ph(1)
		args = append(args, taskID)
	}
	query += " ORDER BY seq"

	rows, err := s.drv.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ev Event
		var typ, payload, created string
		if err := rows.Scan(&ev.Seq, &ev.TaskID, &typ, &ev.AttemptToken, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = EventType(typ)
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt = parseTime(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Replay rebuilds the materialized tasks and attempts tables from the event
// log. Running it against an intact store is a no-op: the log is the
// authority and replaying it twice produces identical rows.
func (s *Store) Replay(ctx context.Context) error {
	events, err := s.Events(ctx, "")
	if err != nil {
		return err
	}

	tx, err := s.drv.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin replay: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(ctx, "DELETE FROM attempts"); err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM tasks"); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}

	for _, ev := range events {
		if err := s.applyEvent(ctx, tx, &ev); err != nil {
			return fmt.Errorf("replay seq %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}
