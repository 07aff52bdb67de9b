package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/store/driver"
	"github.com/openfleet/bosun/internal/task"
)

// statusChange is the payload of a status_changed event.
type statusChange struct {
	From task.Status `json:"from"`
	To   task.Status `json:"to"`
}

// CreateTask inserts a new task and logs task.created. The task must carry
// an ID and title; status defaults to todo.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if t.ID == "" || t.Title == "" {
		return bosunerr.ErrConfigInvalid("task", "id and title are required")
	}
	if t.Status == "" {
		t.Status = task.StatusTodo
	}
	now := s.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	tx, err := s.drv.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertTaskRow(ctx, tx, t); err != nil {
		return err
	}
	ev := Event{TaskID: t.ID, Type: EventTaskCreated, Payload: payload}
	if _, err := s.appendEvent(ctx, tx, &ev, "task:"+t.ID+":created"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.emit(ev)
	return nil
}

func (s *Store) insertTaskRow(ctx context.Context, tx driver.Tx, t *task.Task) error {
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO tasks (id, title, description, status, sdk, branch, labels, external_ref, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10)),
		t.ID, t.Title, t.Description, string(t.Status), string(t.SDK), t.Branch,
		string(labels), t.ExternalRef,
		t.CreatedAt.Format(timeFormat), t.UpdatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

const taskColumns = "id, title, description, status, sdk, branch, labels, external_ref, created_at, updated_at"

func scanTask(scan func(...any) error) (*task.Task, error) {
	var t task.Task
	var status, sdk, labels, created, updated string
	if err := scan(&t.ID, &t.Title, &t.Description, &status, &sdk, &t.Branch,
		&labels, &t.ExternalRef, &created, &updated); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	t.SDK = task.SDK(sdk)
	if labels != "" && labels != "null" {
		if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
			return nil, fmt.Errorf("decode labels of %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// GetTask loads one task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.drv.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = "+s.ph(1), id)
	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bosunerr.ErrTaskNotFound(id)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// GetTaskByExternalRef loads the task mirrored to an external card.
func (s *Store) GetTaskByExternalRef(ctx context.Context, ref string) (*task.Task, error) {
	row := s.drv.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE external_ref = "+s.ph(1), ref)
	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, bosunerr.ErrTaskNotFound(ref)
		}
		return nil, fmt.Errorf("get task by ref %s: %w", ref, err)
	}
	return t, nil
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	Statuses []task.Status
	// IncludeArchived keeps archived tasks in the result.
	IncludeArchived bool
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f ListFilter) ([]*task.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var conds []string
	var args []any
	if !f.IncludeArchived {
		conds = append(conds, "archived = "+boolLit(s.drv.Dialect(), false))
	}
	if len(f.Statuses) > 0 {
		var ph []string
		for _, st := range f.Statuses {
			args = append(args, string(st))
			ph = append(ph, s.ph(len(args)))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.drv.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetStatus transitions a task through the status graph, logging the change.
// Disallowed transitions return CodeInvalidTransition and leave the row
// untouched.
func (s *Store) SetStatus(ctx context.Context, id string, to task.Status) error {
	cur, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := task.ValidateTransition(id, cur.Status, to); err != nil {
		return err
	}

	payload, err := json.Marshal(statusChange{From: cur.Status, To: to})
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}

	tx, err := s.drv.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.setStatusRow(ctx, tx, id, to); err != nil {
		return err
	}
	ev := Event{TaskID: id, Type: EventStatusChanged, Payload: payload}
	if _, err := s.appendEvent(ctx, tx, &ev, ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.emit(ev)
	return nil
}

func (s *Store) setStatusRow(ctx context.Context, tx driver.Tx, id string, to task.Status) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(
		"UPDATE tasks SET status = %s, updated_at = %s WHERE id = %s",
		s.ph(1), s.ph(2), s.ph(3)),
		string(to), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return nil
}

// UpdateTask persists title, description, labels, branch, sdk and external
// ref changes. Status changes must go through SetStatus.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	res, err := s.drv.Exec(ctx, fmt.Sprintf(`
		UPDATE tasks SET title = %s, description = %s, sdk = %s, branch = %s,
			labels = %s, external_ref = %s, updated_at = %s
		WHERE id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8)),
		t.Title, t.Description, string(t.SDK), t.Branch, string(labels),
		t.ExternalRef, s.timestamp(), t.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return bosunerr.ErrTaskNotFound(t.ID)
	}
	return nil
}

// ArchiveTerminal archives done and cancelled tasks untouched since cutoff.
// Returns the archived task IDs.
func (s *Store) ArchiveTerminal(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.drv.Query(ctx, fmt.Sprintf(`
		SELECT id FROM tasks
		WHERE archived = %s AND status IN (%s, %s) AND updated_at < %s`,
		boolLit(s.drv.Dialect(), false), s.ph(1), s.ph(2), s.ph(3)),
		string(task.StatusDone), string(task.StatusCancelled),
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("find archivable tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		tx, err := s.drv.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(
			"UPDATE tasks SET archived = %s, updated_at = %s WHERE id = %s",
			boolLit(s.drv.Dialect(), true), s.ph(1), s.ph(2)),
			s.timestamp(), id)
		if err == nil {
			ev := Event{TaskID: id, Type: EventTaskArchived}
			_, err = s.appendEvent(ctx, tx, &ev, "task:"+id+":archived")
		}
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("archive %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit archive %s: %w", id, err)
		}
		s.emit(Event{TaskID: id, Type: EventTaskArchived})
	}
	return ids, nil
}

// boolLit renders a boolean literal per dialect: SQLite stores 0/1.
func boolLit(d driver.Dialect, v bool) string {
	if d == driver.DialectPostgres {
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	if v {
		return "1"
	}
	return "0"
}
