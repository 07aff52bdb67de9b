package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/task"
)

func newTestStore(t *testing.T) *Store {
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, id, title string) *task.Task {
	tk := &task.Task{ID: id, Title: title}
	require.NoError(t, s.CreateTask(context.Background(), tk))
	return tk
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := &task.Task{
		ID:     "TASK-1",
		Title:  "fix the lock file",
		SDK:    task.SDKClaude,
		Labels: []string{"bosun", "codex-monitor"},
	}
	require.NoError(t, s.CreateTask(ctx, tk))

	got, err := s.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, got.Status)
	assert.Equal(t, task.SDKClaude, got.SDK)
	assert.Equal(t, []string{"bosun", "codex-monitor"}, got.Labels)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "TASK-404")
	var be *bosunerr.BosunError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bosunerr.CodeTaskNotFound, be.Code)
}

func TestSetStatus_TransitionGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "t")

	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusInProgress))
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusInReview))
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusDone))

	// Terminal status rejects further movement and leaves the row untouched.
	err := s.SetStatus(ctx, "TASK-1", task.StatusInProgress)
	var be *bosunerr.BosunError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bosunerr.CodeInvalidTransition, be.Code)

	got, err := s.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)
}

func TestSetStatus_FailedRetries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "t")

	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusInProgress))
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusFailed))
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusInProgress))
}

func TestStartAttempt_SecondPendingRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "t")

	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{
		Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex,
	}))

	err := s.StartAttempt(ctx, &task.Attempt{
		Token: "tok-2", TaskID: "TASK-1", SDK: task.SDKClaude,
	})
	var be *bosunerr.BosunError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, bosunerr.CodeAttemptActive, be.Code)
}

func TestStartAttempt_SameTokenIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "t")

	a := &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex}
	require.NoError(t, s.StartAttempt(ctx, a))
	require.NoError(t, s.StartAttempt(ctx, a), "replaying the same token must not error")

	attempts, err := s.AttemptsForTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)

	events, err := s.Events(ctx, "TASK-1")
	require.NoError(t, err)
	started := 0
	for _, ev := range events {
		if ev.Type == EventAttemptStarted {
			started++
		}
	}
	assert.Equal(t, 1, started, "duplicate start must not duplicate the log")
}

func TestFinishAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "t")

	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{
		Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex,
	}))
	require.NoError(t, s.FinishAttempt(ctx, "tok-1", task.OutcomePassed, "all green"))
	require.NoError(t, s.FinishAttempt(ctx, "tok-1", task.OutcomeFailed, "ignored"),
		"second finish is a no-op")

	a, err := s.GetAttempt(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, a.Pending())
	assert.Equal(t, task.OutcomePassed, a.Outcome)
	assert.Equal(t, "all green", a.Detail)

	// Finished attempt frees the task for the next one.
	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{
		Token: "tok-2", TaskID: "TASK-1", SDK: task.SDKClaude,
	}))
}

func TestHeartbeat_PersistsAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "t")

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{
		Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex,
	}))

	clock = clock.Add(30 * time.Second)
	require.NoError(t, s.Heartbeat(ctx, "tok-1"))
	clock = clock.Add(30 * time.Second)
	require.NoError(t, s.Heartbeat(ctx, "tok-1"))

	a, err := s.GetAttempt(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, a.HeartbeatAt)
	assert.Equal(t, clock, a.HeartbeatAt.UTC())
	assert.Equal(t, clock, a.LastSeen().UTC())

	require.NoError(t, s.FinishAttempt(ctx, "tok-1", task.OutcomePassed, ""))

	// The log keeps started before every heartbeat before finished.
	events, err := s.Events(ctx, "TASK-1")
	require.NoError(t, err)
	var got []EventType
	for _, ev := range events {
		if ev.AttemptToken == "tok-1" {
			got = append(got, ev.Type)
		}
	}
	assert.Equal(t, []EventType{
		EventAttemptStarted,
		EventAttemptHeartbeat,
		EventAttemptHeartbeat,
		EventAttemptFinished,
	}, got)
}

func TestHeartbeat_FinishedAttemptIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "t")

	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{
		Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex,
	}))
	require.NoError(t, s.FinishAttempt(ctx, "tok-1", task.OutcomeFailed, "red"))
	require.NoError(t, s.Heartbeat(ctx, "tok-1"))

	a, err := s.GetAttempt(ctx, "tok-1")
	require.NoError(t, err)
	assert.Nil(t, a.HeartbeatAt, "a finished attempt takes no more beats")
}

func TestPendingAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "a")
	mustCreate(t, s, "TASK-2", "b")

	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex}))
	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{Token: "tok-2", TaskID: "TASK-2", SDK: task.SDKClaude}))
	require.NoError(t, s.FinishAttempt(ctx, "tok-1", task.OutcomePassed, ""))

	pending, err := s.PendingAttempts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tok-2", pending[0].Token)
}

func TestListTasks_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, "TASK-1", "a")
	mustCreate(t, s, "TASK-2", "b")
	require.NoError(t, s.SetStatus(ctx, "TASK-2", task.StatusInProgress))

	all, err := s.ListTasks(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	todo, err := s.ListTasks(ctx, ListFilter{Statuses: []task.Status{task.StatusTodo}})
	require.NoError(t, err)
	require.Len(t, todo, 1)
	assert.Equal(t, "TASK-1", todo[0].ID)
}

func TestArchiveTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	mustCreate(t, s, "TASK-1", "old done")
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusCancelled))
	mustCreate(t, s, "TASK-2", "still open")

	clock = clock.Add(30 * 24 * time.Hour)
	ids, err := s.ArchiveTerminal(ctx, clock.Add(-14*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"TASK-1"}, ids)

	visible, err := s.ListTasks(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "TASK-2", visible[0].ID)

	// Archiving again finds nothing.
	ids, err = s.ArchiveTerminal(ctx, clock)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReplay_RebuildsMaterializedState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, "TASK-1", "t")
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusInProgress))
	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex}))
	require.NoError(t, s.Heartbeat(ctx, "tok-1"))
	require.NoError(t, s.FinishAttempt(ctx, "tok-1", task.OutcomeFailed, "tests red"))
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusFailed))

	require.NoError(t, s.Replay(ctx))

	got, err := s.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)

	a, err := s.GetAttempt(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeFailed, a.Outcome)
	assert.NotNil(t, a.HeartbeatAt, "heartbeats replay with the log")

	// Replay is idempotent.
	require.NoError(t, s.Replay(ctx))
	got, err = s.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
}

func TestSharedState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetSharedState(ctx, "kanban:cursor")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetSharedState(ctx, "kanban:cursor", "42"))
	require.NoError(t, s.SetSharedState(ctx, "kanban:cursor", "43"))

	v, err = s.GetSharedState(ctx, "kanban:cursor")
	require.NoError(t, err)
	assert.Equal(t, "43", v)

	require.NoError(t, s.DeleteSharedState(ctx, "kanban:cursor"))
	v, err = s.GetSharedState(ctx, "kanban:cursor")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestEventSink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var types []EventType
	s.SetEventSink(func(ev Event) { types = append(types, ev.Type) })

	mustCreate(t, s, "TASK-1", "t")
	require.NoError(t, s.SetStatus(ctx, "TASK-1", task.StatusInProgress))
	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex}))
	// Duplicate start does not re-emit.
	require.NoError(t, s.StartAttempt(ctx, &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKCodex}))

	assert.Equal(t, []EventType{EventTaskCreated, EventStatusChanged, EventAttemptStarted}, types)
}
