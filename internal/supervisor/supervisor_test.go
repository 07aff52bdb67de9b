package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfleet/bosun/internal/config"
	"github.com/openfleet/bosun/internal/executor"
	"github.com/openfleet/bosun/internal/gitx"
	"github.com/openfleet/bosun/internal/maintenance"
	"github.com/openfleet/bosun/internal/store"
	"github.com/openfleet/bosun/internal/task"
)

// okRunner answers every git invocation with empty success output.
type okRunner struct {
	calls []string
}

func (r *okRunner) Run(ctx context.Context, workDir string, timeout time.Duration, args ...string) (string, error) {
	r.calls = append(r.calls, strings.Join(args, " "))
	return "", nil
}

type stubClient struct {
	sdk  task.SDK
	err  error
	runs int
}

func (c *stubClient) SDK() task.SDK { return c.sdk }

func (c *stubClient) Run(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	c.runs++
	if c.err != nil {
		return nil, c.err
	}
	return &executor.Result{FinalText: "done", Usage: executor.TokenUsage{Input: 10, Output: 20}}, nil
}

func newTestSupervisor(t *testing.T, client *stubClient) (*Supervisor, *store.Store, *okRunner) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	runner := &okRunner{}
	git := gitx.New(t.TempDir(), runner)
	repo := maintenance.Repo{
		Git:       git,
		Worktrees: gitx.NewWorktreeManager(git, nil),
	}

	registry := executor.NewRegistry([]config.ExecutorConfig{{SDK: string(client.sdk)}})
	router := executor.NewRouter(registry, config.DistributionPrimaryOnly, config.FailoverConfig{}, nil)

	sup := New(*config.Default(), Deps{
		Store:   st,
		Router:  router,
		Gates:   executor.NewGatePool(),
		Clients: executor.ClientSet{client.sdk: client},
		Repos:   []maintenance.Repo{repo},
	}, nil)
	return sup, st, runner
}

func TestDispatchRunsReadyTask(t *testing.T) {
	client := &stubClient{sdk: task.SDKClaude}
	sup, st, runner := newTestSupervisor(t, client)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &task.Task{ID: "TASK-1", Title: "feat(core): add thing"}))
	require.NoError(t, sup.dispatchReady(ctx))

	assert.Equal(t, 1, client.runs)

	got, err := st.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInReview, got.Status)

	attempts, err := st.AttemptsForTask(ctx, "TASK-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, task.OutcomePassed, attempts[0].Outcome)
	assert.False(t, attempts[0].Pending())

	pushed := false
	for _, call := range runner.calls {
		if strings.HasPrefix(call, "push origin") {
			pushed = true
		}
	}
	assert.True(t, pushed, "branch must be pushed after a passing run")
}

func TestDispatchFailureMarksTaskFailed(t *testing.T) {
	client := &stubClient{sdk: task.SDKCodex, err: errors.New("agent crashed")}
	sup, st, _ := newTestSupervisor(t, client)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &task.Task{ID: "TASK-1", Title: "t"}))
	require.NoError(t, sup.dispatchReady(ctx))

	got, err := st.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)

	attempts, err := st.AttemptsForTask(ctx, "TASK-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, task.OutcomeFailed, attempts[0].Outcome)
	assert.Contains(t, attempts[0].Detail, "agent crashed")
}

func TestDispatchSkipsTasksWithPendingAttempt(t *testing.T) {
	client := &stubClient{sdk: task.SDKClaude}
	sup, st, _ := newTestSupervisor(t, client)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &task.Task{ID: "TASK-1", Title: "t"}))
	require.NoError(t, st.StartAttempt(ctx, &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKClaude, Branch: "ve/x"}))

	require.NoError(t, sup.dispatchReady(ctx))
	assert.Zero(t, client.runs, "a task with a pending attempt is not redispatched")
}

func TestRecoverOrphans_StaleAttemptFails(t *testing.T) {
	client := &stubClient{sdk: task.SDKClaude}
	sup, st, _ := newTestSupervisor(t, client)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &task.Task{ID: "TASK-1", Title: "t"}))
	require.NoError(t, st.SetStatus(ctx, "TASK-1", task.StatusInProgress))
	require.NoError(t, st.StartAttempt(ctx, &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKClaude, Branch: "ve/x"}))

	// Nothing has heartbeated for well past the orphan threshold.
	sup.now = func() time.Time { return time.Now().Add(orphanAge + time.Minute) }
	require.NoError(t, sup.recoverOrphans(ctx))

	a, err := st.GetAttempt(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, task.OutcomeFailed, a.Outcome)
	assert.Equal(t, "orphaned", a.Detail)

	got, err := st.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status, "orphaned work returns to failed for retry")

	pending, err := st.PendingAttempts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecoverOrphans_FreshHeartbeatSpared(t *testing.T) {
	client := &stubClient{sdk: task.SDKClaude}
	sup, st, _ := newTestSupervisor(t, client)
	ctx := context.Background()

	require.NoError(t, st.CreateTask(ctx, &task.Task{ID: "TASK-1", Title: "t"}))
	require.NoError(t, st.SetStatus(ctx, "TASK-1", task.StatusInProgress))
	require.NoError(t, st.StartAttempt(ctx, &task.Attempt{Token: "tok-1", TaskID: "TASK-1", SDK: task.SDKClaude, Branch: "ve/x"}))
	require.NoError(t, st.Heartbeat(ctx, "tok-1"))

	require.NoError(t, sup.recoverOrphans(ctx))

	a, err := st.GetAttempt(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, a.Pending(), "a heartbeating attempt belongs to a live owner")

	got, err := st.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, got.Status)
}

// stubPool records runs handed off when the adapter bus is busy.
type stubPool struct {
	runs int
}

func (p *stubPool) ExecPooled(ctx context.Context, sdk task.SDK, req *executor.Request) (*executor.Result, error) {
	p.runs++
	return &executor.Result{FinalText: "pooled"}, nil
}

func TestBusyAdapterRoutesToPool(t *testing.T) {
	client := &stubClient{sdk: task.SDKClaude}
	sup, st, _ := newTestSupervisor(t, client)
	pool := &stubPool{}
	sup.deps.Pool = pool
	ctx := context.Background()

	// Another session holds the claude bus for its own task.
	gate := sup.deps.Gates.Gate(task.SDKClaude)
	require.NoError(t, gate.Acquire("other-session", "TASK-0", executor.AcquireOptions{}))

	require.NoError(t, st.CreateTask(ctx, &task.Task{ID: "TASK-1", Title: "t"}))
	require.NoError(t, sup.dispatchReady(ctx))

	assert.Zero(t, client.runs, "the busy bus is not contended")
	assert.Equal(t, 1, pool.runs)
	assert.Equal(t, "other-session", gate.ActiveSession(), "the holder keeps the bus")

	got, err := st.GetTask(ctx, "TASK-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInReview, got.Status)
}
