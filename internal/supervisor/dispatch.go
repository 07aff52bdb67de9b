package supervisor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/executor"
	"github.com/openfleet/bosun/internal/maintenance"
	"github.com/openfleet/bosun/internal/store"
	"github.com/openfleet/bosun/internal/task"
)

// dispatchReady pulls todo tasks without an active attempt and runs each
// through the router's candidate chain. One task at a time; a failure moves
// on to the next task.
func (s *Supervisor) dispatchReady(ctx context.Context) error {
	if s.deps.Store == nil || s.deps.Router == nil {
		return nil
	}
	ready, err := s.deps.Store.ListTasks(ctx, store.ListFilter{
		Statuses: []task.Status{task.StatusTodo},
	})
	if err != nil {
		return err
	}
	for _, t := range ready {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pending, err := s.deps.Store.PendingAttempt(ctx, t.ID)
		if err != nil {
			return err
		}
		if pending != nil {
			continue
		}
		if err := s.dispatchTask(ctx, t); err != nil {
			s.logger.Warn("task dispatch failed", "task", t.ID, "error", err)
		}
	}
	return nil
}

// dispatchTask walks the failover chain for one task. The first candidate
// comes from the distribution mode; later ones from the failover strategy.
func (s *Supervisor) dispatchTask(ctx context.Context, t *task.Task) error {
	exec, err := s.deps.Router.PickFor(t.Title)
	if err != nil {
		return err
	}
	var lastErr error
	for retry := 0; retry <= s.deps.Router.MaxRetries(); retry++ {
		err := s.runAttempt(ctx, t, exec)
		if err == nil {
			s.deps.Router.ReportSuccess(exec.SDK)
			return nil
		}
		lastErr = err
		if be := bosunerr.AsBosunError(err); be != nil && be.Code == bosunerr.CodeInvalidTransition {
			// The task changed under us; nothing to fail over to.
			return err
		}
		s.deps.Router.ReportFailure(exec.SDK)
		s.logger.Warn("attempt failed, trying next executor",
			"task", t.ID, "sdk", exec.SDK, "error", err)

		exec, err = s.deps.Router.Failover(exec.SDK)
		if err != nil {
			return fmt.Errorf("failover exhausted: %w", lastErr)
		}
	}
	return lastErr
}

// runAttempt drives one executor against one task: gate, worktree, agent,
// push, bookkeeping. A bus busy with another session routes the run to the
// pooled worker when one is configured.
func (s *Supervisor) runAttempt(ctx context.Context, t *task.Task, exec *executor.Executor) error {
	repo := s.repoFor(t)
	if repo == nil {
		return fmt.Errorf("no repository configured")
	}

	token := uuid.NewString()
	sessionID := "task:" + t.ID + ":" + token

	gate := s.deps.Gates.Gate(exec.SDK)
	pooled := false
	if err := gate.Acquire(sessionID, t.ID, executor.AcquireOptions{}); err != nil {
		be := bosunerr.AsBosunError(err)
		if be == nil || be.Code != bosunerr.CodeAdapterBusy || s.deps.Pool == nil {
			return err
		}
		pooled = true
		s.logger.Info("adapter busy, routing to pooled worker",
			"task", t.ID, "sdk", exec.SDK)
	}
	if !pooled {
		defer gate.Release(sessionID)
	}

	client := s.deps.Clients.For(exec.SDK)
	if client == nil && !pooled {
		return fmt.Errorf("no client registered for %s", exec.SDK)
	}

	branch := t.Branch
	if branch == "" {
		branch = task.BranchFor(t.ID, t.Title)
	}
	wt, err := repo.Worktrees.Allocate(ctx, token, branch, "main")
	if err != nil {
		return err
	}

	if err := s.deps.Store.StartAttempt(ctx, &task.Attempt{
		Token:    token,
		TaskID:   t.ID,
		SDK:      exec.SDK,
		Branch:   branch,
		Worktree: wt.Path,
	}); err != nil {
		return err
	}
	if err := s.deps.Store.SetStatus(ctx, t.ID, task.StatusInProgress); err != nil {
		return err
	}

	stopBeat := s.startHeartbeat(ctx, t.ID, token)
	req := &executor.Request{
		TaskID:    t.ID,
		Prompt:    t.Description,
		Worktree:  wt.Path,
		Model:     exec.Model,
		SessionID: sessionID,
	}
	var result *executor.Result
	var runErr error
	if pooled {
		result, runErr = s.deps.Pool.ExecPooled(ctx, exec.SDK, req)
	} else {
		result, runErr = client.Run(ctx, req)
	}
	stopBeat()

	if runErr != nil {
		s.finishFailed(ctx, t.ID, token, runErr)
		if err := repo.Worktrees.Release(ctx, wt); err != nil {
			s.logger.Warn("worktree release failed", "path", wt.Path, "error", err)
		}
		return runErr
	}

	if err := repo.Git.Push(ctx, branch); err != nil {
		s.finishFailed(ctx, t.ID, token, err)
		return err
	}

	detail := ""
	if result != nil {
		detail = fmt.Sprintf("tokens in=%d out=%d", result.Usage.Input, result.Usage.Output)
	}
	if err := s.deps.Store.FinishAttempt(ctx, token, task.OutcomePassed, detail); err != nil {
		return err
	}
	if err := s.deps.Store.SetStatus(ctx, t.ID, task.StatusInReview); err != nil {
		return err
	}
	if err := repo.Worktrees.Release(ctx, wt); err != nil {
		s.logger.Warn("worktree release failed", "path", wt.Path, "error", err)
	}
	s.logger.Info("attempt passed", "task", t.ID, "sdk", exec.SDK, "branch", branch)
	return nil
}

// finishFailed records an attempt failure and moves the task to failed.
// Both writes are best-effort: the caller already has the primary error.
func (s *Supervisor) finishFailed(ctx context.Context, taskID, token string, cause error) {
	if err := s.deps.Store.FinishAttempt(ctx, token, task.OutcomeFailed, cause.Error()); err != nil {
		s.logger.Warn("finish attempt failed", "token", token, "error", err)
	}
	if err := s.deps.Store.SetStatus(ctx, taskID, task.StatusFailed); err != nil {
		s.logger.Warn("status update failed", "task", taskID, "error", err)
	}
}

// repoFor selects the repository a task runs in. With one configured repo
// the answer is fixed; multi-repo deployments match by task labels later.
func (s *Supervisor) repoFor(t *task.Task) *maintenance.Repo {
	for i := range s.deps.Repos {
		if s.deps.Repos[i].Worktrees != nil && s.deps.Repos[i].Git != nil {
			return &s.deps.Repos[i]
		}
	}
	return nil
}
