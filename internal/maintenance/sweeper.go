// Package maintenance runs the periodic housekeeping sweep: stale monitor
// kill, stuck git push reaping, worktree pruning, branch sync and GC, task
// archival, and repo config repair.
package maintenance

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openfleet/bosun/internal/config"
	"github.com/openfleet/bosun/internal/gitx"
	"github.com/openfleet/bosun/internal/procs"
	"github.com/openfleet/bosun/internal/store"
)

// Summary is the result of one sweep. Every step is best-effort; failures
// land in Errors and the sweep continues.
type Summary struct {
	StaleKilled     int      `json:"stale_killed"`
	PushesReaped    int      `json:"pushes_reaped"`
	WorktreesPruned int      `json:"worktrees_pruned"`
	BranchesSynced  int      `json:"branches_synced"`
	BranchesDeleted int      `json:"branches_deleted"`
	TasksArchived   int      `json:"tasks_archived"`
	Errors          []string `json:"errors,omitempty"`
}

func (s *Summary) merge(other *Summary) {
	s.WorktreesPruned += other.WorktreesPruned
	s.BranchesSynced += other.BranchesSynced
	s.BranchesDeleted += other.BranchesDeleted
	s.Errors = append(s.Errors, other.Errors...)
}

// Repo bundles the per-repository managers one sweep operates on.
type Repo struct {
	Git       *gitx.Git
	Worktrees *gitx.WorktreeManager
	Branches  *gitx.BranchManager
	// SyncBranches are the local tracking branches kept up to date.
	SyncBranches []string
}

// Sweeper executes the maintenance steps in order.
type Sweeper struct {
	cfg    config.MaintenanceConfig
	enum   procs.Enumerator
	store  *store.Store
	repos  []Repo
	logger *slog.Logger

	// childPID is a live agent child exempt from the stale-monitor kill.
	childPID int
	now      func() time.Time
	self     int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithEnumerator overrides the process enumerator.
func WithEnumerator(e procs.Enumerator) Option {
	return func(s *Sweeper) { s.enum = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithSelfPID overrides the PID treated as self.
func WithSelfPID(pid int) Option {
	return func(s *Sweeper) { s.self = pid }
}

// NewSweeper creates a sweeper over the given repos. store may be nil when
// running without a task database (pure git maintenance).
func NewSweeper(cfg config.MaintenanceConfig, repos []Repo, st *store.Store, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cfg:    cfg,
		enum:   procs.New(),
		store:  st,
		repos:  repos,
		logger: logger,
		now:    time.Now,
		self:   os.Getpid(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetChildPID marks a live agent child the stale-monitor step must spare.
// Zero clears the exemption.
func (s *Sweeper) SetChildPID(pid int) { s.childPID = pid }

// Sweep runs every step once, in order.
func (s *Sweeper) Sweep(ctx context.Context) *Summary {
	sum := &Summary{}
	started := s.now()

	s.killStaleOrchestrators(ctx, sum)
	s.reapStuckGitPushes(ctx, sum)

	// Repos touch disjoint git directories, so their steps can overlap.
	// The limit keeps the spawned git process count sane.
	var g errgroup.Group
	g.SetLimit(4)
	partials := make([]*Summary, len(s.repos))
	for i, repo := range s.repos {
		g.Go(func() error {
			partials[i] = s.sweepRepo(ctx, repo)
			return nil
		})
	}
	_ = g.Wait()
	for _, p := range partials {
		sum.merge(p)
	}

	s.archiveCompletedTasks(ctx, sum)

	for _, repo := range s.repos {
		if repo.Worktrees == nil {
			continue
		}
		if _, err := repo.Worktrees.RepairConfigCorruption(ctx); err != nil {
			s.fail(sum, "repair-config-corruption", err)
		}
	}

	s.logger.Info("maintenance sweep finished",
		"duration", s.now().Sub(started),
		"stale_killed", sum.StaleKilled,
		"pushes_reaped", sum.PushesReaped,
		"worktrees_pruned", sum.WorktreesPruned,
		"branches_synced", sum.BranchesSynced,
		"branches_deleted", sum.BranchesDeleted,
		"tasks_archived", sum.TasksArchived,
		"errors", len(sum.Errors))
	return sum
}

func (s *Sweeper) fail(sum *Summary, step string, err error) {
	sum.Errors = append(sum.Errors, step+": "+err.Error())
	s.logger.Warn("sweep step failed", "step", step, "error", err)
}

// killStaleOrchestrators kills monitor processes that are neither self nor
// the exempted child.
func (s *Sweeper) killStaleOrchestrators(ctx context.Context, sum *Summary) {
	infos, err := s.enum.List(ctx)
	if err != nil {
		s.fail(sum, "kill-stale-orchestrators", err)
		return
	}
	for _, p := range infos {
		if p.PID == s.self || (s.childPID != 0 && p.PID == s.childPID) {
			continue
		}
		if procs.Classify(p.CommandLine) != procs.ClassMonitor {
			continue
		}
		if err := s.enum.Kill(p.PID); err != nil {
			s.fail(sum, "kill-stale-orchestrators", err)
			continue
		}
		s.logger.Warn("killed stale monitor process", "pid", p.PID)
		sum.StaleKilled++
	}
}

// reapStuckGitPushes kills git push processes older than the configured age.
// Processes with no reported start time are left alone.
func (s *Sweeper) reapStuckGitPushes(ctx context.Context, sum *Summary) {
	maxAge := s.cfg.StuckPushAge
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	infos, err := s.enum.List(ctx)
	if err != nil {
		s.fail(sum, "reap-stuck-git-pushes", err)
		return
	}
	cutoff := s.now().Add(-maxAge)
	for _, p := range infos {
		if !procs.IsGitPush(p.CommandLine) {
			continue
		}
		if p.StartedAt.IsZero() || p.StartedAt.After(cutoff) {
			continue
		}
		if err := s.enum.Kill(p.PID); err != nil {
			s.fail(sum, "reap-stuck-git-pushes", err)
			continue
		}
		s.logger.Warn("reaped stuck git push", "pid", p.PID, "started_at", p.StartedAt)
		sum.PushesReaped++
	}
}

// sweepRepo runs the per-repository steps: prune, sync, branch GC. It
// collects into its own summary so repos can sweep in parallel.
func (s *Sweeper) sweepRepo(ctx context.Context, repo Repo) *Summary {
	sum := &Summary{}
	if repo.Worktrees != nil {
		pruned, err := repo.Worktrees.PruneStale(ctx)
		sum.WorktreesPruned += pruned
		if err != nil {
			s.fail(sum, "cleanup-worktrees", err)
		}
	}

	if repo.Branches != nil {
		branches := repo.SyncBranches
		if len(branches) == 0 {
			branches = []string{"main"}
		}
		sum.BranchesSynced += repo.Branches.SyncLocalTrackingBranches(ctx, branches)

		res, err := repo.Branches.CleanupStaleBranches(ctx, gitx.CleanupOptions{})
		if err != nil {
			s.fail(sum, "cleanup-stale-branches", err)
		} else {
			sum.BranchesDeleted += len(res.Deleted)
			for branch, derr := range res.Errors {
				s.fail(sum, "cleanup-stale-branches "+branch, derr)
			}
		}
	}
	return sum
}

// archiveCompletedTasks moves terminal tasks past the archive age out of
// active listings.
func (s *Sweeper) archiveCompletedTasks(ctx context.Context, sum *Summary) {
	if s.store == nil || s.cfg.ArchiveAfter <= 0 {
		return
	}
	archived, err := s.store.ArchiveTerminal(ctx, s.now().Add(-s.cfg.ArchiveAfter))
	if err != nil {
		s.fail(sum, "archive-completed-tasks", err)
		return
	}
	sum.TasksArchived += len(archived)
}
