// Package supervisor runs the control loop: singleton lock, orphan
// recovery, periodic maintenance sweeps, and cooperative task dispatch.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openfleet/bosun/internal/config"
	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/events"
	"github.com/openfleet/bosun/internal/executor"
	"github.com/openfleet/bosun/internal/kanban"
	"github.com/openfleet/bosun/internal/lock"
	"github.com/openfleet/bosun/internal/maintenance"
	"github.com/openfleet/bosun/internal/store"
)

// dispatchInterval is how often the loop looks for ready tasks between
// maintenance sweeps.
const dispatchInterval = 15 * time.Second

// Deps carries the collaborators one Supervisor drives. Kanban and Clients
// may be nil or empty; the corresponding steps are skipped.
type Deps struct {
	Lock      *lock.Manager
	Store     *store.Store
	Router    *executor.Router
	Gates     *executor.GatePool
	Clients   executor.ClientSet
	Repos     []maintenance.Repo
	Sweeper   *maintenance.Sweeper
	Kanban    *kanban.Engine
	Publisher events.Publisher
	// Pool, when set, takes runs whose adapter bus is busy with another
	// session instead of burning a failover retry.
	Pool executor.PooledRunner
}

// Supervisor is the long-running singleton driving dispatch and maintenance
// for one config directory.
type Supervisor struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	// mu serializes dispatch with maintenance, matching the cooperative
	// single-dispatch model.
	mu  sync.Mutex
	now func() time.Time
}

// New creates a supervisor. logger nil falls back to slog.Default.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, deps: deps, logger: logger, now: time.Now}
}

// Run acquires the singleton lock and loops until ctx is cancelled. Lock
// contention is returned as-is so the CLI maps it to exit code 3.
func (s *Supervisor) Run(ctx context.Context) error {
	res, err := s.deps.Lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !res.Acquired {
		return bosunerr.ErrLockContention(res.OwnerPID)
	}
	if res.Held {
		release := s.deps.Lock.InstallCleanup()
		defer release()
		defer func() {
			if err := s.deps.Lock.Release(); err != nil {
				s.logger.Warn("lock release failed", "error", err)
			}
		}()
	}

	// Surface store events on the process-wide stream.
	if s.deps.Publisher != nil && s.deps.Store != nil {
		s.deps.Store.SetEventSink(func(ev store.Event) {
			s.deps.Publisher.Publish(events.Event{
				Type:   events.TypeTask,
				TaskID: ev.TaskID,
				Data:   ev,
				Time:   ev.CreatedAt,
			})
		})
	}

	if err := s.recoverOrphans(ctx); err != nil {
		s.logger.Warn("orphan recovery incomplete", "error", err)
	}

	sweepEvery := s.cfg.Maintenance.Interval
	if sweepEvery <= 0 {
		sweepEvery = 10 * time.Minute
	}
	sweepTicker := time.NewTicker(sweepEvery)
	defer sweepTicker.Stop()
	dispatchTicker := time.NewTicker(dispatchInterval)
	defer dispatchTicker.Stop()

	s.logger.Info("supervisor started",
		"config_dir", s.deps.Lock.Path(),
		"sweep_interval", sweepEvery)

	// One sweep up front so a freshly started instance begins clean.
	s.runSweep(ctx)
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping")
			return nil
		case <-sweepTicker.C:
			s.runSweep(ctx)
		case <-dispatchTicker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Supervisor) runSweep(ctx context.Context) {
	if s.deps.Sweeper == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.deps.Sweeper.Sweep(ctx)
	if s.deps.Publisher != nil {
		s.deps.Publisher.Publish(events.New(events.TypeSweep, "", sum))
	}
}

func (s *Supervisor) runCycle(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deps.Kanban != nil {
		if _, err := s.deps.Kanban.SyncOnce(ctx); err != nil {
			s.logger.Warn("kanban sync failed", "error", err)
		}
	}
	if err := s.dispatchReady(ctx); err != nil {
		s.logger.Warn("dispatch cycle failed", "error", err)
	}
}
