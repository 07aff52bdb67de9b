package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openfleet/bosun/internal/events"
	"github.com/openfleet/bosun/internal/executor"
	"github.com/openfleet/bosun/internal/lock"
	"github.com/openfleet/bosun/internal/maintenance"
	"github.com/openfleet/bosun/internal/supervisor"
)

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the supervisor loop",
		Long: `Start the long-running supervisor: acquire the singleton lock, recover
orphaned attempts, then alternate task dispatch with maintenance sweeps
until interrupted.

Exit codes: 0 clean shutdown, 3 another instance holds the lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.Default()

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			repo, err := openRepo(logger)
			if err != nil {
				return err
			}
			repos := []maintenance.Repo{repo}

			engine, err := newKanbanEngine(cfg, st, logger)
			if err != nil {
				return err
			}

			registry := executor.NewRegistry(cfg.Executors)
			router := executor.NewRouter(registry, cfg.Distribution, cfg.Failover, logger)
			publisher := events.NewMemoryPublisher(64)
			defer publisher.Close()

			sup := supervisor.New(*cfg, supervisor.Deps{
				Lock:      lock.NewManager(configDir(), logger),
				Store:     st,
				Router:    router,
				Gates:     executor.NewGatePool(),
				Clients:   executor.NewClientSet(cfg.Executors, logger),
				Repos:     repos,
				Sweeper:   maintenance.NewSweeper(cfg.Maintenance, repos, st, logger),
				Kanban:    engine,
				Publisher: publisher,
			}, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sup.Run(ctx)
		},
	}
}
