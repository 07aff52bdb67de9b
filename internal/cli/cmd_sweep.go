package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openfleet/bosun/internal/gitx"
	"github.com/openfleet/bosun/internal/maintenance"
)

// newSweepCmd creates the sweep command.
func newSweepCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep",
		Long: `Run one maintenance sweep against the repository: kill stale monitor
processes, reap stuck git pushes, prune worktrees, sync tracking branches,
garbage-collect stale branches, archive old terminal tasks, and repair
core.bare corruption.

Example:
  bosun sweep
  bosun sweep --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.Default()
			repo, err := openRepo(logger)
			if err != nil {
				return err
			}

			if dryRun {
				return sweepDryRun(cmd, repo)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sweeper := maintenance.NewSweeper(cfg.Maintenance, []maintenance.Repo{repo}, st, logger)
			sum := sweeper.Sweep(cmd.Context())

			if jsonOut {
				return printJSON(sum)
			}
			printHeader("Sweep summary")
			fmt.Printf("  stale monitors killed:  %d\n", sum.StaleKilled)
			fmt.Printf("  git pushes reaped:      %d\n", sum.PushesReaped)
			fmt.Printf("  worktrees pruned:       %d\n", sum.WorktreesPruned)
			fmt.Printf("  branches synced:        %d\n", sum.BranchesSynced)
			fmt.Printf("  branches deleted:       %d\n", sum.BranchesDeleted)
			fmt.Printf("  tasks archived:         %d\n", sum.TasksArchived)
			for _, e := range sum.Errors {
				fmt.Println(styled(errStyle, "  error: "+e))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what the sweep would do without mutating")
	return cmd
}

// sweepDryRun reports sweep intent without side effects. Only the branch GC
// step has a meaningful preview; the process and worktree steps report
// current state.
func sweepDryRun(cmd *cobra.Command, repo maintenance.Repo) error {
	res, err := repo.Branches.CleanupStaleBranches(cmd.Context(), gitx.CleanupOptions{DryRun: true})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}
	printHeader("Dry run — stale branches")
	if len(res.Deleted) == 0 {
		fmt.Println("  nothing to delete")
	}
	for _, b := range res.Deleted {
		fmt.Printf("  would delete %s\n", b)
	}
	for b, reason := range res.Skipped {
		fmt.Println(styled(dimStyle, fmt.Sprintf("  skip %s (%s)", b, reason)))
	}
	return nil
}
