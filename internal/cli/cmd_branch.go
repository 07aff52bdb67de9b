package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfleet/bosun/internal/gitx"
)

// newBranchCmd creates the branch command group.
func newBranchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Sync and garbage-collect branches",
	}
	cmd.AddCommand(newBranchSyncCmd())
	cmd.AddCommand(newBranchCleanupCmd())
	return cmd
}

func newBranchSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [branch...]",
		Short: "Sync local tracking branches with origin",
		Long: `Fetch origin and reconcile each branch: push ahead-only branches,
rebase the checked-out branch when diverged, fast-forward behind branches.
Dirty worktrees and unresolvable divergence are skipped with a log line.

Example:
  bosun branch sync
  bosun branch sync main release/2026`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(nil)
			if err != nil {
				return err
			}
			branches := args
			if len(branches) == 0 {
				branches = []string{"main"}
			}
			synced := repo.Branches.SyncLocalTrackingBranches(cmd.Context(), branches)
			if jsonOut {
				return printJSON(map[string]int{"synced": synced})
			}
			fmt.Printf("synced %d branch(es)\n", synced)
			return nil
		},
	}
}

func newBranchCleanupCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stale task branches",
		Long: `Delete local ve/ and copilot-worktree- branches that are old, fully
pushed (or merged), unprotected, and not checked out anywhere. Every spared
branch reports a typed skip reason.

Example:
  bosun branch cleanup --dry-run
  bosun branch cleanup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(nil)
			if err != nil {
				return err
			}
			res, err := repo.Branches.CleanupStaleBranches(cmd.Context(), gitx.CleanupOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(res)
			}
			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			for _, b := range res.Deleted {
				fmt.Printf("%s %s\n", verb, b)
			}
			for b, reason := range res.Skipped {
				fmt.Println(styled(dimStyle, fmt.Sprintf("skip %s (%s)", b, reason)))
			}
			for b, err := range res.Errors {
				fmt.Println(styled(errStyle, fmt.Sprintf("error %s: %v", b, err)))
			}
			if len(res.Deleted) == 0 {
				fmt.Println("nothing to delete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report deletions without performing them")
	return cmd
}
