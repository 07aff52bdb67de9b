package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newWorktreeCmd creates the worktree command group.
func newWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Manage attempt worktrees",
	}
	cmd.AddCommand(newWorktreePruneCmd())
	return cmd
}

func newWorktreePruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove stale attempt worktrees",
		Long: `Remove worktrees whose directory vanished from disk and legacy
copilot-worktree-YYYY-MM-DD worktrees older than seven days. The repository
root worktree is never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo(nil)
			if err != nil {
				return err
			}
			pruned, err := repo.Worktrees.PruneStale(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]int{"pruned": pruned})
			}
			fmt.Printf("pruned %d worktree(s)\n", pruned)
			return nil
		},
	}
}
