package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/lock"
)

// newLockCmd creates the lock command.
func newLockCmd() *cobra.Command {
	var showStatus, release bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or release the singleton PID lock",
		Long: `Inspect or release the PID lock that enforces one bosun instance per
config directory.

Example:
  bosun lock --status
  bosun lock --release`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showStatus == release {
				return bosunerr.ErrUsage(fmt.Errorf("exactly one of --status or --release is required"))
			}
			mgr := lock.NewManager(configDir(), nil)

			if release {
				if err := mgr.ForceRelease(); err != nil {
					return err
				}
				fmt.Println("lock released")
				return nil
			}

			owner, err := mgr.Status()
			if err != nil {
				return err
			}
			if owner == nil {
				if jsonOut {
					return printJSON(map[string]any{"held": false})
				}
				fmt.Println("lock not held")
				return nil
			}
			if jsonOut {
				return printJSON(owner)
			}
			printHeader("Lock holder")
			fmt.Printf("  pid:        %d\n", owner.PID)
			fmt.Printf("  started_at: %s\n", owner.StartedAt)
			fmt.Printf("  token:      %s\n", owner.LockToken)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showStatus, "status", false, "show the current lock holder")
	cmd.Flags().BoolVar(&release, "release", false, "force-release the lock")
	return cmd
}
