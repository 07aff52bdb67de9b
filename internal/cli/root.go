// Package cli implements the bosun command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bosunerr "github.com/openfleet/bosun/internal/errors"
)

var (
	repoDir string
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "bosun",
	Short: "Supervisor for AI coding agents over git repositories",
	Long: `bosun drives coding agents (Codex, Copilot, Claude, Gemini, Opencode)
against git repositories: it dispatches tasks to executors, isolates each
attempt in a worktree, keeps branches synced and garbage-collected, and
mirrors task state to a kanban board.

Quick start:
  bosun task list              Show the task board
  bosun sweep                  Run one maintenance sweep
  bosun run                    Start the supervisor loop`,
	SilenceUsage: true,
}

// Execute runs the root command and returns the first error.
func Execute() error {
	return rootCmd.Execute()
}

// exactArgs is cobra.ExactArgs with the usage exit code attached.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return bosunerr.ErrUsage(err)
		}
		return nil
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return bosunerr.ErrUsage(err)
	})

	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", "", "repository root (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newLockCmd())
	rootCmd.AddCommand(newWorktreeCmd())
	rootCmd.AddCommand(newBranchCmd())
	rootCmd.AddCommand(newTaskCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeEventsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initEnv wires viper to BOSUN_* environment variables and sets the log
// level from --verbose.
func initEnv() {
	viper.SetEnvPrefix("BOSUN")
	viper.AutomaticEnv()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if verbose {
		fmt.Fprintln(os.Stderr, "config dir:", configDir())
	}
}
