package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfleet/bosun/internal/store"
	"github.com/openfleet/bosun/internal/task"
)

// newTaskCmd creates the task command group.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and steer tasks",
	}
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskRetryCmd())
	cmd.AddCommand(newTaskCancelCmd())
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var statusFilter string
	var archived bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			filter := store.ListFilter{IncludeArchived: archived}
			if statusFilter != "" {
				filter.Statuses = []task.Status{task.Status(statusFilter)}
			}
			tasks, err := st.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(tasks)
			}
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}

			titleWidth := termWidth() - 50
			if titleWidth < 20 {
				titleWidth = 20
			}
			w := newTable()
			fmt.Fprintln(w, "ID\tSTATUS\tSDK\tBRANCH\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.ID, statusBadge(t.Status), t.SDK, t.Branch, truncate(t.Title, titleWidth))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived tasks")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one task and its attempts",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			t, err := st.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			attempts, err := st.AttemptsForTask(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{"task": t, "attempts": attempts})
			}

			printHeader(t.ID + "  " + t.Title)
			fmt.Printf("  status:   %s\n", statusBadge(t.Status))
			if t.SDK != "" {
				fmt.Printf("  sdk:      %s\n", t.SDK)
			}
			if t.Branch != "" {
				fmt.Printf("  branch:   %s\n", t.Branch)
			}
			if t.ExternalRef != "" {
				fmt.Printf("  board:    %s\n", t.ExternalRef)
			}
			fmt.Printf("  created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04"))
			if t.Description != "" {
				fmt.Printf("\n%s\n", t.Description)
			}
			if len(attempts) > 0 {
				fmt.Println()
				printHeader("Attempts")
				w := newTable()
				fmt.Fprintln(w, "TOKEN\tSDK\tSTARTED\tOUTCOME\tDETAIL")
				for _, a := range attempts {
					outcome := string(a.Outcome)
					if a.Pending() {
						outcome = "running"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						truncate(a.Token, 12), a.SDK,
						a.StartedAt.Format("01-02 15:04"), outcome, truncate(a.Detail, 40))
				}
				return w.Flush()
			}
			return nil
		},
	}
}

func newTaskRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry ID",
		Short: "Queue a failed task for another attempt",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetStatus(cmd.Context(), args[0], task.StatusInProgress); err != nil {
				return err
			}
			fmt.Printf("%s queued for retry\n", args[0])
			return nil
		},
	}
}

func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a task",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if pending, err := st.PendingAttempt(ctx, args[0]); err != nil {
				return err
			} else if pending != nil {
				if err := st.FinishAttempt(ctx, pending.Token, task.OutcomeCancelled, "cancelled from CLI"); err != nil {
					return err
				}
			}
			if err := st.SetStatus(ctx, args[0], task.StatusCancelled); err != nil {
				return err
			}
			fmt.Printf("%s cancelled\n", args[0])
			return nil
		},
	}
}
