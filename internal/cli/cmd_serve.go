package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfleet/bosun/internal/events"
	"github.com/openfleet/bosun/internal/store"
)

// newServeEventsCmd creates the serve-events command.
func newServeEventsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-events",
		Short: "Serve the task event stream over WebSocket",
		Long: `Serve the live task event stream. Clients connect to /events and send
{"type":"subscribe","task_id":"TASK-1"} frames; task_id "*" streams every
task.

Example:
  bosun serve-events --addr :8787`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.Default()

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			publisher := events.NewMemoryPublisher(64)
			defer publisher.Close()
			st.SetEventSink(func(ev store.Event) {
				publisher.Publish(events.Event{
					Type:   events.TypeTask,
					TaskID: ev.TaskID,
					Data:   ev,
					Time:   ev.CreatedAt,
				})
			})

			broadcaster := events.NewBroadcaster(publisher, logger)
			defer broadcaster.CloseAll()

			mux := http.NewServeMux()
			mux.Handle("/events", broadcaster)
			server := &http.Server{Addr: addr, Handler: mux}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			fmt.Printf("serving events on %s (Ctrl+C to stop)\n", addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "listen address")
	return cmd
}
