package supervisor

import (
	"context"
	"time"

	"github.com/openfleet/bosun/internal/events"
)

// heartbeatInterval paces attempt heartbeats during an agent run.
const heartbeatInterval = 30 * time.Second

// heartbeat is the payload published while an attempt is running.
type heartbeat struct {
	AttemptToken string    `json:"attempt_token"`
	At           time.Time `json:"at"`
}

// startHeartbeat records periodic heartbeats for a running attempt until
// the returned stop function is called or ctx is cancelled. Each beat is
// written to the store's event log, so a later supervisor can tell a live
// attempt from an orphan, and mirrored onto the event stream.
func (s *Supervisor) startHeartbeat(ctx context.Context, taskID, token string) (stop func()) {
	if s.deps.Store == nil && s.deps.Publisher == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if s.deps.Store != nil {
					if err := s.deps.Store.Heartbeat(ctx, token); err != nil {
						s.logger.Warn("heartbeat write failed", "token", token, "error", err)
					}
				}
				if s.deps.Publisher != nil {
					s.deps.Publisher.Publish(events.Event{
						Type:   events.TypeTask,
						TaskID: taskID,
						Data:   heartbeat{AttemptToken: token, At: now},
						Time:   now,
					})
				}
			}
		}
	}()
	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}
