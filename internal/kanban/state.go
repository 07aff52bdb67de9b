package kanban

import (
	"context"
	"time"
)

// AttemptState is the live-attempt bookkeeping mirrored onto a board item,
// so other bosun instances and humans can see who holds a task, how fresh
// its heartbeat is, and why an item is being left alone.
type AttemptState struct {
	OwnerID        string    `json:"owner_id,omitempty"`
	AttemptToken   string    `json:"attempt_token,omitempty"`
	AttemptStarted time.Time `json:"attempt_started,omitzero"`
	Heartbeat      time.Time `json:"heartbeat,omitzero"`
	RetryCount     int       `json:"retry_count,omitempty"`
	IgnoreReason   string    `json:"ignore_reason,omitempty"`
}

// StateBackend is implemented by backends that can persist attempt state on
// their board items. The sync engine mirrors running attempts through it
// and honors ignore reasons found on unimported items.
type StateBackend interface {
	WriteState(ctx context.Context, ref string, st AttemptState) error
	// ReadState returns the item's stored state, or nil when it has none.
	ReadState(ctx context.Context, ref string) (*AttemptState, error)
}
