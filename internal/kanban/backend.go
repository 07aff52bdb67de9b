// Package kanban mirrors the internal task store to external kanban boards.
//
// The internal store is the source of truth. Under the internal-primary
// policy external edits are overwritten on conflict; under bidirectional
// the newer side wins. Cards bosun manages carry the ManagedLabels.
package kanban

import (
	"context"
	"time"

	"github.com/openfleet/bosun/internal/task"
)

// ManagedLabels mark cards bosun owns on the external board.
var ManagedLabels = []string{"bosun", "codex-monitor"}

// Card is the backend-neutral view of one external board card.
type Card struct {
	// Ref is the backend-specific identifier (issue number, Jira key...).
	Ref         string
	Title       string
	Description string
	Status      task.Status
	Labels      []string
	UpdatedAt   time.Time
}

// Backend is one external kanban provider.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// List returns the cards carrying the managed labels.
	List(ctx context.Context) ([]Card, error)
	// Create adds a card and returns its ref.
	Create(ctx context.Context, c *Card) (string, error)
	// Update pushes title, description, labels and status to an existing card.
	Update(ctx context.Context, c *Card) error
	// SetStatus moves a card to the column mapped from status.
	SetStatus(ctx context.Context, ref string, status task.Status) error
}

// HasManagedLabel reports whether labels include any managed label.
func HasManagedLabel(labels []string) bool {
	for _, l := range labels {
		for _, m := range ManagedLabels {
			if l == m {
				return true
			}
		}
	}
	return false
}

// WithManagedLabels returns labels with the managed labels merged in.
func WithManagedLabels(labels []string) []string {
	out := append([]string(nil), labels...)
	for _, m := range ManagedLabels {
		found := false
		for _, l := range out {
			if l == m {
				found = true
				break
			}
		}
		if !found {
			out = append(out, m)
		}
	}
	return out
}
