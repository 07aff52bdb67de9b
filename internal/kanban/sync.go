package kanban

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/events"
	"github.com/openfleet/bosun/internal/store"
	"github.com/openfleet/bosun/internal/task"
)

// Policy selects the conflict rule between store and board.
type Policy string

const (
	// PolicyInternalPrimary makes the store authoritative: board edits that
	// disagree with it are overwritten.
	PolicyInternalPrimary Policy = "internal-primary"
	// PolicyBidirectional lets the newer side win per task.
	PolicyBidirectional Policy = "bidirectional"
)

// Result summarizes one sync pass.
type Result struct {
	Created   int      `json:"created"`
	Pushed    int      `json:"pushed"`
	Pulled    int      `json:"pulled"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors,omitempty"`
}

// Engine mirrors the task store to one backend.
type Engine struct {
	store     *store.Store
	backend   Backend
	policy    Policy
	cursor    Cursor
	logger    *slog.Logger
	publisher events.Publisher
	owner     string
	now       func() time.Time
}

// NewEngine creates a sync engine. cursor and publisher may be nil.
func NewEngine(st *store.Store, backend Backend, policy Policy, cursor Cursor, publisher events.Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = PolicyInternalPrimary
	}
	if cursor == nil {
		cursor = &MemoryCursor{}
	}
	return &Engine{
		store:     st,
		backend:   backend,
		policy:    policy,
		cursor:    cursor,
		logger:    logger,
		publisher: publisher,
		now:       time.Now,
	}
}

// SetOwner labels mirrored attempt state with this instance's identity.
func (e *Engine) SetOwner(id string) { e.owner = id }

// NewTaskID generates an internal ID for a pulled card.
func NewTaskID() string {
	return "TASK-" + uuid.NewString()[:8]
}

// SyncOnce runs one full reconciliation pass. A backend listing failure
// aborts the pass with CodeBackendUnavailable; per-task errors are collected
// and the pass continues.
func (e *Engine) SyncOnce(ctx context.Context) (*Result, error) {
	cards, err := e.backend.List(ctx)
	if err != nil {
		return nil, bosunerr.ErrBackendUnavailable(e.backend.Name(), err)
	}

	byRef := make(map[string]*Card, len(cards))
	for i := range cards {
		byRef[cards[i].Ref] = &cards[i]
	}

	tasks, err := e.store.ListTasks(ctx, store.ListFilter{})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	mirrored := make(map[string]bool)

	for _, t := range tasks {
		if t.ExternalRef != "" {
			mirrored[t.ExternalRef] = true
		}
		if err := e.syncTask(ctx, t, byRef, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.ID, err))
			e.logger.Warn("task sync failed", "task", t.ID, "error", err)
		}
	}

	// Pull board cards bosun has never seen.
	for i := range cards {
		c := &cards[i]
		if mirrored[c.Ref] || !HasManagedLabel(c.Labels) {
			continue
		}
		imported, err := e.pullCard(ctx, c)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("card %s: %v", c.Ref, err))
			e.logger.Warn("card pull failed", "ref", c.Ref, "error", err)
			continue
		}
		if imported {
			res.Pulled++
		}
	}

	if err := e.cursor.Save(ctx, e.now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("cursor save failed", "error", err)
	}
	if e.publisher != nil {
		e.publisher.Publish(events.New(events.TypeSync, "", res))
	}
	return res, nil
}

// syncTask reconciles one internal task against the board.
func (e *Engine) syncTask(ctx context.Context, t *task.Task, byRef map[string]*Card, res *Result) error {
	if t.ExternalRef == "" {
		ref, err := e.backend.Create(ctx, &Card{
			Title:       t.Title,
			Description: t.Description,
			Status:      t.Status,
			Labels:      WithManagedLabels(t.Labels),
		})
		if err != nil {
			return err
		}
		t.ExternalRef = ref
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return err
		}
		res.Created++
		return e.mirrorState(ctx, t)
	}

	card, ok := byRef[t.ExternalRef]
	if !ok {
		// The card vanished; the store is the record, so restore it.
		ref, err := e.backend.Create(ctx, &Card{
			Title:       t.Title,
			Description: t.Description,
			Status:      t.Status,
			Labels:      WithManagedLabels(t.Labels),
		})
		if err != nil {
			return err
		}
		t.ExternalRef = ref
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return err
		}
		res.Created++
		return e.mirrorState(ctx, t)
	}

	if card.Status == t.Status {
		return e.mirrorState(ctx, t)
	}

	switch e.policy {
	case PolicyBidirectional:
		if card.UpdatedAt.After(t.UpdatedAt) {
			if err := e.adoptCardStatus(ctx, t, card, res); err != nil {
				return err
			}
			return e.mirrorState(ctx, t)
		}
		fallthrough
	default: // internal-primary, or the store side is newer
		if err := e.pushStatus(ctx, t, card, res); err != nil {
			return err
		}
	}
	return e.mirrorState(ctx, t)
}

// pushStatus pushes the store-side status to the board at most once per
// (attempt, observed card status) pair. A replayed pass that saw the same
// stale card does not repeat the move, so closed items are not reopened and
// transition side effects are not duplicated.
func (e *Engine) pushStatus(ctx context.Context, t *task.Task, card *Card, res *Result) error {
	marker := e.pushMarker(ctx, t, card)
	key := "kanban:pushed:" + t.ID
	if prev, err := e.store.GetSharedState(ctx, key); err == nil && prev == marker {
		e.logger.Debug("status push already applied", "task", t.ID, "marker", marker)
		return nil
	}
	if err := e.backend.SetStatus(ctx, t.ExternalRef, t.Status); err != nil {
		return err
	}
	if err := e.store.SetSharedState(ctx, key, marker); err != nil {
		e.logger.Warn("push marker save failed", "task", t.ID, "error", err)
	}
	res.Pushed++
	return nil
}

// pushMarker correlates a push with the attempt that produced the status
// and the card state it was pushed over.
func (e *Engine) pushMarker(ctx context.Context, t *task.Task, card *Card) string {
	token := "none"
	if attempts, err := e.store.AttemptsForTask(ctx, t.ID); err == nil && len(attempts) > 0 {
		token = attempts[len(attempts)-1].Token
	}
	return token + ":" + string(t.Status) + ":" + string(card.Status)
}

// mirrorState writes the task's live-attempt state to backends that store
// it. Unchanged state is skipped, so idle passes do not spam comment-mode
// backends.
func (e *Engine) mirrorState(ctx context.Context, t *task.Task) error {
	sb, ok := e.backend.(StateBackend)
	if !ok {
		return nil
	}
	st, err := e.attemptState(ctx, t)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key := "kanban:state:" + t.ID
	if prev, err := e.store.GetSharedState(ctx, key); err == nil && prev == string(blob) {
		return nil
	}
	if err := sb.WriteState(ctx, t.ExternalRef, st); err != nil {
		return err
	}
	return e.store.SetSharedState(ctx, key, string(blob))
}

// attemptState assembles the board-facing view of a task's attempts: the
// pending attempt's token and heartbeat, plus the failed-attempt count.
func (e *Engine) attemptState(ctx context.Context, t *task.Task) (AttemptState, error) {
	attempts, err := e.store.AttemptsForTask(ctx, t.ID)
	if err != nil {
		return AttemptState{}, err
	}
	st := AttemptState{OwnerID: e.owner}
	for _, a := range attempts {
		if a.Outcome == task.OutcomeFailed {
			st.RetryCount++
		}
	}
	if len(attempts) > 0 {
		if last := attempts[len(attempts)-1]; last.Pending() {
			st.AttemptToken = last.Token
			st.AttemptStarted = last.StartedAt
			st.Heartbeat = last.LastSeen()
		}
	}
	return st, nil
}

// adoptCardStatus applies a board-side status change to the store. A move
// the transition table forbids is a conflict: the store wins and the card
// is pushed back.
func (e *Engine) adoptCardStatus(ctx context.Context, t *task.Task, card *Card, res *Result) error {
	if task.CanTransition(t.Status, card.Status) {
		if err := e.store.SetStatus(ctx, t.ID, card.Status); err != nil {
			return err
		}
		res.Pulled++
		return nil
	}

	res.Conflicts++
	e.logger.Warn("board status change rejected by transition table",
		"task", t.ID, "from", t.Status, "to", card.Status)
	return e.pushStatus(ctx, t, card, res)
}

// pullCard imports a board card bosun has never tracked. Cards whose stored
// state carries an ignore reason stay on the board untouched.
func (e *Engine) pullCard(ctx context.Context, c *Card) (bool, error) {
	if sb, ok := e.backend.(StateBackend); ok {
		st, err := sb.ReadState(ctx, c.Ref)
		if err != nil {
			return false, err
		}
		if st != nil && st.IgnoreReason != "" {
			e.logger.Info("card marked ignored, not importing",
				"ref", c.Ref, "reason", st.IgnoreReason)
			return false, nil
		}
	}
	t := &task.Task{
		ID:          NewTaskID(),
		Title:       c.Title,
		Description: c.Description,
		Status:      c.Status,
		Labels:      WithManagedLabels(c.Labels),
		ExternalRef: c.Ref,
	}
	if t.Status == "" {
		t.Status = task.StatusTodo
	}
	return true, e.store.CreateTask(ctx, t)
}
