package jira

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/kanban"
	"github.com/openfleet/bosun/internal/task"
)

// searchFields keeps the JQL result payload to what the sync engine reads.
var searchFields = []string{"summary", "description", "status", "labels", "updated"}

// Backend mirrors tasks to Jira issues. Card refs are issue keys; status
// changes go through workflow transitions resolved by target status name.
type Backend struct {
	client *Client
	// issueType names the type new cards are created as.
	issueType string

	// states is built lazily: field discovery needs a round-trip.
	statesOnce sync.Once
	states     *StateStore
	statesErr  error
}

// New creates the Jira backend. issueType defaults to "Task".
func New(client *Client, issueType string) *Backend {
	if issueType == "" {
		issueType = "Task"
	}
	return &Backend{client: client, issueType: issueType}
}

var (
	_ kanban.Backend      = (*Backend)(nil)
	_ kanban.StateBackend = (*Backend)(nil)
)

func (b *Backend) Name() string { return "jira" }

func (b *Backend) stateStore(ctx context.Context) (*StateStore, error) {
	b.statesOnce.Do(func() {
		b.states, b.statesErr = NewStateStore(ctx, b.client)
	})
	return b.states, b.statesErr
}

// WriteState mirrors attempt state onto the issue.
func (b *Backend) WriteState(ctx context.Context, ref string, st kanban.AttemptState) error {
	s, err := b.stateStore(ctx)
	if err != nil {
		return err
	}
	return s.Write(ctx, ref, st)
}

// ReadState loads the issue's mirrored attempt state, or nil when the
// issue never carried any.
func (b *Backend) ReadState(ctx context.Context, ref string) (*kanban.AttemptState, error) {
	s, err := b.stateStore(ctx)
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, ref)
}

// List fetches all project issues carrying a managed label.
func (b *Backend) List(ctx context.Context) ([]kanban.Card, error) {
	labels := `"` + strings.Join(kanban.ManagedLabels, `", "`) + `"`
	jql := fmt.Sprintf(`project = %q AND labels IN (%s) ORDER BY updated DESC`,
		b.client.cfg.ProjectKey, labels)

	var cards []kanban.Card
	nextPageToken := ""
	for {
		result, resp, err := b.client.jira.Issue.Search.SearchJQL(ctx, jql, searchFields, nil, 50, nextPageToken)
		if err != nil {
			if resp != nil {
				return nil, bosunerr.ErrBackendUnavailable("jira",
					fmt.Errorf("search (status %d): %w", resp.StatusCode, err))
			}
			return nil, bosunerr.ErrBackendUnavailable("jira", err)
		}
		for _, issue := range result.Issues {
			cards = append(cards, cardFromIssue(issue))
		}
		if result.NextPageToken == "" || len(result.Issues) == 0 {
			break
		}
		nextPageToken = result.NextPageToken
	}
	return cards, nil
}

func cardFromIssue(issue *models.IssueScheme) kanban.Card {
	if issue == nil || issue.Fields == nil {
		return kanban.Card{}
	}
	f := issue.Fields
	card := kanban.Card{
		Ref:         issue.Key,
		Title:       f.Summary,
		Description: ADFToText(f.Description),
		Labels:      f.Labels,
		Status:      task.StatusTodo,
	}
	if f.Status != nil {
		card.Status = kanban.StatusFromColumn(f.Status.Name)
	}
	if f.Updated != nil {
		card.UpdatedAt = time.Time(*f.Updated)
	}
	return card
}

// Create opens an issue for the card and returns its key. The issue lands in
// the project's default status; SetStatus moves it if the card starts
// elsewhere.
func (b *Backend) Create(ctx context.Context, c *kanban.Card) (string, error) {
	payload := &models.IssueScheme{
		Fields: &models.IssueFieldsScheme{
			Project:     &models.ProjectScheme{Key: b.client.cfg.ProjectKey},
			IssueType:   &models.IssueTypeScheme{Name: b.issueType},
			Summary:     c.Title,
			Description: TextToADF(c.Description),
			Labels:      c.Labels,
		},
	}
	created, _, err := b.client.jira.Issue.Create(ctx, payload, nil)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	if c.Status != task.StatusTodo {
		if err := b.SetStatus(ctx, created.Key, c.Status); err != nil {
			return "", err
		}
	}
	return created.Key, nil
}

// Update pushes summary, description and labels. Status moves through
// SetStatus because Jira only changes status via transitions.
func (b *Backend) Update(ctx context.Context, c *kanban.Card) error {
	payload := &models.IssueScheme{
		Fields: &models.IssueFieldsScheme{
			Summary:     c.Title,
			Description: TextToADF(c.Description),
			Labels:      c.Labels,
		},
	}
	if _, err := b.client.jira.Issue.Update(ctx, c.Ref, false, payload, nil, nil); err != nil {
		return fmt.Errorf("update %s: %w", c.Ref, err)
	}
	return b.SetStatus(ctx, c.Ref, c.Status)
}

// SetStatus finds the workflow transition whose target matches the status
// and executes it. A workflow with no matching transition is an error; the
// sweep logs it and retries next pass.
func (b *Backend) SetStatus(ctx context.Context, ref string, st task.Status) error {
	available, _, err := b.client.jira.Issue.Transitions(ctx, ref)
	if err != nil {
		return bosunerr.ErrBackendUnavailable("jira", fmt.Errorf("transitions for %s: %w", ref, err))
	}
	id := pickTransition(available.Transitions, st)
	if id == "" {
		return fmt.Errorf("no transition on %s reaches %s", ref, st)
	}
	if _, err := b.client.jira.Issue.Move(ctx, ref, id, nil); err != nil {
		return fmt.Errorf("transition %s to %s: %w", ref, st, err)
	}
	return nil
}

// pickTransition matches transitions by their target status name, falling
// back to the transition name itself for workflows that omit the target.
func pickTransition(transitions []*models.IssueTransitionScheme, st task.Status) string {
	for _, tr := range transitions {
		if tr == nil || tr.To == nil {
			continue
		}
		if got, ok := kanban.MatchColumn(tr.To.Name); ok && got == st {
			return tr.ID
		}
	}
	for _, tr := range transitions {
		if tr == nil {
			continue
		}
		if got, ok := kanban.MatchColumn(tr.Name); ok && got == st {
			return tr.ID
		}
	}
	return ""
}
