// Package gitlab syncs tasks to GitLab issues.
package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/kanban"
	"github.com/openfleet/bosun/internal/task"
)

// statusLabelPrefix marks the scoped label carrying a card's status.
const statusLabelPrefix = "status::"

// Config selects the GitLab instance and project.
type Config struct {
	// BaseURL is the instance URL; empty means gitlab.com.
	BaseURL string
	// ProjectID is the numeric project ID or the "group/project" path.
	ProjectID string
	Token     string
}

// Backend mirrors tasks to GitLab issues. Status travels as a scoped
// status:: label; terminal statuses also close the issue. Card refs are
// issue IIDs.
type Backend struct {
	client  *gl.Client
	project string
}

// New creates the GitLab backend.
func New(cfg Config) (*Backend, error) {
	if cfg.ProjectID == "" {
		return nil, bosunerr.ErrConfigInvalid("kanban.gitlab.project_id", "required")
	}
	if cfg.Token == "" {
		return nil, bosunerr.ErrBackendAuthMissing("gitlab", "set BOSUN_GITLAB_TOKEN")
	}

	var opts []gl.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, gl.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	client, err := gl.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	return &Backend{client: client, project: cfg.ProjectID}, nil
}

var _ kanban.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "gitlab" }

// List returns the project issues carrying a managed label.
func (b *Backend) List(ctx context.Context) ([]kanban.Card, error) {
	var cards []kanban.Card
	seen := make(map[string]bool)

	for _, managed := range kanban.ManagedLabels {
		opts := &gl.ListProjectIssuesOptions{
			Labels:      &gl.LabelOptions{managed},
			State:       gl.Ptr("all"),
			ListOptions: gl.ListOptions{PerPage: 100},
		}
		for {
			issues, resp, err := b.client.Issues.ListProjectIssues(b.project, opts, gl.WithContext(ctx))
			if err != nil {
				return nil, err
			}
			for _, is := range issues {
				card := cardFromIssue(is)
				if !seen[card.Ref] {
					seen[card.Ref] = true
					cards = append(cards, card)
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}
	return cards, nil
}

func cardFromIssue(is *gl.Issue) kanban.Card {
	card := kanban.Card{
		Ref:         strconv.FormatInt(is.IID, 10),
		Title:       is.Title,
		Description: is.Description,
		Status:      task.StatusTodo,
	}
	if is.UpdatedAt != nil {
		card.UpdatedAt = *is.UpdatedAt
	}
	for _, l := range is.Labels {
		if st, ok := statusFromLabel(l); ok {
			card.Status = st
			continue
		}
		card.Labels = append(card.Labels, l)
	}
	if card.Status == task.StatusTodo && is.State == "closed" {
		card.Status = task.StatusDone
	}
	return card
}

func statusFromLabel(name string) (task.Status, bool) {
	if !strings.HasPrefix(name, statusLabelPrefix) {
		return "", false
	}
	st := task.Status(strings.TrimPrefix(name, statusLabelPrefix))
	switch st {
	case task.StatusTodo, task.StatusInProgress, task.StatusInReview,
		task.StatusDone, task.StatusFailed, task.StatusCancelled:
		return st, true
	}
	return "", false
}

func labelsFor(c *kanban.Card) gl.LabelOptions {
	labels := gl.LabelOptions(append([]string(nil), c.Labels...))
	return append(labels, statusLabelPrefix+string(c.Status))
}

// Create opens an issue for the card and returns its IID.
func (b *Backend) Create(ctx context.Context, c *kanban.Card) (string, error) {
	labels := labelsFor(c)
	is, _, err := b.client.Issues.CreateIssue(b.project, &gl.CreateIssueOptions{
		Title:       gl.Ptr(c.Title),
		Description: gl.Ptr(c.Description),
		Labels:      &labels,
	}, gl.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if task.IsTerminal(c.Status) {
		_, _, err = b.client.Issues.UpdateIssue(b.project, is.IID, &gl.UpdateIssueOptions{
			StateEvent: gl.Ptr("close"),
		}, gl.WithContext(ctx))
		if err != nil {
			return "", err
		}
	}
	return strconv.FormatInt(is.IID, 10), nil
}

// Update pushes title, description, labels and status.
func (b *Backend) Update(ctx context.Context, c *kanban.Card) error {
	iid, err := strconv.Atoi(c.Ref)
	if err != nil {
		return fmt.Errorf("gitlab ref %q is not an issue IID: %w", c.Ref, err)
	}
	labels := labelsFor(c)
	opts := &gl.UpdateIssueOptions{
		Title:       gl.Ptr(c.Title),
		Description: gl.Ptr(c.Description),
		Labels:      &labels,
		StateEvent:  gl.Ptr(stateEvent(c.Status)),
	}
	_, _, err = b.client.Issues.UpdateIssue(b.project, int64(iid), opts, gl.WithContext(ctx))
	return err
}

// SetStatus swaps the status:: label and closes or reopens the issue.
func (b *Backend) SetStatus(ctx context.Context, ref string, st task.Status) error {
	iid, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("gitlab ref %q is not an issue IID: %w", ref, err)
	}
	add := gl.LabelOptions{statusLabelPrefix + string(st)}
	opts := &gl.UpdateIssueOptions{
		AddLabels:  &add,
		StateEvent: gl.Ptr(stateEvent(st)),
	}
	// Scoped labels are exclusive: adding status::x drops any other status::.
	_, _, err = b.client.Issues.UpdateIssue(b.project, int64(iid), opts, gl.WithContext(ctx))
	return err
}

func stateEvent(st task.Status) string {
	if task.IsTerminal(st) {
		return "close"
	}
	return "reopen"
}
