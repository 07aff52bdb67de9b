package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/openfleet/bosun/internal/kanban"
	"github.com/openfleet/bosun/internal/task"
)

// statusLabelPrefix marks the label that carries a card's status. One issue
// carries exactly one such label.
const statusLabelPrefix = "status:"

// Backend mirrors tasks to GitHub Issues. Status travels as a status: label;
// done and cancelled additionally close the issue. Card refs are issue
// numbers.
type Backend struct {
	client *gh.Client
	owner  string
	repo   string
}

// Config selects the repository and token for the issues backend.
type Config struct {
	Owner string
	Repo  string
	Token string
}

// New creates the GitHub issues backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	client := gh.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return &Backend{client: client, owner: cfg.Owner, repo: cfg.Repo}, nil
}

var _ kanban.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "github" }

// List returns the issues carrying a managed label, PRs excluded.
func (b *Backend) List(ctx context.Context) ([]kanban.Card, error) {
	var cards []kanban.Card
	for _, managed := range kanban.ManagedLabels {
		opts := &gh.IssueListByRepoOptions{
			State:       "all",
			Labels:      []string{managed},
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		for {
			issues, resp, err := b.client.Issues.ListByRepo(ctx, b.owner, b.repo, opts)
			if err != nil {
				return nil, err
			}
			for _, is := range issues {
				if is.IsPullRequest() {
					continue
				}
				card := cardFromIssue(is)
				if !containsRef(cards, card.Ref) {
					cards = append(cards, card)
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.ListOptions.Page = resp.NextPage
		}
	}
	return cards, nil
}

func containsRef(cards []kanban.Card, ref string) bool {
	for _, c := range cards {
		if c.Ref == ref {
			return true
		}
	}
	return false
}

func cardFromIssue(is *gh.Issue) kanban.Card {
	card := kanban.Card{
		Ref:         strconv.Itoa(is.GetNumber()),
		Title:       is.GetTitle(),
		Description: is.GetBody(),
		Status:      task.StatusTodo,
		UpdatedAt:   is.GetUpdatedAt().Time,
	}
	for _, l := range is.Labels {
		name := l.GetName()
		if st, ok := statusFromLabel(name); ok {
			card.Status = st
			continue
		}
		card.Labels = append(card.Labels, name)
	}
	// A closed issue with no status label was finished outside bosun.
	if card.Status == task.StatusTodo && is.GetState() == "closed" {
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

func statusLabel(st task.Status) string {
	return statusLabelPrefix + string(st)
}

func issueState(st task.Status) string {
	if task.IsTerminal(st) {
		return "closed"
	}
	return "open"
}

// Create opens an issue for the card and returns its number.
func (b *Backend) Create(ctx context.Context, c *kanban.Card) (string, error) {
	labels := append(append([]string(nil), c.Labels...), statusLabel(c.Status))
	req := &gh.IssueRequest{
		Title:  gh.Ptr(c.Title),
		Body:   gh.Ptr(c.Description),
		Labels: &labels,
	}
	is, _, err := b.client.Issues.Create(ctx, b.owner, b.repo, req)
	if err != nil {
		return "", err
	}
	num := is.GetNumber()
	if state := issueState(c.Status); state == "closed" {
		_, _, err = b.client.Issues.Edit(ctx, b.owner, b.repo, num,
			&gh.IssueRequest{State: gh.Ptr("closed")})
		if err != nil {
			return "", err
		}
	}
	return strconv.Itoa(num), nil
}

// Update pushes title, body, labels and status to an existing issue.
func (b *Backend) Update(ctx context.Context, c *kanban.Card) error {
	num, err := strconv.Atoi(c.Ref)
	if err != nil {
		return fmt.Errorf("github ref %q is not an issue number: %w", c.Ref, err)
	}
	labels := append(append([]string(nil), c.Labels...), statusLabel(c.Status))
	req := &gh.IssueRequest{
		Title:  gh.Ptr(c.Title),
		Body:   gh.Ptr(c.Description),
		Labels: &labels,
		State:  gh.Ptr(issueState(c.Status)),
	}
	_, _, err = b.client.Issues.Edit(ctx, b.owner, b.repo, num, req)
	return err
}

// SetStatus swaps the status label and opens or closes the issue.
func (b *Backend) SetStatus(ctx context.Context, ref string, st task.Status) error {
	num, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("github ref %q is not an issue number: %w", ref, err)
	}
	is, _, err := b.client.Issues.Get(ctx, b.owner, b.repo, num)
	if err != nil {
		return err
	}

	labels := []string{statusLabel(st)}
	for _, l := range is.Labels {
		if name := l.GetName(); !strings.HasPrefix(name, statusLabelPrefix) {
			labels = append(labels, name)
		}
	}
	req := &gh.IssueRequest{
		Labels: &labels,
		State:  gh.Ptr(issueState(st)),
	}
	_, _, err = b.client.Issues.Edit(ctx, b.owner, b.repo, num, req)
	return err
}
