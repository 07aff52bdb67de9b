// Package vk syncs tasks to a Vibe-Kanban board over its REST API.
package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/kanban"
	"github.com/openfleet/bosun/internal/task"
)

// Config selects the Vibe-Kanban instance and board.
type Config struct {
	BaseURL string
	BoardID string
	Token   string
}

// Backend talks to a Vibe-Kanban board. Card refs are VK card IDs; status
// maps to board columns resolved on first use.
type Backend struct {
	base   string
	board  string
	token  string
	client *http.Client

	mu      sync.Mutex
	columns *kanban.StatusMap
}

// New creates the VK backend.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, bosunerr.ErrConfigInvalid("kanban.vk.base_url", "required")
	}
	if cfg.BoardID == "" {
		return nil, bosunerr.ErrConfigInvalid("kanban.vk.board_id", "required")
	}
	if cfg.Token == "" {
		return nil, bosunerr.ErrBackendAuthMissing("vk", "set BOSUN_VK_TOKEN")
	}
	return &Backend{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		board:  cfg.BoardID,
		token:  cfg.Token,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

var _ kanban.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "vk" }

// wire types for the VK REST payloads.
type vkBoard struct {
	Columns []vkColumn `json:"columns"`
}

type vkColumn struct {
	Name string `json:"name"`
}

type vkCard struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Column      string    `json:"column"`
	Labels      []string  `json:"labels,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

func (b *Backend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return bosunerr.ErrBackendUnavailable("vk", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return bosunerr.ErrBackendAuthMissing("vk", "check BOSUN_VK_TOKEN")
	case resp.StatusCode >= 500:
		return bosunerr.ErrBackendUnavailable("vk",
			fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode >= 400:
		blob, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(blob)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusMap fetches the board's columns once and alias-resolves them.
func (b *Backend) statusMap(ctx context.Context) (kanban.StatusMap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.columns != nil {
		return *b.columns, nil
	}
	var board vkBoard
	if err := b.do(ctx, http.MethodGet, "/api/v1/boards/"+b.board, nil, &board); err != nil {
		return kanban.StatusMap{}, err
	}
	names := make([]string, 0, len(board.Columns))
	for _, col := range board.Columns {
		names = append(names, col.Name)
	}
	m := kanban.ResolveColumns(names)
	b.columns = &m
	return m, nil
}

// List returns the board cards carrying a managed label.
func (b *Backend) List(ctx context.Context) ([]kanban.Card, error) {
	m, err := b.statusMap(ctx)
	if err != nil {
		return nil, err
	}
	var raw []vkCard
	if err := b.do(ctx, http.MethodGet, "/api/v1/boards/"+b.board+"/cards", nil, &raw); err != nil {
		return nil, err
	}
	var cards []kanban.Card
	for _, c := range raw {
		if !kanban.HasManagedLabel(c.Labels) {
			continue
		}
		cards = append(cards, kanban.Card{
			Ref:         c.ID,
			Title:       c.Title,
			Description: c.Description,
			Status:      m.Status(c.Column),
			Labels:      c.Labels,
			UpdatedAt:   c.UpdatedAt,
		})
	}
	return cards, nil
}

func (b *Backend) column(ctx context.Context, st task.Status) (string, error) {
	m, err := b.statusMap(ctx)
	if err != nil {
		return "", err
	}
	col := m.Column(st)
	if col == "" {
		return "", fmt.Errorf("board %s has no column for %s", b.board, st)
	}
	return col, nil
}

// Create adds a card and returns its ID.
func (b *Backend) Create(ctx context.Context, c *kanban.Card) (string, error) {
	col, err := b.column(ctx, c.Status)
	if err != nil {
		return "", err
	}
	var created vkCard
	payload := vkCard{
		Title:       c.Title,
		Description: c.Description,
		Column:      col,
		Labels:      c.Labels,
	}
	if err := b.do(ctx, http.MethodPost, "/api/v1/boards/"+b.board+"/cards", payload, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("vk create returned no card id")
	}
	return created.ID, nil
}

// Update pushes the whole card.
func (b *Backend) Update(ctx context.Context, c *kanban.Card) error {
	col, err := b.column(ctx, c.Status)
	if err != nil {
		return err
	}
	payload := vkCard{
		Title:       c.Title,
		Description: c.Description,
		Column:      col,
		Labels:      c.Labels,
	}
	return b.do(ctx, http.MethodPatch, "/api/v1/cards/"+c.Ref, payload, nil)
}

// SetStatus moves a card to the column mapped from status.
func (b *Backend) SetStatus(ctx context.Context, ref string, st task.Status) error {
	col, err := b.column(ctx, st)
	if err != nil {
		return err
	}
	return b.do(ctx, http.MethodPatch, "/api/v1/cards/"+ref, map[string]string{"column": col}, nil)
}
