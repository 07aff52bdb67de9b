// Package jira syncs tasks to Jira Cloud through the REST v3 API.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	v3 "github.com/ctreminiom/go-atlassian/v2/jira/v3"

	bosunerr "github.com/openfleet/bosun/internal/errors"
)

// Config holds the connection settings for one Jira Cloud site.
type Config struct {
	// Site is the instance URL, e.g. "https://acme.atlassian.net".
	Site string
	// ProjectKey scopes all issue operations.
	ProjectKey string
	// Email and APIToken form the basic-auth pair.
	Email    string
	APIToken string
}

// Client wraps the go-atlassian v3 client with bosun's conveniences.
type Client struct {
	jira *v3.Client
	cfg  Config
}

// NewClient creates an authenticated Jira client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Site == "" {
		return nil, bosunerr.ErrConfigInvalid("kanban.jira.site", "required")
	}
	if cfg.ProjectKey == "" {
		return nil, bosunerr.ErrConfigInvalid("kanban.jira.project_key", "required")
	}
	if cfg.Email == "" || cfg.APIToken == "" {
		return nil, bosunerr.ErrBackendAuthMissing("jira", "set kanban.jira.email and BOSUN_JIRA_TOKEN")
	}

	cfg.Site = strings.TrimRight(cfg.Site, "/")

	client, err := v3.New(&http.Client{Timeout: 30 * time.Second}, cfg.Site)
	if err != nil {
		return nil, fmt.Errorf("create jira client: %w", err)
	}
	client.Auth.SetBasicAuth(cfg.Email, cfg.APIToken)
	client.Auth.SetUserAgent("bosun-kanban/1.0")

	return &Client{jira: client, cfg: cfg}, nil
}

// CheckAuth verifies the credentials against the myself endpoint.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, resp, err := c.jira.MySelf.Details(ctx, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return bosunerr.ErrBackendAuthMissing("jira", "check kanban.jira.email and the API token")
		}
		return bosunerr.ErrBackendUnavailable("jira", err)
	}
	return nil
}

// DiscoverFields maps custom field names to their IDs. Used to locate the
// shared-state fields without hardcoding customfield numbers.
func (c *Client) DiscoverFields(ctx context.Context) (map[string]string, error) {
	fields, _, err := c.jira.Issue.Field.Gets(ctx)
	if err != nil {
		return nil, bosunerr.ErrBackendUnavailable("jira", err)
	}
	byName := make(map[string]string, len(fields))
	for _, f := range fields {
		if f == nil || !f.Custom {
			continue
		}
		byName[f.Name] = f.ID
	}
	return byName, nil
}
