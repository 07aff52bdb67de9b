// Package github syncs tasks to GitHub Issues, with Projects v2 column
// discovery through the gh CLI.
package github

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/kanban"
)

// CLI runs gh commands against a repository checkout. The project board
// surface (field discovery, auth probing) only exists behind gh; the issue
// CRUD path goes through the REST API instead.
type CLI struct {
	repoPath string
	owner    string
	repo     string

	// run is swappable for tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewCLI creates a gh wrapper for the repo at repoPath, resolving owner and
// repo from the origin remote.
func NewCLI(repoPath string) (*CLI, error) {
	c := &CLI{repoPath: repoPath}
	c.run = c.runGH

	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = repoPath
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("get remote URL: %w", err)
	}

	rawURL := strings.TrimSpace(string(output))
	rawURL = strings.TrimSuffix(rawURL, ".git")
	c.owner, c.repo = parseOwnerRepo(rawURL)
	if c.owner == "" || c.repo == "" {
		return nil, fmt.Errorf("could not parse owner/repo from remote URL: %s", rawURL)
	}
	return c, nil
}

// parseOwnerRepo extracts owner and repo from the common remote URL shapes:
// git@host:path, ssh://git@host[:port]/path, https://host/path, and bare
// host/path. Nested paths keep the last two segments.
func parseOwnerRepo(rawURL string) (owner, repo string) {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`^git@[^:]+:(.+)$`),
		regexp.MustCompile(`^ssh://[^/]+/(.+)$`),
		regexp.MustCompile(`^https?://[^/]+/(.+)$`),
		regexp.MustCompile(`[^/]+\.[^/]+/(.+)$`),
	}
	for _, p := range patterns {
		if m := p.FindStringSubmatch(rawURL); len(m) == 2 {
			return lastTwoSegments(m[1])
		}
	}
	return "", ""
}

func lastTwoSegments(path string) (owner, repo string) {
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return "", ""
	}
	return segments[len(segments)-2], segments[len(segments)-1]
}

// Owner returns the repository owner.
func (c *CLI) Owner() string { return c.owner }

// Repo returns the repository name.
func (c *CLI) Repo() string { return c.repo }

func (c *CLI) runGH(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = c.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// CheckAuth verifies gh is authenticated. A failure maps to the auth-missing
// error so callers can surface the remediation hint.
func (c *CLI) CheckAuth(ctx context.Context) error {
	out, err := c.run(ctx, "api", "user")
	if err != nil {
		return bosunerr.ErrBackendAuthMissing("github", "run `gh auth login`")
	}
	if gjson.GetBytes(out, "login").String() == "" {
		return bosunerr.ErrBackendAuthMissing("github", "run `gh auth login`")
	}
	return nil
}

// DefaultBranch returns the repository's default branch via gh repo view.
func (c *CLI) DefaultBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "repo", "view", "--json", "defaultBranchRef")
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(out, "defaultBranchRef.name").String(), nil
}

// DiscoverStatusColumns finds the project's Status single-select options and
// resolves them to the internal statuses. Returns an empty map when the
// project has no Status field.
func (c *CLI) DiscoverStatusColumns(ctx context.Context, projectNumber int) (kanban.StatusMap, error) {
	out, err := c.run(ctx, "project", "field-list", fmt.Sprintf("%d", projectNumber),
		"--owner", c.owner, "--format", "json")
	if err != nil {
		return kanban.StatusMap{}, bosunerr.ErrBackendUnavailable("github", err)
	}

	var options []string
	gjson.GetBytes(out, "fields").ForEach(func(_, field gjson.Result) bool {
		if !strings.EqualFold(field.Get("name").String(), "Status") {
			return true
		}
		field.Get("options").ForEach(func(_, opt gjson.Result) bool {
			options = append(options, opt.Get("name").String())
			return true
		})
		return false
	})
	return kanban.ResolveColumns(options), nil
}

// ListProjects returns the numbers of the owner's projects, for picking or
// validating the configured project number.
func (c *CLI) ListProjects(ctx context.Context) (map[int]string, error) {
	out, err := c.run(ctx, "project", "list", "--owner", c.owner, "--format", "json")
	if err != nil {
		return nil, bosunerr.ErrBackendUnavailable("github", err)
	}
	projects := make(map[int]string)
	gjson.GetBytes(out, "projects").ForEach(func(_, p gjson.Result) bool {
		projects[int(p.Get("number").Int())] = p.Get("title").String()
		return true
	})
	return projects, nil
}
