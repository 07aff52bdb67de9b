package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/openfleet/bosun/internal/config"
	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/gitx"
	"github.com/openfleet/bosun/internal/kanban"
	"github.com/openfleet/bosun/internal/kanban/github"
	"github.com/openfleet/bosun/internal/kanban/gitlab"
	"github.com/openfleet/bosun/internal/kanban/jira"
	"github.com/openfleet/bosun/internal/kanban/vk"
	"github.com/openfleet/bosun/internal/maintenance"
	"github.com/openfleet/bosun/internal/store"
)

// configDir resolves the active config directory (BOSUN_DIR aware).
func configDir() string {
	return config.Dir()
}

// loadConfig loads the layered configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// openStore opens the task database under the config directory.
func openStore() (*store.Store, error) {
	return store.Open(config.TaskDBPath(configDir()))
}

// repoRoot resolves the repository the command operates on: --repo flag or
// the working directory.
func repoRoot() (string, error) {
	if repoDir != "" {
		return repoDir, nil
	}
	return os.Getwd()
}

// openRepo builds the git managers for one repository root.
func openRepo(logger *slog.Logger) (maintenance.Repo, error) {
	root, err := repoRoot()
	if err != nil {
		return maintenance.Repo{}, err
	}
	if _, err := os.Stat(root); err != nil {
		return maintenance.Repo{}, fmt.Errorf("repository root %s: %w", root, err)
	}
	git := gitx.New(root, &gitx.ExecRunner{})
	return maintenance.Repo{
		Git:       git,
		Worktrees: gitx.NewWorktreeManager(git, logger),
		Branches:  gitx.NewBranchManager(git, logger),
	}, nil
}

// newBackend builds the configured kanban backend, or nil for the internal
// board.
func newBackend(cfg *config.Config, logger *slog.Logger) (kanban.Backend, error) {
	k := cfg.Kanban
	switch k.Backend {
	case "", "internal":
		return nil, nil
	case "github":
		return github.New(github.Config{
			Owner: k.GitHub.Owner,
			Repo:  k.GitHub.Repo,
			Token: k.GitHub.Token,
		})
	case "jira":
		client, err := jira.NewClient(jira.Config{
			Site:       k.Jira.Site,
			ProjectKey: k.Jira.ProjectKey,
			Email:      k.Jira.Email,
			APIToken:   k.Jira.APIToken,
		})
		if err != nil {
			return nil, err
		}
		return jira.New(client, ""), nil
	case "gitlab":
		return gitlab.New(gitlab.Config{
			BaseURL:   k.GitLab.BaseURL,
			ProjectID: k.GitLab.ProjectID,
			Token:     k.GitLab.Token,
		})
	case "vk":
		return vk.New(vk.Config{
			BaseURL: k.VK.BaseURL,
			BoardID: k.VK.BoardID,
			Token:   k.VK.Token,
		})
	default:
		return nil, bosunerr.ErrConfigInvalid("kanban.backend",
			fmt.Sprintf("unknown backend %q", k.Backend))
	}
}

// newKanbanEngine wires the sync engine when a backend is configured.
func newKanbanEngine(cfg *config.Config, st *store.Store, logger *slog.Logger) (*kanban.Engine, error) {
	backend, err := newBackend(cfg, logger)
	if err != nil || backend == nil {
		return nil, err
	}
	cursor := &kanban.StoreCursor{Store: st}
	engine := kanban.NewEngine(st, backend, kanban.Policy(cfg.Kanban.Policy), cursor, nil, logger)
	host, _ := os.Hostname()
	engine.SetOwner(fmt.Sprintf("%s:%d", host, os.Getpid()))
	return engine, nil
}
