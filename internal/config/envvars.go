package config

import (
	"os"
	"time"
)

// Environment variable names. Secrets are expected here rather than in
// config files.
const (
	EnvLogLevel      = "BOSUN_LOG_LEVEL"
	EnvLogFormat     = "BOSUN_LOG_FORMAT"
	EnvDistribution  = "BOSUN_DISTRIBUTION"
	EnvKanbanBackend = "BOSUN_KANBAN_BACKEND"
	EnvKanbanPolicy  = "BOSUN_KANBAN_POLICY"
	EnvGitHubToken   = "BOSUN_GITHUB_TOKEN"
	EnvJiraToken     = "BOSUN_JIRA_API_TOKEN"
	EnvGitLabToken   = "BOSUN_GITLAB_TOKEN"
	EnvVKToken       = "BOSUN_VK_TOKEN"
	EnvSweepInterval = "BOSUN_MAINTENANCE_INTERVAL"
)

// applyEnvVars overlays BOSUN_* environment variables onto cfg. Env always
// wins over file values.
func applyEnvVars(cfg *Config) {
	setString(EnvLogLevel, &cfg.LogLevel)
	setString(EnvLogFormat, &cfg.LogFormat)
	if v := os.Getenv(EnvDistribution); v != "" {
		cfg.Distribution = Distribution(v)
	}
	setString(EnvKanbanBackend, &cfg.Kanban.Backend)
	setString(EnvKanbanPolicy, &cfg.Kanban.Policy)
	setString(EnvGitHubToken, &cfg.Kanban.GitHub.Token)
	setString(EnvJiraToken, &cfg.Kanban.Jira.APIToken)
	setString(EnvGitLabToken, &cfg.Kanban.GitLab.Token)
	setString(EnvVKToken, &cfg.Kanban.VK.Token)
	if v := os.Getenv(EnvSweepInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Maintenance.Interval = d
		}
	}
}

func setString(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
