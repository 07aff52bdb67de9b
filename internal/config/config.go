// Package config loads bosun configuration from layered YAML files and
// BOSUN_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// BosunDir is the per-user configuration directory name.
	BosunDir = ".bosun"
	// LegacyDir is the pre-rename directory still honored when present.
	LegacyDir = ".openfleet"
	// ConfigFileName is the config file name inside a config directory.
	ConfigFileName = "config.yaml"
	// DirEnv overrides the config directory location.
	DirEnv = "BOSUN_DIR"
)

// Config is the root bosun configuration.
type Config struct {
	Version int `yaml:"version"`

	// Repos bosun maintains. Paths may be relative to the config file.
	Repos []RepoConfig `yaml:"repos"`

	Executors    []ExecutorConfig `yaml:"executors"`
	Distribution Distribution     `yaml:"distribution"`
	Failover     FailoverConfig   `yaml:"failover"`

	Kanban KanbanConfig `yaml:"kanban"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
}

// RepoConfig describes one repository under maintenance.
type RepoConfig struct {
	Path              string   `yaml:"path"`
	ProtectedBranches []string `yaml:"protected_branches"`
	BranchPrefixes    []string `yaml:"branch_prefixes"`
	// StaleBranchMinAge is the youngest collectable branch age.
	StaleBranchMinAge time.Duration `yaml:"stale_branch_min_age"`
}

// ExecutorConfig declares one executor in the pool.
type ExecutorConfig struct {
	SDK string `yaml:"sdk"`
	// Weight biases weighted distribution; values below 1 are raised to 1.
	Weight int `yaml:"weight"`
	// Role is primary, backup, tertiary or empty (assigned positionally).
	Role    string `yaml:"role"`
	Model   string `yaml:"model"`
	Enabled *bool  `yaml:"enabled"`
	// Scopes limits the executor to tasks whose conventional-commit scope
	// matches; empty means any task.
	Scopes []string `yaml:"scopes"`
}

// Distribution selects how tasks spread across the pool.
type Distribution string

const (
	DistributionWeighted    Distribution = "weighted"
	DistributionRoundRobin  Distribution = "round-robin"
	DistributionPrimaryOnly Distribution = "primary-only"
)

// FailoverConfig tunes executor failover.
type FailoverConfig struct {
	// Strategy is next-in-line, weighted-random or round-robin.
	Strategy                     string `yaml:"strategy"`
	MaxRetries                   int    `yaml:"max_retries"`
	CooldownMinutes              int    `yaml:"cooldown_minutes"`
	DisableOnConsecutiveFailures int    `yaml:"disable_on_consecutive_failures"`
}

// KanbanConfig selects and configures the kanban backend.
type KanbanConfig struct {
	// Backend is github, jira, gitlab, vk or empty (internal only).
	Backend string `yaml:"backend"`
	// Policy is internal-primary or bidirectional.
	Policy string `yaml:"policy"`

	GitHub GitHubConfig `yaml:"github"`
	Jira   JiraConfig   `yaml:"jira"`
	GitLab GitLabConfig `yaml:"gitlab"`
	VK     VKConfig     `yaml:"vk"`
}

// GitHubConfig configures the GitHub Projects backend.
type GitHubConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	// ProjectNumber is the Projects v2 board number.
	ProjectNumber int    `yaml:"project_number"`
	Token         string `yaml:"token"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// JiraConfig configures the Jira backend.
type JiraConfig struct {
	Site       string `yaml:"site"`
	ProjectKey string `yaml:"project_key"`
	Email      string `yaml:"email"`
	APIToken   string `yaml:"api_token"`
}

// GitLabConfig configures the GitLab backend.
type GitLabConfig struct {
	BaseURL   string `yaml:"base_url"`
	ProjectID string `yaml:"project_id"`
	Token     string `yaml:"token"`
}

// VKConfig configures the VK board backend.
type VKConfig struct {
	BaseURL string `yaml:"base_url"`
	BoardID string `yaml:"board_id"`
	Token   string `yaml:"token"`
}

// MaintenanceConfig tunes the sweeper.
type MaintenanceConfig struct {
	// Interval between sweeps in supervisor mode.
	Interval time.Duration `yaml:"interval"`
	// StuckPushAge is how old a git push process must be before reaping.
	StuckPushAge time.Duration `yaml:"stuck_push_age"`
	// ArchiveAfter is how long terminal tasks stay before archival.
	ArchiveAfter time.Duration `yaml:"archive_after"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version:      1,
		Distribution: DistributionPrimaryOnly,
		Failover: FailoverConfig{
			Strategy:                     "next-in-line",
			MaxRetries:                   3,
			CooldownMinutes:              5,
			DisableOnConsecutiveFailures: 3,
		},
		Kanban: KanbanConfig{
			Policy: "internal-primary",
		},
		Maintenance: MaintenanceConfig{
			Interval:     10 * time.Minute,
			StuckPushAge: 15 * time.Minute,
			ArchiveAfter: 14 * 24 * time.Hour,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Dir resolves the bosun config directory: BOSUN_DIR, then ~/.bosun,
// then the legacy ~/.openfleet when it exists and ~/.bosun does not.
func Dir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return BosunDir
	}
	primary := filepath.Join(home, BosunDir)
	if _, err := os.Stat(primary); err == nil {
		return primary
	}
	legacy := filepath.Join(home, LegacyDir)
	if _, err := os.Stat(legacy); err == nil {
		return legacy
	}
	return primary
}

// TaskDBPath returns the SQLite task store path under the config dir.
func TaskDBPath(configDir string) string {
	return filepath.Join(configDir, "tasks.db")
}
