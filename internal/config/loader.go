package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	bosunerr "github.com/openfleet/bosun/internal/errors"
)

// Load loads configuration with the standard layering. Later sources
// override earlier ones:
//  1. Built-in defaults
//  2. User config ({configDir}/config.yaml) - optional
//  3. Project config (.bosun/config.yaml in cwd) - optional
//  4. Environment variables (BOSUN_*)
func Load() (*Config, error) {
	return LoadFrom(Dir())
}

// LoadFrom loads with an explicit config directory.
func LoadFrom(configDir string) (*Config, error) {
	cfg := Default()

	userPath := filepath.Join(configDir, ConfigFileName)
	if _, err := os.Stat(userPath); err == nil {
		if err := mergeFromFile(cfg, userPath); err != nil {
			slog.Warn("failed to load user config", "path", userPath, "error", err)
		}
	}

	projectPath := filepath.Join(BosunDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		// Project config errors are fatal: a broken checked-in config should
		// not silently degrade to user settings.
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err
		}
	}

	applyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile overlays non-zero values from path onto cfg.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return bosunerr.ErrConfigInvalid(path, err.Error())
	}
	return nil
}

// Validate checks cross-field constraints after layering.
func (c *Config) Validate() error {
	switch c.Distribution {
	case "", DistributionWeighted, DistributionRoundRobin, DistributionPrimaryOnly:
	default:
		return bosunerr.ErrConfigInvalid("distribution",
			fmt.Sprintf("unknown strategy %q", c.Distribution))
	}

	switch c.Kanban.Policy {
	case "", "internal-primary", "bidirectional":
	default:
		return bosunerr.ErrConfigInvalid("kanban.policy",
			fmt.Sprintf("unknown policy %q", c.Kanban.Policy))
	}

	switch c.Kanban.Backend {
	case "", "github", "jira", "gitlab", "vk":
	default:
		return bosunerr.ErrConfigInvalid("kanban.backend",
			fmt.Sprintf("unknown backend %q", c.Kanban.Backend))
	}

	for i, ex := range c.Executors {
		if ex.SDK == "" {
			return bosunerr.ErrConfigInvalid(
				fmt.Sprintf("executors[%d].sdk", i), "sdk is required")
		}
	}
	return nil
}
