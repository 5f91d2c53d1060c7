// Package config loads the gatekit configuration snapshot.
//
// Precedence (highest to lowest):
//  1. Environment variables (GATEKIT_BUDGET_SESSION_BUDGET, ...)
//  2. YAML config file (~/.config/gatekit/config.yaml)
//  3. Built-in defaults
//
// Each gate invocation loads one snapshot and never re-reads it; a
// config change takes effect on the next lifecycle event.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces gatekit environment variables.
	envPrefix = "GATEKIT_"

	// maxConfigFileSize rejects runaway config files.
	maxConfigFileSize = 1 << 20 // 1MB
)

// Load reads configuration from the given YAML file path, then applies
// environment overrides. An empty path means the default location; a
// missing file is not an error, defaults apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "gatekit", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and read through the descriptor to avoid a
		// TOCTOU race between the size check and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	// Environment overrides. GATEKIT_BUDGET_SESSION_BUDGET maps to
	// budget.session_budget: the first underscore after the prefix
	// separates section from field.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(s, "_", 2)
		if len(parts) == 1 {
			return s
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Defaults returns a configuration built purely from built-in
// defaults, for callers that must keep working when Load fails.
func Defaults() *Config {
	var cfg Config
	if err := applyDefaults(&cfg); err != nil {
		// Home directory lookup failed; fall back to relative paths
		// so gates still run in a degraded but functional mode.
		cfg.State.Dir = ".gatekit/state"
		cfg.Archive.Root = ".gatekit/sessions"
		_ = applyDefaults(&cfg)
	}
	return &cfg
}

// applyDefaults fills unset fields. Paths default under
// ~/.config/gatekit so a bare install works with no config file.
func applyDefaults(cfg *Config) error {
	if cfg.State.Dir == "" || cfg.Archive.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		if cfg.State.Dir == "" {
			cfg.State.Dir = filepath.Join(home, ".config", "gatekit", "state")
		}
		if cfg.Archive.Root == "" {
			cfg.Archive.Root = filepath.Join(home, ".config", "gatekit", "sessions")
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Budget.SessionBudget == 0 {
		cfg.Budget.SessionBudget = 200000
	}
	if cfg.Budget.SingleCallWarn == 0 {
		cfg.Budget.SingleCallWarn = 10000
	}
	if cfg.Budget.CumulativeWarnPercent == 0 {
		cfg.Budget.CumulativeWarnPercent = 0.75
	}
	if cfg.Budget.SummaryThreshold == 0 {
		cfg.Budget.SummaryThreshold = 50000
	}
	if cfg.Budget.Retention == 0 {
		cfg.Budget.Retention = 24 * time.Hour
	}

	if cfg.Skills.MaxPromptLength == 0 {
		cfg.Skills.MaxPromptLength = 4096
	}
	if cfg.Skills.MaxSuggestions == 0 {
		cfg.Skills.MaxSuggestions = 1
	}

	if len(cfg.Safety.ProtectedBranches) == 0 {
		cfg.Safety.ProtectedBranches = []string{"main", "master"}
	}

	if cfg.Quality.MinResponseLength == 0 {
		cfg.Quality.MinResponseLength = 50
	}
	if cfg.Quality.MaxResponseLength == 0 {
		cfg.Quality.MaxResponseLength = 1 << 20
	}
	if cfg.Quality.MaxCodeBlockLines == 0 {
		cfg.Quality.MaxCodeBlockLines = 100
	}
	if cfg.Quality.WarnFindingCount == 0 {
		cfg.Quality.WarnFindingCount = 3
	}

	return nil
}
