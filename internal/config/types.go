package config

import (
	"fmt"
	"time"
)

// Config is the full gatekit configuration. Gates receive it as an
// immutable snapshot per invocation; nothing mutates it after Load.
type Config struct {
	State   StateConfig   `koanf:"state"`
	Logging LoggingConfig `koanf:"logging"`
	Phase   PhaseConfig   `koanf:"phase"`
	Budget  BudgetConfig  `koanf:"budget"`
	Skills  SkillsConfig  `koanf:"skills"`
	Safety  SafetyConfig  `koanf:"safety"`
	Quality QualityConfig `koanf:"quality"`
	Archive ArchiveConfig `koanf:"archive"`
}

// StateConfig locates the durable state shared across gate invocations.
type StateConfig struct {
	// Dir holds the budget ledger, the session phase file, and gate
	// logs. Default: ~/.config/gatekit/state
	Dir string `koanf:"dir"`
}

// LoggingConfig controls the per-gate log files.
type LoggingConfig struct {
	// Level is a zap level name ("debug", "info", "warn", "error").
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// PhaseConfig controls the phase validator.
type PhaseConfig struct {
	// Capabilities overrides the built-in capability table. Keys are
	// phase names, values are permitted tool categories. A partial
	// map is rejected: every phase must be declared explicitly.
	Capabilities map[string][]string `koanf:"capabilities"`
}

// BudgetConfig controls the token budget guardian.
type BudgetConfig struct {
	// SessionBudget is the total token budget for one session.
	SessionBudget int64 `koanf:"session_budget"`

	// SingleCallWarn annotates any single call estimated above this.
	SingleCallWarn int64 `koanf:"single_call_warn"`

	// CumulativeWarnPercent (0..1) annotates once projected usage
	// passes this share of the budget.
	CumulativeWarnPercent float64 `koanf:"cumulative_warn_percent"`

	// SummaryThreshold adds a context-compression hint to cumulative
	// warnings once consumption passes it.
	SummaryThreshold int64 `koanf:"summary_threshold"`

	// Retention bounds how long seen invocation IDs are kept for
	// replay deduplication.
	Retention time.Duration `koanf:"retention"`
}

// SkillRule maps a prompt pattern to a suggested skill. Lower Priority
// evaluates first.
type SkillRule struct {
	Pattern  string `koanf:"pattern"`
	Skill    string `koanf:"skill"`
	Priority int    `koanf:"priority"`
}

// SkillsConfig controls the skill suggestion gate.
type SkillsConfig struct {
	// Rules replaces the built-in rule table when non-empty.
	Rules []SkillRule `koanf:"rules"`

	// MaxPromptLength truncates the prompt before matching.
	MaxPromptLength int `koanf:"max_prompt_length"`

	// MaxSuggestions caps returned matches. 1 means first-match.
	MaxSuggestions int `koanf:"max_suggestions"`
}

// SafetyConfig controls the git safety net.
type SafetyConfig struct {
	// ProtectedBranches are branches force pushes are never allowed
	// to target.
	ProtectedBranches []string `koanf:"protected_branches"`

	// BlockAmbiguous blocks ambiguous commands instead of the
	// default warn-but-allow.
	BlockAmbiguous bool `koanf:"block_ambiguous"`
}

// QualityConfig controls the output quality gate.
type QualityConfig struct {
	MinResponseLength int `koanf:"min_response_length"`
	MaxResponseLength int `koanf:"max_response_length"`

	// MaxCodeBlockLines flags fenced code blocks longer than this
	// when they lack surrounding explanation.
	MaxCodeBlockLines int `koanf:"max_code_block_lines"`

	// WarnFindingCount is the findings count at which the verdict
	// escalates from PASS to WARN.
	WarnFindingCount int `koanf:"warn_finding_count"`

	// RequiredSections maps agent names to sections their output
	// must contain.
	RequiredSections map[string][]string `koanf:"required_sections"`
}

// ArchiveConfig controls the session archiver.
type ArchiveConfig struct {
	// Root is the fixed directory all session records live under.
	// No archived file may ever resolve outside it.
	// Default: ~/.config/gatekit/sessions
	Root string `koanf:"root"`
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Budget.SessionBudget <= 0 {
		return fmt.Errorf("budget.session_budget must be positive, got %d", c.Budget.SessionBudget)
	}
	if c.Budget.SingleCallWarn <= 0 {
		return fmt.Errorf("budget.single_call_warn must be positive, got %d", c.Budget.SingleCallWarn)
	}
	if c.Budget.CumulativeWarnPercent <= 0 || c.Budget.CumulativeWarnPercent >= 1 {
		return fmt.Errorf("budget.cumulative_warn_percent must be in (0, 1), got %v", c.Budget.CumulativeWarnPercent)
	}
	if c.Budget.Retention <= 0 {
		return fmt.Errorf("budget.retention must be positive, got %v", c.Budget.Retention)
	}
	if c.Skills.MaxPromptLength <= 0 {
		return fmt.Errorf("skills.max_prompt_length must be positive, got %d", c.Skills.MaxPromptLength)
	}
	if c.Skills.MaxSuggestions <= 0 {
		return fmt.Errorf("skills.max_suggestions must be positive, got %d", c.Skills.MaxSuggestions)
	}
	if c.Quality.MinResponseLength < 0 || c.Quality.WarnFindingCount <= 0 {
		return fmt.Errorf("invalid quality thresholds")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir must not be empty")
	}
	if c.Archive.Root == "" {
		return fmt.Errorf("archive.root must not be empty")
	}
	return nil
}
