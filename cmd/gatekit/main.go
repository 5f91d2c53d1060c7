// Package main implements the gatekit CLI, one subcommand per gate.
//
// Each gate reads a single host event from stdin, writes its decision
// to stdout, and exits 0 (allow) or 2 (block). Everything else, logs
// included, stays off stdout so the host only ever parses decisions.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/archive"
	"github.com/fyrsmithlabs/gatekit/internal/budget"
	"github.com/fyrsmithlabs/gatekit/internal/cmdsafe"
	"github.com/fyrsmithlabs/gatekit/internal/config"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
	"github.com/fyrsmithlabs/gatekit/internal/logging"
	"github.com/fyrsmithlabs/gatekit/internal/phase"
	"github.com/fyrsmithlabs/gatekit/internal/quality"
	"github.com/fyrsmithlabs/gatekit/internal/skillmatch"
)

var (
	// configPath overrides the default config file location
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatekit",
	Short: "Policy gates for agent tool use",
	Long: `gatekit runs one policy gate per invocation. The host wires each
subcommand to a lifecycle event; the gate reads the event from stdin,
prints a decision to stdout, and exits 0 to allow or 2 to block.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/gatekit/config.yaml)")
	rootCmd.AddCommand(phaseValidatorCmd)
	rootCmd.AddCommand(tokenBudgetCmd)
	rootCmd.AddCommand(skillSuggestCmd)
	rootCmd.AddCommand(gitSafetyCmd)
	rootCmd.AddCommand(outputQualityCmd)
	rootCmd.AddCommand(sessionArchiverCmd)
}

// phaseValidatorCmd enforces the phase capability table on PreToolUse
var phaseValidatorCmd = &cobra.Command{
	Use:   "phase-validator",
	Short: "Block tools outside the current phase's capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGate(func(cfg *config.Config, logger *zap.Logger) (gate.Gate, error) {
			table := phase.DefaultTable()
			if len(cfg.Phase.Capabilities) > 0 {
				var err error
				table, err = phase.TableFromConfig(cfg.Phase.Capabilities)
				if err != nil {
					return nil, err
				}
			}
			v, err := phase.NewValidator(table)
			if err != nil {
				return nil, err
			}
			return phase.NewGate(v, phase.NewResolver(cfg.State.Dir), logger), nil
		}, "phase-validator")
	},
}

// tokenBudgetCmd meters estimated token consumption on PreToolUse
var tokenBudgetCmd = &cobra.Command{
	Use:   "token-budget",
	Short: "Deny tool calls that would exceed the session token budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGate(func(cfg *config.Config, logger *zap.Logger) (gate.Gate, error) {
			store, err := budget.NewFileStore(cfg.State.Dir, logger)
			if err != nil {
				return nil, err
			}
			guardian := budget.NewGuardian(store, cfg.Budget, logger)
			return budget.NewGate(guardian, logger), nil
		}, "token-budget")
	},
}

// skillSuggestCmd annotates prompts with matching skill suggestions
var skillSuggestCmd = &cobra.Command{
	Use:   "skill-suggest",
	Short: "Suggest a skill for the submitted prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGate(func(cfg *config.Config, logger *zap.Logger) (gate.Gate, error) {
			rules := cfg.Skills.Rules
			if len(rules) == 0 {
				rules = skillmatch.DefaultRules()
			}
			m, err := skillmatch.NewMatcher(rules, cfg.Skills.MaxPromptLength, cfg.Skills.MaxSuggestions, logger)
			if err != nil {
				return nil, err
			}
			return skillmatch.NewGate(m, logger), nil
		}, "skill-suggest")
	},
}

// gitSafetyCmd blocks destructive shell commands on PreToolUse
var gitSafetyCmd = &cobra.Command{
	Use:   "git-safety",
	Short: "Block destructive git and shell commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGate(func(cfg *config.Config, logger *zap.Logger) (gate.Gate, error) {
			c := cmdsafe.NewClassifier(cfg.Safety.ProtectedBranches, logger)
			return cmdsafe.NewGate(c, cfg.Safety.BlockAmbiguous, logger), nil
		}, "git-safety")
	},
}

// outputQualityCmd scores subagent output on SubagentStop
var outputQualityCmd = &cobra.Command{
	Use:   "output-quality",
	Short: "Score subagent output and block empty or oversize results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGate(func(cfg *config.Config, logger *zap.Logger) (gate.Gate, error) {
			return quality.NewGate(quality.NewEvaluator(cfg.Quality), logger), nil
		}, "output-quality")
	},
}

// sessionArchiverCmd persists the session record on Stop
var sessionArchiverCmd = &cobra.Command{
	Use:   "session-archiver",
	Short: "Archive the session record at session end",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGate(func(cfg *config.Config, logger *zap.Logger) (gate.Gate, error) {
			a := archive.NewArchiver(cfg.Archive.Root, logger)
			return archive.NewGate(a, phase.NewResolver(cfg.State.Dir), logger), nil
		}, "session-archiver")
	},
}

// runGate loads configuration, builds the gate, and runs one
// stdin-to-stdout decision cycle. The process exit code is the
// decision, so this never returns on success.
func runGate(build func(*config.Config, *zap.Logger) (gate.Gate, error), name string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Config trouble must not wedge the host. Log to stderr and
		// fall back to defaults.
		fmt.Fprintf(os.Stderr, "gatekit: config load failed, using defaults: %v\n", err)
		cfg = config.Defaults()
	}

	logger := logging.NewOrNop(cfg.Logging, cfg.State.Dir, name)

	g, err := build(cfg, logger)
	if err != nil {
		logger.Error("gate construction failed", zap.Error(err))
		logger.Sync()
		// Construction failures follow the same open/closed split as
		// runtime failures, but the gate does not exist yet to ask.
		// git-safety and session-archiver fail closed.
		if name == "git-safety" || name == "session-archiver" {
			os.Exit(gate.ExitBlock)
		}
		os.Exit(gate.ExitAllow)
	}

	code := gate.NewRunner(g, logger, os.Stdin, os.Stdout).Run(context.Background())
	logger.Sync()
	os.Exit(code)
	return nil
}
