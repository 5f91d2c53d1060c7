package phase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/event"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
)

// Result is a validation outcome.
type Result struct {
	Allowed bool
	Reason  string
}

// Validator answers whether a tool category is permitted in a phase.
type Validator struct {
	table Table
}

// NewValidator creates a validator over a validated table.
func NewValidator(table Table) (*Validator, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Validator{table: table}, nil
}

// Validate is deterministic and total: every (category, phase) pair
// resolves. A malformed phase string was already mapped to the default
// by Parse upstream; a malformed category denies, since an
// unrecognized tool taxonomy is safer refused.
func (v *Validator) Validate(category Category, p Phase) Result {
	if _, ok := ParseCategory(string(category)); !ok {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("unrecognized tool category %q", category),
		}
	}
	if resolved, ok := Parse(string(p)); !ok || resolved != p {
		p = resolved
	}

	if v.table.permits(p, category) {
		return Result{Allowed: true}
	}

	short := string(category)
	if category == CategoryMemoryWrite {
		short = "write"
	}
	return Result{
		Allowed: false,
		Reason: fmt.Sprintf("%s not permitted in %s phase. Permitted: %s",
			short, capitalize(string(p)), sortedNames(v.table[p])),
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// Gate is the PreToolUse phase validator gate.
type Gate struct {
	validator *Validator
	resolver  *Resolver
	logger    *zap.Logger
}

// NewGate wires the validator gate.
func NewGate(v *Validator, r *Resolver, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{validator: v, resolver: r, logger: logger}
}

func (g *Gate) Name() string               { return "phase-validator" }
func (g *Gate) Kind() event.Kind           { return event.KindPreToolUse }
func (g *Gate) Policy() gate.FailurePolicy { return gate.FailOpen }

// Evaluate resolves the active phase, classifies the tool, and applies
// the capability table.
func (g *Gate) Evaluate(ctx context.Context, ev *event.Event) (*gate.Decision, error) {
	if ev.ToolUse == nil {
		return nil, fmt.Errorf("phase validator needs a tool use payload")
	}

	category, ok := CategoryFor(ev.ToolUse.ToolName)
	if !ok {
		// Empty tool name: the taxonomy is unreadable, fail closed
		// on the decision itself.
		return gate.Block("tool name missing from event; cannot classify capability"), nil
	}

	current := g.resolver.Resolve()
	res := g.validator.Validate(category, current)
	if res.Allowed {
		return gate.Allow(), nil
	}

	g.logger.Info("tool blocked by phase",
		zap.String("tool", ev.ToolUse.ToolName),
		zap.String("category", string(category)),
		zap.String("phase", string(current)),
	)
	return gate.Block(fmt.Sprintf("Phase violation: tool %q (%s): %s",
		ev.ToolUse.ToolName, category, res.Reason)), nil
}
