package cmdsafe

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/event"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
)

// Gate is the PreToolUse git safety net gate. It inspects Bash
// commands only; every other tool passes through untouched.
type Gate struct {
	classifier *Classifier
	logger     *zap.Logger

	// blockAmbiguous escalates ambiguous commands from warn-but-
	// allow to block.
	blockAmbiguous bool
}

// NewGate wires the safety net gate.
func NewGate(c *Classifier, blockAmbiguous bool, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{classifier: c, blockAmbiguous: blockAmbiguous, logger: logger}
}

func (g *Gate) Name() string     { return "git-safety-net" }
func (g *Gate) Kind() event.Kind { return event.KindPreToolUse }

// Policy is FailClosed: this gate guards irreversible data loss, so an
// internal fault blocks rather than allows. Every other gate fails
// open.
func (g *Gate) Policy() gate.FailurePolicy { return gate.FailClosed }

func (g *Gate) Evaluate(ctx context.Context, ev *event.Event) (*gate.Decision, error) {
	if ev.ToolUse == nil {
		return nil, fmt.Errorf("git safety net needs a tool use payload")
	}
	if ev.ToolUse.ToolName != "Bash" {
		return gate.Allow(), nil
	}

	command := ev.ToolUse.InputString("command")
	if command == "" {
		return gate.Allow(), nil
	}

	cl, err := g.classifier.Classify(command)
	if err != nil {
		// Fail closed: the runner turns this error into a block.
		return nil, fmt.Errorf("classifying command: %w", err)
	}

	switch cl.Action {
	case ActionDestructive:
		g.logger.Warn("blocked destructive command",
			zap.String("command", command),
			zap.String("reason", cl.Reason),
		)
		return gate.Block(fmt.Sprintf(
			"BLOCKED: %s\n\nThis operation could cause irreversible data loss. If it is truly needed, run it manually in a terminal with full understanding of the consequences.",
			cl.Reason)), nil

	case ActionAmbiguous:
		g.logger.Info("flagged ambiguous command",
			zap.String("command", command),
			zap.String("reason", cl.Reason),
		)
		msg := "WARNING: " + cl.Reason
		if cl.Suggestion != "" {
			msg += "\n\nSafer alternative: " + cl.Suggestion
		}
		if g.blockAmbiguous {
			return gate.Block(msg), nil
		}
		return gate.Warn(msg), nil

	default:
		return gate.Allow(), nil
	}
}
