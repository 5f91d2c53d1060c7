package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/config"
	"github.com/fyrsmithlabs/gatekit/internal/event"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
)

const instrumentationName = "github.com/fyrsmithlabs/gatekit/internal/budget"

// ErrBudgetExceeded marks a check that the ledger refused. Used as the
// fn sentinel inside Store.Update so a denial never persists.
var ErrBudgetExceeded = errors.New("session token budget exceeded")

// Action is the guardian's verdict for one invocation.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionDeny  Action = "deny"
)

// Invocation is one tool call to account for.
type Invocation struct {
	// ID deduplicates host retries. Empty disables deduplication
	// for this call.
	ID        string
	SessionID string
	ToolName  string
	ToolInput map[string]any
}

// Result is the guardian's decision plus the figures behind it.
type Result struct {
	Action    Action
	Severity  string // "CRITICAL" on deny
	Message   string
	Estimate  int64
	Consumed  int64 // ledger consumption after this check
	Budget    int64
	Duplicate bool
}

// Guardian checks invocations against the session budget and keeps the
// ledger current. Check and update are one durable transaction: two
// concurrent invocations can never both pass a check that together
// exceeds the budget.
type Guardian struct {
	store  Store
	cfg    config.BudgetConfig
	logger *zap.Logger
	clock  func() time.Time

	tracer      trace.Tracer
	meter       metric.Meter
	checksTotal metric.Int64Counter
	deniesTotal metric.Int64Counter
}

// NewGuardian creates a guardian over the given store.
func NewGuardian(store Store, cfg config.BudgetConfig, logger *zap.Logger) *Guardian {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Guardian{
		store:  store,
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	g.initMetrics()
	return g
}

func (g *Guardian) initMetrics() {
	var err error

	g.checksTotal, err = g.meter.Int64Counter(
		"gatekit.budget.checks_total",
		metric.WithDescription("Total budget checks performed"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		g.logger.Warn("failed to create checks counter", zap.Error(err))
	}

	g.deniesTotal, err = g.meter.Int64Counter(
		"gatekit.budget.denials_total",
		metric.WithDescription("Total invocations denied over budget"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		g.logger.Warn("failed to create denials counter", zap.Error(err))
	}
}

// Check decides one invocation and updates the ledger atomically with
// the decision. A deny leaves the ledger byte-identical; a replayed
// invocation ID adds no consumption.
func (g *Guardian) Check(ctx context.Context, inv Invocation) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "budget.check")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", inv.SessionID),
		attribute.String("tool", inv.ToolName),
	)

	estimate := Estimate(inv.ToolName, inv.ToolInput)
	now := g.clock()
	res := &Result{
		Action:   ActionAllow,
		Estimate: estimate,
		Budget:   g.cfg.SessionBudget,
	}

	_, err := g.store.Update(ctx, inv.SessionID, func(l *Ledger) error {
		g.pruneSeen(l, now)

		if inv.ID != "" {
			if _, seen := l.Seen[inv.ID]; seen {
				res.Duplicate = true
				res.Consumed = l.Consumed
				res.Message = fmt.Sprintf("duplicate invocation %s; not re-counted", inv.ID)
				// Persisting here only rewrites the pruned seen set;
				// consumption stays untouched.
				return nil
			}
		}

		projected := l.Consumed + estimate
		if projected > g.cfg.SessionBudget {
			res.Action = ActionDeny
			res.Severity = "CRITICAL"
			res.Consumed = l.Consumed
			res.Message = fmt.Sprintf(
				"Session token budget (%d) exhausted: %d consumed, ~%d more requested. Archive the session and start fresh.",
				g.cfg.SessionBudget, l.Consumed, estimate)
			return ErrBudgetExceeded
		}

		percent := float64(projected) / float64(g.cfg.SessionBudget)
		switch {
		case estimate > g.cfg.SingleCallWarn:
			res.Action = ActionWarn
			res.Message = fmt.Sprintf(
				"Large operation: ~%d tokens. Session total will be %.0f%% of budget.",
				estimate, percent*100)
		case percent > g.cfg.CumulativeWarnPercent:
			res.Action = ActionWarn
			res.Message = fmt.Sprintf("Token budget at %.0f%%. Consider context compression.", percent*100)
			if l.Consumed > g.cfg.SummaryThreshold {
				res.Message += " Suggest archiving a checkpoint before continuing."
			}
		}

		l.Consumed = projected
		l.Calls++
		l.LastTool = inv.ToolName
		if inv.ID != "" {
			l.Seen[inv.ID] = now
		}
		res.Consumed = l.Consumed
		return nil
	})

	if err != nil && !errors.Is(err, ErrBudgetExceeded) {
		span.RecordError(err)
		return nil, fmt.Errorf("updating ledger: %w", err)
	}

	if g.checksTotal != nil {
		g.checksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(res.Action))))
	}
	if res.Action == ActionDeny {
		if g.deniesTotal != nil {
			g.deniesTotal.Add(ctx, 1)
		}
		g.logger.Warn("budget exceeded",
			zap.String("session_id", inv.SessionID),
			zap.String("tool", inv.ToolName),
			zap.Int64("estimate", estimate),
			zap.Int64("consumed", res.Consumed),
		)
	}

	return res, nil
}

// pruneSeen drops invocation IDs older than the retention window so
// the seen set stays bounded over long sessions.
func (g *Guardian) pruneSeen(l *Ledger, now time.Time) {
	cutoff := now.Add(-g.cfg.Retention)
	for id, at := range l.Seen {
		if at.Before(cutoff) {
			delete(l.Seen, id)
		}
	}
}

// Gate is the PreToolUse token budget guardian gate.
type Gate struct {
	guardian *Guardian
	logger   *zap.Logger
}

// NewGate wires the guardian gate.
func NewGate(guardian *Guardian, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{guardian: guardian, logger: logger}
}

func (g *Gate) Name() string               { return "token-budget-guardian" }
func (g *Gate) Kind() event.Kind           { return event.KindPreToolUse }
func (g *Gate) Policy() gate.FailurePolicy { return gate.FailOpen }

func (g *Gate) Evaluate(ctx context.Context, ev *event.Event) (*gate.Decision, error) {
	if ev.ToolUse == nil {
		return nil, fmt.Errorf("budget guardian needs a tool use payload")
	}

	// No derived fallback for a missing tool_use_id: two legitimate
	// identical calls must both count, so only a host-assigned ID is
	// safe to deduplicate on.
	inv := Invocation{
		ID:        ev.ToolUse.InvocationID,
		SessionID: ev.SessionID,
		ToolName:  ev.ToolUse.ToolName,
		ToolInput: ev.ToolUse.ToolInput,
	}

	res, err := g.guardian.Check(ctx, inv)
	if err != nil {
		return nil, err
	}

	switch res.Action {
	case ActionDeny:
		return gate.Block(fmt.Sprintf("BUDGET EXCEEDED (%s): %s", res.Severity, res.Message)), nil
	case ActionWarn:
		return gate.Warn("Token Budget: " + res.Message), nil
	default:
		return gate.Allow(), nil
	}
}
