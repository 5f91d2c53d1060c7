package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/event"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
	"github.com/fyrsmithlabs/gatekit/internal/phase"
)

// Gate archives the session record when the session ends and clears
// the persisted phase so the next session starts fresh.
//
// Archival is the one end-of-session side effect the host cannot
// retry, so a failed write surfaces as a block instead of being
// swallowed.
type Gate struct {
	archiver *Archiver
	resolver *phase.Resolver
	logger   *zap.Logger
}

// NewGate wires the session archiver gate.
func NewGate(a *Archiver, r *phase.Resolver, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{archiver: a, resolver: r, logger: logger}
}

func (g *Gate) Name() string     { return "session-archiver" }
func (g *Gate) Kind() event.Kind { return event.KindSessionEnded }

// Policy is FailClosed: an unreadable SessionEnded event means the
// terminal record cannot be written, and the host must hear that, not
// see a silent exit 0.
func (g *Gate) Policy() gate.FailurePolicy { return gate.FailClosed }

func (g *Gate) Evaluate(ctx context.Context, ev *event.Event) (*gate.Decision, error) {
	if ev.Session == nil {
		return nil, fmt.Errorf("archive gate needs a session payload")
	}

	rec := &Record{
		SessionID:     ev.Session.SessionID,
		Summary:       ev.Session.Summary,
		ToolsUsed:     ev.Session.ToolsUsed,
		FilesModified: ev.Session.FilesModified,
		KeyDecisions:  ev.Session.KeyDecisions,
	}

	path, err := g.archiver.Archive(ctx, rec)
	if err != nil {
		// Loud failure: the session is ending, so nothing downstream
		// will notice a missing record unless we say so now.
		return gate.Block(fmt.Sprintf("Session archive failed: %v", err)), nil
	}

	if g.resolver != nil {
		if err := g.resolver.ClearSessionState(); err != nil {
			g.logger.Warn("failed to clear session phase", zap.Error(err))
		}
	}

	return &gate.Decision{
		Verdict: gate.VerdictAllow,
		Context: "Session archived to: " + path,
	}, nil
}
