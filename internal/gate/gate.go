// Package gate defines the decision model shared by all gatekit gates
// and the runner that bridges a gate to the host's stdin/stdout/exit
// protocol.
//
// A gate is a pure decision function over one event plus whatever
// durable state its package reads. Gates never call each other; the host
// invokes each as its own short-lived process and combines results
// itself (most-restrictive-wins).
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/event"
)

// Exit codes interpreted by the host. Anything else is an internal
// fault and the host fails open.
const (
	ExitAllow = 0
	ExitBlock = 2
)

// Verdict is the outcome of a gate evaluation.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictWarn  Verdict = "warn"
	VerdictBlock Verdict = "block"
)

// FailurePolicy controls what a gate's failure (malformed event,
// internal fault) turns into.
type FailurePolicy int

const (
	// FailOpen allows the action on failure. The default: a broken
	// gate must never stall the session.
	FailOpen FailurePolicy = iota

	// FailClosed blocks the action on failure. Reserved for gates
	// protecting against irreversible loss.
	FailClosed
)

// Decision is what a gate returns to the runner.
type Decision struct {
	Verdict Verdict

	// Context is the human-readable annotation surfaced to the host.
	// Empty means no annotation is emitted.
	Context string

	// Report carries verdict-specific structured fields for gates
	// that classify (e.g. the quality gate's findings list).
	Report any
}

// Allow returns a silent allow decision.
func Allow() *Decision { return &Decision{Verdict: VerdictAllow} }

// Warn returns an allow decision with an advisory annotation.
func Warn(context string) *Decision {
	return &Decision{Verdict: VerdictWarn, Context: context}
}

// Block returns a blocking decision with an explanatory reason.
func Block(context string) *Decision {
	return &Decision{Verdict: VerdictBlock, Context: context}
}

// Gate is one decision unit invoked once per lifecycle event.
type Gate interface {
	// Name identifies the gate in logs and diagnostics.
	Name() string

	// Kind is the event kind this gate handles.
	Kind() event.Kind

	// Policy is the gate's failure policy.
	Policy() FailurePolicy

	// Evaluate computes the decision for one event. It must not
	// block past the host-enforced deadline on ctx.
	Evaluate(ctx context.Context, ev *event.Event) (*Decision, error)
}

// hookOutput is the decision payload shape the host consumes.
type hookOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
	Report            any    `json:"report,omitempty"`
}

type output struct {
	HookSpecificOutput hookOutput `json:"hookSpecificOutput"`
}

// Runner executes one gate against one event read from in, writes the
// decision payload to out, and returns the process exit code.
type Runner struct {
	gate   Gate
	logger *zap.Logger
	in     io.Reader
	out    io.Writer
}

// NewRunner creates a runner. logger may be nil.
func NewRunner(g Gate, logger *zap.Logger, in io.Reader, out io.Writer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Every invocation gets its own ID so log lines from concurrent
	// gate processes writing the same file stay attributable.
	logger = logger.With(zap.String("invocation", uuid.NewString()))
	return &Runner{gate: g, logger: logger, in: in, out: out}
}

// Run performs one full invocation: decode, evaluate, emit, exit code.
// It never panics outward; a recovered panic is an internal fault
// resolved by the gate's failure policy.
func (r *Runner) Run(ctx context.Context) (code int) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("gate panicked",
				zap.String("gate", r.gate.Name()),
				zap.Any("panic", rec),
			)
			code = r.failCode(fmt.Sprintf("internal fault in %s", r.gate.Name()))
		}
	}()

	ev, err := event.Decode(r.in, r.gate.Kind())
	if err != nil {
		r.logger.Warn("event decode failed",
			zap.String("gate", r.gate.Name()),
			zap.Error(err),
		)
		return r.failCode(fmt.Sprintf("%s could not parse event: %v", r.gate.Name(), err))
	}

	decision, err := r.gate.Evaluate(ctx, ev)
	if err != nil {
		r.logger.Error("gate evaluation failed",
			zap.String("gate", r.gate.Name()),
			zap.Error(err),
		)
		return r.failCode(fmt.Sprintf("%s failed: %v", r.gate.Name(), err))
	}

	r.emit(decision)

	if decision.Verdict == VerdictBlock {
		return ExitBlock
	}
	return ExitAllow
}

// failCode resolves a failure per the gate's policy. Fail-closed gates
// emit the reason so the host can surface why the action was blocked;
// fail-open gates stay silent on stdout and only log.
func (r *Runner) failCode(reason string) int {
	if r.gate.Policy() == FailClosed {
		r.emit(Block(reason))
		return ExitBlock
	}
	return ExitAllow
}

func (r *Runner) emit(d *Decision) {
	if d == nil || (d.Context == "" && d.Report == nil) {
		return
	}
	out := output{HookSpecificOutput: hookOutput{
		HookEventName:     string(r.gate.Kind()),
		AdditionalContext: d.Context,
		Report:            d.Report,
	}}
	enc := json.NewEncoder(r.out)
	if err := enc.Encode(out); err != nil {
		r.logger.Error("failed to encode decision",
			zap.String("gate", r.gate.Name()),
			zap.Error(err),
		)
	}
}
