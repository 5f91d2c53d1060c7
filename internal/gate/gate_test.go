package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gatekit/internal/event"
)

// stubGate lets tests script a gate's behavior.
type stubGate struct {
	name     string
	kind     event.Kind
	policy   FailurePolicy
	decision *Decision
	err      error
	panics   bool
}

func (s *stubGate) Name() string          { return s.name }
func (s *stubGate) Kind() event.Kind      { return s.kind }
func (s *stubGate) Policy() FailurePolicy { return s.policy }

func (s *stubGate) Evaluate(ctx context.Context, ev *event.Event) (*Decision, error) {
	if s.panics {
		panic("scripted panic")
	}
	return s.decision, s.err
}

func run(t *testing.T, g Gate, payload string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	r := NewRunner(g, nil, strings.NewReader(payload), &out)
	code := r.Run(context.Background())
	return code, out.String()
}

func TestRunner_AllowSilent(t *testing.T) {
	g := &stubGate{name: "t", kind: event.KindPreToolUse, decision: Allow()}
	code, out := run(t, g, `{"tool_name": "Read"}`)

	assert.Equal(t, ExitAllow, code)
	assert.Empty(t, out, "silent allow must not write to stdout")
}

func TestRunner_WarnEmitsAnnotation(t *testing.T) {
	g := &stubGate{name: "t", kind: event.KindPreToolUse, decision: Warn("careful now")}
	code, out := run(t, g, `{"tool_name": "Bash"}`)

	require.Equal(t, ExitAllow, code)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	hso := decoded["hookSpecificOutput"]
	assert.Equal(t, "PreToolUse", hso["hookEventName"])
	assert.Equal(t, "careful now", hso["additionalContext"])
}

func TestRunner_BlockExitCode(t *testing.T) {
	g := &stubGate{name: "t", kind: event.KindPreToolUse, decision: Block("nope")}
	code, out := run(t, g, `{"tool_name": "Bash"}`)

	assert.Equal(t, ExitBlock, code)
	assert.Contains(t, out, "nope")
}

func TestRunner_MalformedEvent_FailOpen(t *testing.T) {
	g := &stubGate{name: "t", kind: event.KindPreToolUse, policy: FailOpen}
	code, out := run(t, g, `not json`)

	assert.Equal(t, ExitAllow, code)
	assert.Empty(t, out)
}

func TestRunner_MalformedEvent_FailClosed(t *testing.T) {
	g := &stubGate{name: "safety", kind: event.KindPreToolUse, policy: FailClosed}
	code, out := run(t, g, `not json`)

	assert.Equal(t, ExitBlock, code)
	assert.Contains(t, out, "could not parse event")
}

func TestRunner_EvaluateError(t *testing.T) {
	tests := []struct {
		name     string
		policy   FailurePolicy
		wantCode int
	}{
		{"fail open", FailOpen, ExitAllow},
		{"fail closed", FailClosed, ExitBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &stubGate{
				name:   "t",
				kind:   event.KindPreToolUse,
				policy: tt.policy,
				err:    errors.New("boom"),
			}
			code, _ := run(t, g, `{"tool_name": "Read"}`)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestRunner_PanicRecovered(t *testing.T) {
	g := &stubGate{name: "t", kind: event.KindPreToolUse, policy: FailClosed, panics: true}
	code, _ := run(t, g, `{"tool_name": "Read"}`)
	assert.Equal(t, ExitBlock, code)

	g.policy = FailOpen
	code, _ = run(t, g, `{"tool_name": "Read"}`)
	assert.Equal(t, ExitAllow, code)
}

func TestRunner_ReportSerialized(t *testing.T) {
	g := &stubGate{
		name: "quality",
		kind: event.KindSubagentCompleted,
		decision: &Decision{
			Verdict: VerdictWarn,
			Context: "2 findings",
			Report:  map[string]any{"verdict": "WARN"},
		},
	}
	code, out := run(t, g, `{"agent_name": "a", "output": "x"}`)

	require.Equal(t, ExitAllow, code)
	assert.Contains(t, out, `"report"`)
	assert.Contains(t, out, `"WARN"`)
}
