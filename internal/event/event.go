// Package event defines the lifecycle event boundary between the host
// runtime and gatekit gates.
//
// The host emits one JSON payload per lifecycle trigger. Events form a
// closed set: payloads carrying an unknown hook_event_name are rejected
// with ErrUnknownKind rather than silently ignored, and payloads that do
// not parse are rejected with ErrMalformed. How a gate reacts to either
// error is its failure policy's concern, not this package's.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind identifies a lifecycle event emitted by the host.
type Kind string

const (
	// KindPromptSubmitted fires when the user submits a prompt.
	KindPromptSubmitted Kind = "UserPromptSubmit"

	// KindPreToolUse fires before a tool executes. Gates for this kind
	// complete before execution and may block it.
	KindPreToolUse Kind = "PreToolUse"

	// KindPostToolUse fires after a tool executed. It cannot
	// retroactively veto the execution.
	KindPostToolUse Kind = "PostToolUse"

	// KindSubagentCompleted fires when a subagent finishes and its
	// output is available for inspection.
	KindSubagentCompleted Kind = "SubagentStop"

	// KindSessionEnded fires once when the session terminates.
	KindSessionEnded Kind = "Stop"
)

// MaxPayloadSize bounds how much of stdin is read before decoding.
// Tool outputs can be large; anything beyond this is a malformed event.
const MaxPayloadSize = 8 << 20 // 8MB

var (
	// ErrMalformed indicates the payload could not be parsed or is
	// missing fields required for its kind.
	ErrMalformed = errors.New("malformed event payload")

	// ErrUnknownKind indicates a syntactically valid payload whose
	// hook_event_name is not in the closed event set.
	ErrUnknownKind = errors.New("unknown event kind")
)

// Prompt is the payload of a PromptSubmitted event.
type Prompt struct {
	Text string
}

// ToolUse is the payload of Pre/PostToolUse events. InvocationID is the
// host's identifier for this tool call, used for ledger deduplication;
// it may be empty on older hosts.
type ToolUse struct {
	ToolName     string
	ToolInput    map[string]any
	ToolOutput   string
	InvocationID string
}

// Subagent is the payload of a SubagentCompleted event.
type Subagent struct {
	AgentName string
	Output    string
}

// Session is the payload of a SessionEnded event.
type Session struct {
	SessionID     string
	Summary       string
	ToolsUsed     []string
	FilesModified []string
	KeyDecisions  []string
}

// Event is the decoded tagged union. Exactly one payload pointer is
// non-nil, matching Kind. SessionID accompanies every kind; it may be
// empty on hosts that do not thread it through.
type Event struct {
	Kind      Kind
	SessionID string
	Prompt    *Prompt
	ToolUse   *ToolUse
	Subagent  *Subagent
	Session   *Session
}

// envelope mirrors the host's wire format. All kinds share one flat
// object; which fields are populated depends on hook_event_name.
type envelope struct {
	HookEventName string         `json:"hook_event_name"`
	Prompt        string         `json:"prompt"`
	ToolName      string         `json:"tool_name"`
	ToolInput     map[string]any `json:"tool_input"`
	ToolOutput    string         `json:"tool_output"`
	ToolUseID     string         `json:"tool_use_id"`
	AgentName     string         `json:"agent_name"`
	Output        string         `json:"output"`
	SessionID     string         `json:"session_id"`
	Summary       string         `json:"summary"`
	ToolsUsed     []string       `json:"tools_used"`
	FilesModified []string       `json:"files_modified"`
	KeyDecisions  []string       `json:"key_decisions"`
}

// Decode reads one event payload from r.
//
// The expected kind comes from which gate the host invoked; a payload
// that omits hook_event_name is trusted to be of that kind, while one
// that names a different known kind is malformed and one that names an
// unknown kind fails with ErrUnknownKind.
func Decode(r io.Reader, expected Kind) (*Event, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", ErrMalformed, err)
	}
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformed, MaxPayloadSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind := expected
	if env.HookEventName != "" {
		kind = Kind(env.HookEventName)
		if !knownKind(kind) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.HookEventName)
		}
		if kind != expected {
			return nil, fmt.Errorf("%w: got %q, gate handles %q", ErrMalformed, kind, expected)
		}
	}

	ev := &Event{Kind: kind, SessionID: env.SessionID}
	switch kind {
	case KindPromptSubmitted:
		ev.Prompt = &Prompt{Text: env.Prompt}
	case KindPreToolUse, KindPostToolUse:
		ev.ToolUse = &ToolUse{
			ToolName:     env.ToolName,
			ToolInput:    env.ToolInput,
			ToolOutput:   env.ToolOutput,
			InvocationID: env.ToolUseID,
		}
	case KindSubagentCompleted:
		ev.Subagent = &Subagent{AgentName: env.AgentName, Output: env.Output}
	case KindSessionEnded:
		ev.Session = &Session{
			SessionID:     env.SessionID,
			Summary:       env.Summary,
			ToolsUsed:     env.ToolsUsed,
			FilesModified: env.FilesModified,
			KeyDecisions:  env.KeyDecisions,
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	return ev, nil
}

func knownKind(k Kind) bool {
	switch k {
	case KindPromptSubmitted, KindPreToolUse, KindPostToolUse,
		KindSubagentCompleted, KindSessionEnded:
		return true
	}
	return false
}

// InputString returns the named tool_input field as a string, or ""
// when absent or of another type.
func (t *ToolUse) InputString(key string) string {
	if t == nil || t.ToolInput == nil {
		return ""
	}
	s, _ := t.ToolInput[key].(string)
	return s
}
