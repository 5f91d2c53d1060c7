package event

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PreToolUse(t *testing.T) {
	payload := `{
		"hook_event_name": "PreToolUse",
		"tool_name": "Bash",
		"tool_input": {"command": "git status"},
		"tool_use_id": "toolu_01abc"
	}`

	ev, err := Decode(strings.NewReader(payload), KindPreToolUse)
	require.NoError(t, err)
	require.NotNil(t, ev.ToolUse)

	assert.Equal(t, KindPreToolUse, ev.Kind)
	assert.Equal(t, "Bash", ev.ToolUse.ToolName)
	assert.Equal(t, "git status", ev.ToolUse.InputString("command"))
	assert.Equal(t, "toolu_01abc", ev.ToolUse.InvocationID)
	assert.Nil(t, ev.Prompt)
	assert.Nil(t, ev.Session)
}

func TestDecode_PromptSubmitted(t *testing.T) {
	ev, err := Decode(strings.NewReader(`{"prompt": "fix the flaky test"}`), KindPromptSubmitted)
	require.NoError(t, err)
	require.NotNil(t, ev.Prompt)
	assert.Equal(t, "fix the flaky test", ev.Prompt.Text)
}

func TestDecode_SessionEnded(t *testing.T) {
	payload := `{
		"hook_event_name": "Stop",
		"session_id": "sess-42",
		"summary": "refactored the ledger",
		"tools_used": ["Read", "Edit"],
		"files_modified": ["ledger.go"]
	}`

	ev, err := Decode(strings.NewReader(payload), KindSessionEnded)
	require.NoError(t, err)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "sess-42", ev.Session.SessionID)
	assert.Equal(t, []string{"Read", "Edit"}, ev.Session.ToolsUsed)
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"hook_event_name": "Teleport"}`), KindPreToolUse)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind), "want ErrUnknownKind, got %v", err)
}

func TestDecode_KindMismatch(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"hook_event_name": "Stop"}`), KindPreToolUse)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{"tool_name": `},
		{"empty payload", ``},
		{"array not object", `[1, 2, 3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.payload), KindPreToolUse)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformed", tt.payload, err)
			}
		})
	}
}

func TestDecode_OversizedPayload(t *testing.T) {
	big := `{"prompt": "` + strings.Repeat("a", MaxPayloadSize) + `"}`
	_, err := Decode(strings.NewReader(big), KindPromptSubmitted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestInputString_MissingAndWrongType(t *testing.T) {
	tu := &ToolUse{ToolInput: map[string]any{"count": 3}}
	assert.Equal(t, "", tu.InputString("command"))
	assert.Equal(t, "", tu.InputString("count"))

	var nilTU *ToolUse
	assert.Equal(t, "", nilTU.InputString("command"))
}
