package sanitize

import (
	"strings"
	"testing"
)

func TestSessionID(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{
			name:   "plain id",
			input:  "sess42",
			want:   "sess42",
			wantOK: true,
		},
		{
			name:   "uppercase lowered",
			input:  "Sess-42",
			want:   "sess_42",
			wantOK: true,
		},
		{
			name:   "uuid style",
			input:  "550e8400-e29b-41d4-a716-446655440000",
			want:   "550e8400_e29b_41d4_a716_446655440000",
			wantOK: true,
		},
		{
			name:   "path traversal neutralized",
			input:  "../../etc/passwd",
			want:   "etc_passwd",
			wantOK: true,
		},
		{
			name:   "absolute path neutralized",
			input:  "/etc/passwd",
			want:   "etc_passwd",
			wantOK: true,
		},
		{
			name:   "underscore runs collapsed",
			input:  "a__b___c",
			want:   "a_b_c",
			wantOK: true,
		},
		{
			name:   "empty input rejected",
			input:  "",
			wantOK: false,
		},
		{
			name:   "only separators rejected",
			input:  "../..//..",
			wantOK: false,
		},
		{
			name:   "only punctuation rejected",
			input:  "!!!",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SessionID(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("SessionID(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("SessionID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSessionID_NeverContainsSeparators(t *testing.T) {
	hostile := []string{
		"../../etc/passwd",
		"..\\..\\windows\\system32",
		"a/../../b",
		"c:/users/someone",
		strings.Repeat("../", 40) + "x",
	}

	for _, input := range hostile {
		id, ok := SessionID(input)
		if !ok {
			continue
		}
		if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
			t.Errorf("SessionID(%q) = %q still contains traversal material", input, id)
		}
	}
}

func TestSessionID_LengthBound(t *testing.T) {
	long := strings.Repeat("a", 200)
	id, ok := SessionID(long)
	if !ok {
		t.Fatal("long identifier should sanitize")
	}
	if len(id) > MaxLength {
		t.Errorf("len = %d, want <= %d", len(id), MaxLength)
	}

	// Distinct long inputs keep distinct names via the hash suffix.
	other, _ := SessionID(strings.Repeat("a", 199) + "b")
	if id == other {
		t.Error("distinct long identifiers collapsed to the same name")
	}
}
