package skillmatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gatekit/internal/config"
	"github.com/fyrsmithlabs/gatekit/internal/event"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
)

func defaultMatcher(t *testing.T, maxSuggestions int) *Matcher {
	t.Helper()
	m, err := NewMatcher(DefaultRules(), 4096, maxSuggestions, nil)
	require.NoError(t, err)
	return m
}

func TestSuggest_FirstMatch(t *testing.T) {
	m := defaultMatcher(t, 1)

	tests := []struct {
		name   string
		prompt string
		want   []string
	}{
		{
			name:   "flaky test maps to condition-based waiting",
			prompt: "there's a flaky test failing intermittently",
			// "failing" also matches the debugging rule, which has
			// higher priority rank number... debugging is priority 10,
			// so it wins first-match.
			want: []string{"superpowers:systematic-debugging"},
		},
		{
			name:   "flaky without failure words",
			prompt: "this test is flaky, sometimes intermittent",
			want:   []string{"superpowers:condition-based-waiting"},
		},
		{
			name:   "planning prompt",
			prompt: "draft a roadmap for the migration",
			want:   []string{"superpowers:write-plan"},
		},
		{
			name:   "case insensitive",
			prompt: "FIX THE BUILD",
			want:   []string{"superpowers:systematic-debugging"},
		},
		{
			name:   "no match",
			prompt: "hello there",
			want:   nil,
		},
		{
			name:   "empty prompt",
			prompt: "",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Suggest(tt.prompt))
		})
	}
}

func TestSuggest_TopN(t *testing.T) {
	m := defaultMatcher(t, 3)

	got := m.Suggest("fix the flaky test before the merge")
	// Matches debugging (fix), condition-based-waiting (flaky),
	// test-driven-development (test), verification (merge); capped
	// at 3, in priority order.
	require.Len(t, got, 3)
	assert.Equal(t, "superpowers:systematic-debugging", got[0])
	assert.Equal(t, "superpowers:condition-based-waiting", got[1])
	assert.Equal(t, "superpowers:test-driven-development", got[2])
}

func TestSuggest_DeduplicatesSkills(t *testing.T) {
	// Two rules point at test-driven-development; a prompt matching
	// both yields the skill once.
	m := defaultMatcher(t, 5)
	got := m.Suggest("implement feature with a unit test")

	count := 0
	for _, s := range got {
		if s == "superpowers:test-driven-development" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSuggest_PriorityOrderRespected(t *testing.T) {
	rules := []config.SkillRule{
		{Pattern: "alpha", Skill: "skill:late", Priority: 90},
		{Pattern: "alpha", Skill: "skill:early", Priority: 5},
	}
	m, err := NewMatcher(rules, 1024, 1, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"skill:early"}, m.Suggest("alpha"))
}

func TestNewMatcher_SkipsBadPatterns(t *testing.T) {
	rules := []config.SkillRule{
		{Pattern: "(unclosed", Skill: "skill:broken", Priority: 1},
		{Pattern: "good", Skill: "skill:good", Priority: 2},
	}
	m, err := NewMatcher(rules, 1024, 1, nil)
	require.NoError(t, err)

	assert.Nil(t, m.Suggest("unclosed"))
	assert.Equal(t, []string{"skill:good"}, m.Suggest("good"))
}

func TestSuggest_AdversarialInputBounded(t *testing.T) {
	// The classic backtracking killer: a long run of a's against
	// patterns with nested quantifiers would hang a naive engine.
	// RE2 semantics plus input truncation keep this under the bound.
	rules := append(DefaultRules(), config.SkillRule{
		Pattern: `(a+)+b`, Skill: "skill:trap", Priority: 1,
	})
	m, err := NewMatcher(rules, 4096, 5, nil)
	require.NoError(t, err)

	adversarial := strings.Repeat("a", 10000)

	start := time.Now()
	m.Suggest(adversarial)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 50*time.Millisecond,
		"matcher took %v on adversarial input", elapsed)
}

func TestSuggest_TruncatesInput(t *testing.T) {
	rules := []config.SkillRule{
		{Pattern: "needle", Skill: "skill:found", Priority: 1},
	}
	m, err := NewMatcher(rules, 100, 1, nil)
	require.NoError(t, err)

	// The needle sits past the truncation point, so it is not seen.
	prompt := strings.Repeat("x", 200) + "needle"
	assert.Nil(t, m.Suggest(prompt))
}

func TestTruncate_RuneSafe(t *testing.T) {
	s := strings.Repeat("é", 50) // 2 bytes each
	cut := truncate(s, 5)
	assert.LessOrEqual(t, len(cut), 5)
	for _, r := range cut {
		if r == '�' {
			t.Fatal("truncate split a rune")
		}
	}
}

func TestGate_AlwaysAllows(t *testing.T) {
	g := NewGate(defaultMatcher(t, 1), nil)
	ctx := context.Background()

	t.Run("match annotates", func(t *testing.T) {
		d, err := g.Evaluate(ctx, &event.Event{
			Kind:   event.KindPromptSubmitted,
			Prompt: &event.Prompt{Text: "there's a flaky test"},
		})
		require.NoError(t, err)
		assert.Equal(t, gate.VerdictAllow, d.Verdict)
		assert.Contains(t, d.Context, "Suggested skill:")
	})

	t.Run("no match stays silent", func(t *testing.T) {
		d, err := g.Evaluate(ctx, &event.Event{
			Kind:   event.KindPromptSubmitted,
			Prompt: &event.Prompt{Text: "good morning"},
		})
		require.NoError(t, err)
		assert.Equal(t, gate.VerdictAllow, d.Verdict)
		assert.Empty(t, d.Context)
	})
}
