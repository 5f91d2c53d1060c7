// Package skillmatch maps free-text prompts to suggested skills.
//
// Prompts are untrusted input, so matching must be denial-of-service
// resistant: input is truncated to a fixed length before matching, and
// patterns run on Go's regexp engine, whose RE2 semantics guarantee
// linear worst-case time with no backtracking to blow up, even on
// adversarial input. Suggestions are advisory only; the gate always
// allows.
package skillmatch

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/config"
	"github.com/fyrsmithlabs/gatekit/internal/event"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
)

// compiledRule is one rule ready to evaluate.
type compiledRule struct {
	re       *regexp.Regexp
	skill    string
	priority int
}

// Matcher evaluates skill rules against prompt text.
//
// Rules are held sorted by ascending priority; evaluation policy is
// declared by maxSuggestions: 1 means first-match, N means collect the
// top N distinct skills in priority order.
type Matcher struct {
	rules          []compiledRule
	maxInput       int
	maxSuggestions int
}

// NewMatcher compiles the rule table. A rule whose pattern does not
// compile is skipped and logged; one bad rule must not take the whole
// table down.
func NewMatcher(rules []config.SkillRule, maxInput, maxSuggestions int, logger *zap.Logger) (*Matcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxInput <= 0 {
		return nil, fmt.Errorf("maxInput must be positive, got %d", maxInput)
	}
	if maxSuggestions <= 0 {
		return nil, fmt.Errorf("maxSuggestions must be positive, got %d", maxSuggestions)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			logger.Warn("skipping unparseable skill rule",
				zap.String("pattern", r.Pattern),
				zap.String("skill", r.Skill),
				zap.Error(err),
			)
			continue
		}
		compiled = append(compiled, compiledRule{re: re, skill: r.Skill, priority: r.Priority})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].priority < compiled[j].priority
	})

	return &Matcher{
		rules:          compiled,
		maxInput:       maxInput,
		maxSuggestions: maxSuggestions,
	}, nil
}

// Suggest returns matching skill identifiers in rule priority order,
// deduplicated, capped at maxSuggestions. Zero matches is a normal
// outcome, not an error.
func (m *Matcher) Suggest(prompt string) []string {
	prompt = truncate(prompt, m.maxInput)

	var out []string
	seen := make(map[string]struct{})
	for _, r := range m.rules {
		if len(out) >= m.maxSuggestions {
			break
		}
		if !r.re.MatchString(prompt) {
			continue
		}
		if _, dup := seen[r.skill]; dup {
			continue
		}
		seen[r.skill] = struct{}{}
		out = append(out, r.skill)
	}
	return out
}

// truncate cuts s to at most max bytes, backing up past any partial
// UTF-8 sequence at the cut point.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// DefaultRules is the built-in rule table, applied when configuration
// declares none. Priorities group related concerns; debugging rules
// fire before stylistic ones.
func DefaultRules() []config.SkillRule {
	return []config.SkillRule{
		{Pattern: `(bug|error|fix|broken|failing|crash|exception)`, Skill: "superpowers:systematic-debugging", Priority: 10},
		{Pattern: `(trace|backtrace|stack|origin|source\s+of)`, Skill: "superpowers:root-cause-tracing", Priority: 11},
		{Pattern: `(flaky|intermittent|race\s*condition|timing)`, Skill: "superpowers:condition-based-waiting", Priority: 12},
		{Pattern: `(mock|stub|fake|test\s+double)`, Skill: "superpowers:testing-anti-patterns", Priority: 13},
		{Pattern: `(brainstorm|idea|concept|design|think\s+through)`, Skill: "superpowers:brainstorming", Priority: 20},
		{Pattern: `(plan|roadmap|strategy|approach|architect)`, Skill: "superpowers:write-plan", Priority: 21},
		{Pattern: `(implement|add|create|build|develop)\s+(feature|functionality|component)`, Skill: "superpowers:test-driven-development", Priority: 30},
		{Pattern: `(test|tdd|spec|unit\s+test)`, Skill: "superpowers:test-driven-development", Priority: 31},
		{Pattern: `(refactor|clean|improve)\s+code`, Skill: "superpowers:requesting-code-review", Priority: 32},
		{Pattern: `(parallel|concurrent|multiple)\s+(task|agent|investigation)`, Skill: "superpowers:dispatching-parallel-agents", Priority: 40},
		{Pattern: `(worktree|isolated|branch\s+work)`, Skill: "superpowers:using-git-worktrees", Priority: 41},
		{Pattern: `(review|check|verify)\s+(code|changes|implementation)`, Skill: "superpowers:requesting-code-review", Priority: 50},
		{Pattern: `(complete|done|finish|merge|pr|pull\s*request)`, Skill: "superpowers:verification-before-completion", Priority: 51},
		{Pattern: `(valid|sanitize|check\s+input|boundary)`, Skill: "superpowers:defense-in-depth", Priority: 60},
	}
}

// Gate is the PromptSubmitted skill suggestion gate.
type Gate struct {
	matcher *Matcher
	logger  *zap.Logger
}

// NewGate wires the suggestion gate.
func NewGate(m *Matcher, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{matcher: m, logger: logger}
}

func (g *Gate) Name() string               { return "skill-suggester" }
func (g *Gate) Kind() event.Kind           { return event.KindPromptSubmitted }
func (g *Gate) Policy() gate.FailurePolicy { return gate.FailOpen }

// Evaluate always allows; only the annotation varies with matches.
func (g *Gate) Evaluate(ctx context.Context, ev *event.Event) (*gate.Decision, error) {
	if ev.Prompt == nil {
		return nil, fmt.Errorf("skill suggester needs a prompt payload")
	}

	skills := g.matcher.Suggest(ev.Prompt.Text)
	if len(skills) == 0 {
		return gate.Allow(), nil
	}

	g.logger.Debug("suggesting skills", zap.Strings("skills", skills))
	return &gate.Decision{
		Verdict: gate.VerdictAllow,
		Context: fmt.Sprintf("Suggested skill: %s\nConsider using the Skill tool to invoke it for this task.",
			strings.Join(skills, ", ")),
	}, nil
}
