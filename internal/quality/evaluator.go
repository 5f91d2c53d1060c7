// Package quality scores subagent output before the host accepts it.
//
// Structural checks (output present, size bounds, required sections)
// run before heuristic ones (hedging language, unexplained code
// dumps); a structural failure alone is enough to block. The gate only
// reports; whether a BLOCK verdict halts the pipeline is the host's
// call.
package quality

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gatekit/internal/config"
	"github.com/fyrsmithlabs/gatekit/internal/event"
	"github.com/fyrsmithlabs/gatekit/internal/gate"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Verdict is the gate's overall judgment.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictWarn  Verdict = "WARN"
	VerdictBlock Verdict = "BLOCK"
)

// Finding is one itemized issue.
type Finding struct {
	Severity   Severity `json:"severity"`
	Issue      string   `json:"issue"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Report is the full evaluation result.
type Report struct {
	Verdict  Verdict   `json:"verdict"`
	Findings []Finding `json:"findings,omitempty"`
}

// antiPatterns flag hedging and deflection language. One finding per
// output no matter how many patterns hit.
var antiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)I don't know`),
	regexp.MustCompile(`(?i)I cannot help`),
	regexp.MustCompile(`(?i)As an AI`),
	regexp.MustCompile(`(?i)I apologize, but`),
	regexp.MustCompile(`(?i)I'm not able to`),
}

var codeBlockRe = regexp.MustCompile("(?s)```.*?```")

// Evaluator applies the quality rules.
type Evaluator struct {
	cfg config.QualityConfig
}

// NewEvaluator creates an evaluator with the given thresholds.
func NewEvaluator(cfg config.QualityConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate scores one subagent output.
//
// Verdict rule, applied in order: any CRITICAL finding blocks; any
// HIGH finding, or a finding count at or past the configured
// threshold, warns; otherwise the output passes.
func (e *Evaluator) Evaluate(agentName, output string) *Report {
	findings := e.structural(agentName, output)

	// A structural CRITICAL already decides the verdict; heuristics
	// would only add noise below it.
	if !hasSeverity(findings, SeverityCritical) {
		findings = append(findings, e.heuristic(output)...)
	}

	return &Report{Verdict: e.verdict(findings), Findings: findings}
}

func (e *Evaluator) structural(agentName, output string) []Finding {
	var findings []Finding

	if strings.TrimSpace(output) == "" {
		return append(findings, Finding{
			Severity:   SeverityCritical,
			Issue:      "Output is empty",
			Suggestion: "The agent produced no result; rerun the task",
		})
	}

	if len(output) < e.cfg.MinResponseLength {
		findings = append(findings, Finding{
			Severity:   SeverityHigh,
			Issue:      "Response too brief",
			Suggestion: "Expand with specific details and examples",
		})
	}
	if len(output) > e.cfg.MaxResponseLength {
		findings = append(findings, Finding{
			Severity:   SeverityCritical,
			Issue:      fmt.Sprintf("Output exceeds %d bytes", e.cfg.MaxResponseLength),
			Suggestion: "Summarize instead of dumping raw data",
		})
	}

	for _, section := range e.cfg.RequiredSections[agentName] {
		if !strings.Contains(output, section) {
			findings = append(findings, Finding{
				Severity:   SeverityMedium,
				Issue:      fmt.Sprintf("Missing required section: %s", section),
				Suggestion: fmt.Sprintf("Add a %s section to the output", section),
			})
		}
	}

	return findings
}

func (e *Evaluator) heuristic(output string) []Finding {
	var findings []Finding

	for _, re := range antiPatterns {
		if re.MatchString(output) {
			findings = append(findings, Finding{
				Severity:   SeverityLow,
				Issue:      "Contains hedging or deflection language",
				Suggestion: "Replace with direct, actionable content",
			})
			break
		}
	}

	for _, block := range codeBlockRe.FindAllString(output, -1) {
		lines := strings.Count(block, "\n") + 1
		if lines <= e.cfg.MaxCodeBlockLines {
			continue
		}
		if surroundingText(output, block) < 50 {
			findings = append(findings, Finding{
				Severity:   SeverityMedium,
				Issue:      fmt.Sprintf("Large code block (%d lines) without explanation", lines),
				Suggestion: "Add context explaining what the code does and why",
			})
		}
	}

	return findings
}

// surroundingText measures the prose immediately around a code block.
func surroundingText(output, block string) int {
	idx := strings.Index(output, block)
	if idx < 0 {
		return 0
	}
	const window = 200

	before := output[max(0, idx-window):idx]
	afterStart := idx + len(block)
	after := output[afterStart:min(len(output), afterStart+window)]
	return len(strings.TrimSpace(before)) + len(strings.TrimSpace(after))
}

func (e *Evaluator) verdict(findings []Finding) Verdict {
	if hasSeverity(findings, SeverityCritical) {
		return VerdictBlock
	}
	if hasSeverity(findings, SeverityHigh) || len(findings) >= e.cfg.WarnFindingCount {
		return VerdictWarn
	}
	return VerdictPass
}

func hasSeverity(findings []Finding, s Severity) bool {
	for _, f := range findings {
		if f.Severity == s {
			return true
		}
	}
	return false
}

// Format renders findings for the annotation string.
func (r *Report) Format() string {
	if len(r.Findings) == 0 {
		return ""
	}
	lines := []string{"Output Quality Issues:"}
	for _, f := range r.Findings {
		lines = append(lines, fmt.Sprintf("  [%s] %s", f.Severity, f.Issue))
		if f.Suggestion != "" {
			lines = append(lines, "         Suggestion: "+f.Suggestion)
		}
	}
	return strings.Join(lines, "\n")
}

// Gate is the SubagentCompleted output quality gate.
type Gate struct {
	evaluator *Evaluator
	logger    *zap.Logger
}

// NewGate wires the quality gate.
func NewGate(e *Evaluator, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{evaluator: e, logger: logger}
}

func (g *Gate) Name() string               { return "output-quality-gate" }
func (g *Gate) Kind() event.Kind           { return event.KindSubagentCompleted }
func (g *Gate) Policy() gate.FailurePolicy { return gate.FailOpen }

func (g *Gate) Evaluate(ctx context.Context, ev *event.Event) (*gate.Decision, error) {
	if ev.Subagent == nil {
		return nil, fmt.Errorf("quality gate needs a subagent payload")
	}

	report := g.evaluator.Evaluate(ev.Subagent.AgentName, ev.Subagent.Output)
	g.logger.Info("evaluated subagent output",
		zap.String("agent", ev.Subagent.AgentName),
		zap.String("verdict", string(report.Verdict)),
		zap.Int("findings", len(report.Findings)),
	)

	switch report.Verdict {
	case VerdictBlock:
		return &gate.Decision{
			Verdict: gate.VerdictBlock,
			Context: report.Format() + "\n\nRegenerate the output with more detail.",
			Report:  report,
		}, nil
	case VerdictWarn:
		return &gate.Decision{
			Verdict: gate.VerdictWarn,
			Context: report.Format(),
			Report:  report,
		}, nil
	default:
		return &gate.Decision{Verdict: gate.VerdictAllow, Report: report}, nil
	}
}
