package budget

// baseEstimates are rough per-tool token costs, before accounting for
// payload size. Unlisted tools use defaultEstimate.
var baseEstimates = map[string]int64{
	"Read":      500,
	"Write":     200,
	"Edit":      300,
	"Glob":      100,
	"Grep":      200,
	"Bash":      500,
	"Task":      5000,
	"WebSearch": 1000,
	"WebFetch":  2000,
}

const (
	defaultEstimate = 200

	// charsPerToken approximates tokenization for payload sizing.
	charsPerToken = 4
)

// Estimate computes the token estimate for one tool invocation from
// the tool's base cost plus the size of its text-bearing inputs.
func Estimate(toolName string, toolInput map[string]any) int64 {
	est, ok := baseEstimates[toolName]
	if !ok {
		est = defaultEstimate
	}

	for _, key := range []string{"content", "prompt"} {
		if s, ok := toolInput[key].(string); ok {
			est += int64(len(s) / charsPerToken)
		}
	}
	return est
}
