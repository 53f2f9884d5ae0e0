package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/davidahmann/xaidecide/pkg/types"
)

const (
	MaxCounterfactuals = 5

	FallbackReasoning = "Model output invalid or incomplete - System Error"
)

var (
	counterfactualSep = regexp.MustCompile(`[\n;]+`)
	// stepPrefix matches a numbered step label in any case.
	stepPrefix = regexp.MustCompile(`(?i)^step \d+:\s*`)
)

// Fallback is the verdict used whenever the model gives nothing usable.
func Fallback() types.Verdict {
	return types.Verdict{
		Decision: types.Decision{
			Status:     types.StatusRejected,
			Confidence: 0.5,
			Reasoning:  FallbackReasoning,
		},
		Counterfactuals: []string{
			"Ensure all application fields are filled correctly.",
			"Verify income and employment details.",
			"Contact support for manual review.",
		},
		Fairness: types.Fairness{
			Assessment: "Unknown",
			Concerns:   "Processing Error",
		},
		KeyMetrics: types.KeyMetrics{
			RiskScore:           50,
			ApprovalProbability: 0.0,
			CriticalFactors:     []string{"Invalid AI response"},
		},
	}
}

// NormalizeCounterfactuals turns whatever the model sent into at most five
// "Step N: " items. Applying it to its own output is a no-op.
func NormalizeCounterfactuals(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = counterfactualSep.Split(v, -1)
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok {
				parts = append(parts, s)
				continue
			}
			parts = append(parts, fmt.Sprint(item))
		}
	}

	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// Existing labels are renumbered by position; text that merely
		// begins with the word "step" is labelled like any other.
		body := strings.TrimSpace(stepPrefix.ReplaceAllString(p, ""))
		if body == "" {
			continue
		}
		out = append(out, fmt.Sprintf("Step %d: %s", len(out)+1, body))
		if len(out) == MaxCounterfactuals {
			break
		}
	}
	return out
}
