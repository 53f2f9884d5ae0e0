package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/davidahmann/xaidecide/pkg/types"
)

var (
	jsonFence    = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	genericFence = regexp.MustCompile("(?s)```\\s*(\\{.*?\\})\\s*```")
)

// candidates yields JSON object spans in the order they should be tried:
// the outermost brace span, a json fence, then any fence.
func candidates(raw string) []string {
	var out []string
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			out = append(out, raw[start:end+1])
		}
	}
	for _, re := range []*regexp.Regexp{jsonFence, genericFence} {
		if m := re.FindStringSubmatch(raw); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

// ExtractVerdict pulls a verdict out of free-form model text. The boolean is
// false when nothing usable was found, in which case the fallback verdict is
// returned.
func ExtractVerdict(raw string) (types.Verdict, bool) {
	for _, c := range candidates(raw) {
		if !gjson.Valid(c) {
			continue
		}
		doc := gjson.Parse(c)
		if !doc.IsObject() || !doc.Get("decision").IsObject() {
			continue
		}
		return coerceVerdict(doc), true
	}
	return Fallback(), false
}

// ExtractObject returns the first candidate that decodes to a JSON object.
func ExtractObject(raw string) (map[string]any, bool) {
	for _, c := range candidates(raw) {
		if !gjson.Valid(c) || !gjson.Parse(c).IsObject() {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(c), &out); err != nil {
			continue
		}
		return out, true
	}
	return nil, false
}

func coerceVerdict(doc gjson.Result) types.Verdict {
	status, ok := types.ParseDecisionStatus(doc.Get("decision.status").String())
	if !ok {
		status = types.StatusRejected
	}
	return types.Verdict{
		Decision: types.Decision{
			Status:     status,
			Confidence: clamp(doc.Get("decision.confidence").Float(), 0, 1),
			Reasoning:  doc.Get("decision.reasoning").String(),
		},
		Counterfactuals: NormalizeCounterfactuals(doc.Get("counterfactuals").Value()),
		Fairness: types.Fairness{
			Assessment: doc.Get("fairness.assessment").String(),
			Concerns:   doc.Get("fairness.concerns").String(),
		},
		KeyMetrics: types.KeyMetrics{
			RiskScore:           clamp(doc.Get("key_metrics.risk_score").Float(), 0, 100),
			ApprovalProbability: clamp(doc.Get("key_metrics.approval_probability").Float(), 0, 1),
			CriticalFactors:     stringList(doc.Get("key_metrics.critical_factors")),
		},
	}
}

func stringList(r gjson.Result) []string {
	out := []string{}
	switch {
	case r.IsArray():
		for _, item := range r.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
	case r.Type == gjson.String:
		if s := strings.TrimSpace(r.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
