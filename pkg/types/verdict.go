package types

import "strings"

type DecisionStatus string

const (
	StatusApproved DecisionStatus = "approved"
	StatusRejected DecisionStatus = "rejected"
)

// ParseDecisionStatus accepts approved/rejected in any case.
func ParseDecisionStatus(s string) (DecisionStatus, bool) {
	switch DecisionStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	default:
		return "", false
	}
}

type Verdict struct {
	DecisionType    Domain         `json:"decision_type,omitempty"`
	Applicant       map[string]any `json:"applicant,omitempty"`
	Decision        Decision       `json:"decision"`
	Counterfactuals []string       `json:"counterfactuals"`
	Fairness        Fairness       `json:"fairness"`
	KeyMetrics      KeyMetrics     `json:"key_metrics"`
	Audit           *Audit         `json:"audit,omitempty"`
}

type Decision struct {
	Status     DecisionStatus `json:"status"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

type Fairness struct {
	Assessment string `json:"assessment"`
	Concerns   string `json:"concerns"`
}

type KeyMetrics struct {
	RiskScore           float64  `json:"risk_score"`
	ApprovalProbability float64  `json:"approval_probability"`
	CriticalFactors     []string `json:"critical_factors"`
}

type Audit struct {
	Engine    string `json:"engine"`
	Timestamp string `json:"timestamp"`
}

// OverrideExplanation documents why a reviewer disagreed with the model.
type OverrideExplanation struct {
	Summary           string   `json:"summary"`
	DetailedReasoning string   `json:"detailed_reasoning"`
	NextSteps         []string `json:"next_steps"`
	Conditions        []string `json:"conditions"`
	OverrideContext   string   `json:"override_context"`
	Source            string   `json:"source"`
}

const (
	OverrideSourceModel    = "model"
	OverrideSourceTemplate = "template"
)
