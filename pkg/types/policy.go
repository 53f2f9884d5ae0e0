package types

type Policy struct {
	ID        string `json:"id"`
	Domain    Domain `json:"domain"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

type DecisionMemoryEntry struct {
	Domain    Domain         `json:"type"`
	Status    DecisionStatus `json:"decision"`
	Reasoning string         `json:"reasoning"`
	Timestamp string         `json:"timestamp"`
}

// ExplanationRecord is the audit copy of one evaluation.
type ExplanationRecord struct {
	ID              string         `json:"id"`
	Domain          Domain         `json:"type"`
	Applicant       map[string]any `json:"applicant"`
	Decision        Decision       `json:"decision"`
	Counterfactuals []string       `json:"counterfactuals"`
	Fairness        Fairness       `json:"fairness"`
	KeyMetrics      KeyMetrics     `json:"key_metrics"`
	Digest          string         `json:"digest"`
	Timestamp       string         `json:"timestamp"`
}
