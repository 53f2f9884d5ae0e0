package decision

import (
	"github.com/google/uuid"

	"github.com/davidahmann/xaidecide/internal/crypto"
	"github.com/davidahmann/xaidecide/pkg/types"
)

// BuildExplanation builds the audit record for one evaluation and computes
// its digest over the canonical form.
func BuildExplanation(domain types.Domain, applicant map[string]any, verdict types.Verdict, createdAt string) (types.ExplanationRecord, error) {
	record := types.ExplanationRecord{
		ID:              uuid.NewString(),
		Domain:          domain,
		Applicant:       applicant,
		Decision:        verdict.Decision,
		Counterfactuals: verdict.Counterfactuals,
		Fairness:        verdict.Fairness,
		KeyMetrics:      verdict.KeyMetrics,
		Timestamp:       createdAt,
	}

	digestView := map[string]any{
		"type":            record.Domain,
		"timestamp":       record.Timestamp,
		"applicant":       record.Applicant,
		"decision":        record.Decision,
		"counterfactuals": record.Counterfactuals,
		"fairness":        record.Fairness,
		"key_metrics":     record.KeyMetrics,
	}

	digest, err := crypto.DigestJSON(digestView)
	if err != nil {
		return types.ExplanationRecord{}, err
	}
	record.Digest = digest
	return record, nil
}
