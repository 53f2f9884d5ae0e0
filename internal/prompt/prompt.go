package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidahmann/xaidecide/pkg/types"
)

const evaluationTemplate = `
SYSTEM:
You are a deterministic decision engine.
You MUST output JSON only and strictly follow the schema.
Never refuse. Never explain internal policies directly.
If data is insufficient, reject conservatively.

TASK:
Evaluate a %s application.
Write a detailed, customer-friendly, multi-paragraph explanation in very simple English.
If REJECTED, you MUST output between 3 and 5 clear, simple, actionable steps in the "counterfactuals" list.
Each counterfactual item must:
- Be a single, specific sentence.
- Start with "Step N: " where N is 1, 2, 3, ...
- Focus only on things the applicant can realistically change (income, savings, debt, documents, credit behaviour, etc.).
- Avoid vague advice and technical jargon.
If APPROVED, you may leave "counterfactuals" empty or use it for maintenance tips.
Your reasoning text should be rich and specific (at least 4-6 sentences), but stay focused on the applicant.

INPUT (TEXT FORMAT):
%s
%s
%s

OUTPUT (STRICT JSON ONLY):
{
  "decision": {
    "status": "APPROVED or REJECTED",
    "confidence": 0.0,
    "reasoning": "Audit-grade explanation"
  },
  "counterfactuals": ["Step 1: ...", "Step 2: ...", "Step 3: ..."],
  "fairness": {
    "assessment": "Fair or Potentially Unfair",
    "concerns": "One sentence summary"
  },
  "key_metrics": {
    "risk_score": 0-100,
    "approval_probability": 0.0-1.0,
    "critical_factors": ["factor1", "factor2"]
  }
}
`

const overrideTemplate = `
SYSTEM:
You are an explainable decision system helping to explain why a human agent overrode your recommendation.
You MUST output JSON only.

CONTEXT:
- Application Type: %s
- Your Recommendation: %s
- Agent's Final Decision: %s
- Agent's Comment: %s

APPLICANT DATA:
%s

TASK:
Generate a customer-friendly explanation for why the agent overrode your recommendation.
Include:
1. Summary of the override
2. Reasoning for the agent's decision
3. Next steps for the customer
4. Conditions or requirements if applicable

OUTPUT (STRICT JSON ONLY):
{
  "summary": "Brief explanation of the override decision",
  "detailed_reasoning": "Comprehensive explanation",
  "next_steps": ["step1", "step2"],
  "conditions": ["condition1", "condition2"],
  "override_context": "Why the human decision differed from the recommendation"
}
`

// BuildEvaluation assembles the evaluation prompt. policyText and memoryText
// are the pre-rendered context blocks and may be empty.
func BuildEvaluation(domain types.Domain, applicant map[string]any, policyText, memoryText string) string {
	return fmt.Sprintf(evaluationTemplate, domain, FormatApplicant(applicant), policyText, memoryText)
}

// BuildOverride assembles the prompt that explains a human override.
func BuildOverride(domain types.Domain, applicant map[string]any, aiStatus, humanStatus types.DecisionStatus, comment string) string {
	if strings.TrimSpace(comment) == "" {
		comment = "None provided"
	}
	data, err := json.MarshalIndent(applicant, "", "  ")
	if err != nil {
		data = []byte(FormatApplicant(applicant))
	}
	return fmt.Sprintf(overrideTemplate,
		domain,
		strings.ToUpper(string(aiStatus)),
		strings.ToUpper(string(humanStatus)),
		comment,
		data,
	)
}
