package types

type ApplicationStatus string

const (
	AppPendingAI    ApplicationStatus = "pending_ai"
	AppPendingHuman ApplicationStatus = "pending_human"
	AppApproved     ApplicationStatus = "approved"
	AppRejected     ApplicationStatus = "rejected"
	AppCompleted    ApplicationStatus = "completed"
)

// Rank orders statuses by lifecycle stage. Terminal statuses share a rank.
func (s ApplicationStatus) Rank() int {
	switch s {
	case AppPendingAI:
		return 0
	case AppPendingHuman:
		return 1
	case AppApproved, AppRejected, AppCompleted:
		return 2
	default:
		return -1
	}
}

func (s ApplicationStatus) Pending() bool {
	return s == AppPendingAI || s == AppPendingHuman
}

type Application struct {
	ID                  string               `json:"id"`
	Domain              Domain               `json:"domain"`
	Data                map[string]any       `json:"data"`
	Status              ApplicationStatus    `json:"status"`
	AIResult            *Verdict             `json:"ai_result"`
	FinalDecision       DecisionStatus       `json:"final_decision,omitempty"`
	ReviewerComment     *string              `json:"reviewer_comment,omitempty"`
	IsOverride          bool                 `json:"is_override"`
	OverrideExplanation *OverrideExplanation `json:"override_explanation"`
	AgentExplanation    *string              `json:"agent_explanation,omitempty"`
	ExplanationEdited   bool                 `json:"explanation_edited"`
	CreatedAt           string               `json:"created_at"`
	ReviewedAt          *string              `json:"reviewed_at,omitempty"`
}
