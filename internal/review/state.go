package review

import "github.com/davidahmann/xaidecide/pkg/types"

type NextAction string

const (
	ActionAwaitEvaluation NextAction = "await_evaluation"
	ActionAwaitReview     NextAction = "await_review"
	ActionReturnFinal     NextAction = "return_final"
	ActionReturnInvalid   NextAction = "return_invalid"
)

// DetermineNextAction maps an application status to what the lifecycle
// expects next.
func DetermineNextAction(status types.ApplicationStatus) NextAction {
	switch status {
	case types.AppPendingAI:
		return ActionAwaitEvaluation
	case types.AppPendingHuman:
		return ActionAwaitReview
	case types.AppApproved, types.AppRejected, types.AppCompleted:
		return ActionReturnFinal
	default:
		return ActionReturnInvalid
	}
}

// CanAdvance reports whether moving from one status to another keeps the
// lifecycle monotonic.
func CanAdvance(from, to types.ApplicationStatus) bool {
	if from.Rank() < 0 || to.Rank() < 0 {
		return false
	}
	return to.Rank() > from.Rank()
}

// FinalStatus is the terminal status recorded for a human decision.
func FinalStatus(human types.DecisionStatus) types.ApplicationStatus {
	if human == types.StatusApproved {
		return types.AppApproved
	}
	return types.AppRejected
}

// StatusFilter expands a list filter into the statuses it selects. A nil
// result selects everything.
func StatusFilter(filter string) []string {
	switch filter {
	case "":
		return nil
	case "pending":
		return []string{string(types.AppPendingAI), string(types.AppPendingHuman)}
	case "history":
		return []string{string(types.AppApproved), string(types.AppRejected), string(types.AppCompleted)}
	default:
		return []string{filter}
	}
}
