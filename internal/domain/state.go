package domain

// PlanningState describes where a planning request is in the
// generate/validate loop.
type PlanningState int

const (
	PlanningStateUnknown    PlanningState = 0
	PlanningStateReceived   PlanningState = 10 // Request accepted, nothing generated yet
	PlanningStateGenerating PlanningState = 20 // Waiting on the decomposer
	PlanningStateValidating PlanningState = 30 // Candidate under symbolic check
	PlanningStateValid      PlanningState = 40 // Candidate accepted
	PlanningStateInvalid    PlanningState = 45 // Candidate rejected
	PlanningStateFinalizing PlanningState = 50 // Writing cache, persistence and feedback
	PlanningStateDone       PlanningState = 60 // Terminal success
	PlanningStateFailed     PlanningState = 70 // Terminal failure
)

func (s PlanningState) String() string {
	switch s {
	case PlanningStateReceived:
		return "RECEIVED"
	case PlanningStateGenerating:
		return "GENERATING"
	case PlanningStateValidating:
		return "VALIDATING"
	case PlanningStateValid:
		return "VALID"
	case PlanningStateInvalid:
		return "INVALID"
	case PlanningStateFinalizing:
		return "FINALIZING"
	case PlanningStateDone:
		return "DONE"
	case PlanningStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true for DONE and FAILED.
func (s PlanningState) IsTerminal() bool {
	return s == PlanningStateDone || s == PlanningStateFailed
}

// ValidPlanningTransition checks if a state transition is valid.
// RECEIVED -> GENERATING -> VALIDATING -> VALID -> FINALIZING -> DONE
// VALIDATING -> INVALID -> GENERATING | FAILED
func ValidPlanningTransition(from, to PlanningState) bool {
	switch from {
	case PlanningStateReceived:
		return to == PlanningStateGenerating || to == PlanningStateFailed
	case PlanningStateGenerating:
		return to == PlanningStateValidating || to == PlanningStateFailed
	case PlanningStateValidating:
		return to == PlanningStateValid || to == PlanningStateInvalid || to == PlanningStateFailed
	case PlanningStateValid:
		return to == PlanningStateFinalizing
	case PlanningStateInvalid:
		return to == PlanningStateGenerating || to == PlanningStateFailed
	case PlanningStateFinalizing:
		return to == PlanningStateDone || to == PlanningStateFailed
	case PlanningStateDone, PlanningStateFailed:
		return false // Terminal states
	default:
		return to == PlanningStateReceived // Allow setting initial state
	}
}
