package domain

import "testing"

func TestValidPlanningTransition(t *testing.T) {
	tests := []struct {
		from, to PlanningState
		want     bool
	}{
		{PlanningStateUnknown, PlanningStateReceived, true},
		{PlanningStateReceived, PlanningStateGenerating, true},
		{PlanningStateGenerating, PlanningStateValidating, true},
		{PlanningStateGenerating, PlanningStateFailed, true},
		{PlanningStateValidating, PlanningStateValid, true},
		{PlanningStateValidating, PlanningStateInvalid, true},
		{PlanningStateInvalid, PlanningStateGenerating, true},
		{PlanningStateInvalid, PlanningStateFailed, true},
		{PlanningStateValid, PlanningStateFinalizing, true},
		{PlanningStateFinalizing, PlanningStateDone, true},
		{PlanningStateReceived, PlanningStateValidating, false},
		{PlanningStateValid, PlanningStateDone, false},
		{PlanningStateInvalid, PlanningStateValid, false},
		{PlanningStateDone, PlanningStateGenerating, false},
		{PlanningStateFailed, PlanningStateReceived, false},
	}
	for _, tt := range tests {
		if got := ValidPlanningTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidPlanningTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPlanningState_IsTerminal(t *testing.T) {
	for _, s := range []PlanningState{PlanningStateDone, PlanningStateFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if PlanningStateFinalizing.IsTerminal() {
		t.Error("FINALIZING should not be terminal")
	}
}
