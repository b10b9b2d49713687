package engine

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	legal := []struct{ from, to ExecutionStatus }{
		{StatusPending, StatusExecuting},
		{StatusExecuting, StatusSucceeded},
		{StatusExecuting, StatusFailed},
		{StatusSucceeded, StatusRolledBack},
	}
	for _, tt := range legal {
		if err := ValidateTransition(tt.from, tt.to); err != nil {
			t.Errorf("ValidateTransition(%s, %s) rejected a legal move: %v", tt.from, tt.to, err)
		}
	}

	illegal := []struct{ from, to ExecutionStatus }{
		{StatusPending, StatusSucceeded},
		{StatusPending, StatusFailed},
		{StatusPending, StatusRolledBack},
		{StatusExecuting, StatusPending},
		{StatusExecuting, StatusRolledBack},
		{StatusSucceeded, StatusExecuting},
		{StatusSucceeded, StatusPending},
		{StatusFailed, StatusExecuting},
		{StatusFailed, StatusRolledBack},
		{StatusRolledBack, StatusSucceeded},
		{StatusRolledBack, StatusPending},
	}
	for _, tt := range illegal {
		err := ValidateTransition(tt.from, tt.to)
		if err == nil {
			t.Errorf("ValidateTransition(%s, %s) allowed an illegal move", tt.from, tt.to)
			continue
		}
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("ValidateTransition(%s, %s) = %v, want ErrIllegalTransition", tt.from, tt.to, err)
		}
	}
}

func TestPolicyDecisionValidate(t *testing.T) {
	valid := PolicyDecision{
		DecisionID:        "dec-1",
		IncidentID:        "inc-1",
		MachineID:         "host-1",
		RecommendedAction: "BLOCK_PROCESS",
		ShouldRecommend:   true,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid decision rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*PolicyDecision)
	}{
		{"missing incident id", func(d *PolicyDecision) { d.IncidentID = "" }},
		{"decision does not recommend", func(d *PolicyDecision) { d.ShouldRecommend = false }},
		{"missing recommended action", func(d *PolicyDecision) { d.RecommendedAction = "" }},
		{"unknown command type", func(d *PolicyDecision) { d.RecommendedAction = "FORMAT_DISK" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidDecision) {
				t.Fatalf("got %v, want ErrInvalidDecision", err)
			}
		})
	}
}

func TestIncidentStatusFrozen(t *testing.T) {
	if IncidentOpen.Frozen() || IncidentInProgress.Frozen() {
		t.Error("OPEN and IN_PROGRESS must not be frozen")
	}
	if !IncidentClosed.Frozen() || !IncidentResolvedActions.Frozen() {
		t.Error("CLOSED and RESOLVED_WITH_ACTIONS must be frozen")
	}
}

func TestParseRollbackReason(t *testing.T) {
	for _, s := range []string{"FALSE_POSITIVE", "HUMAN_OVERRIDE", "SYSTEM_ERROR", "POLICY_CHANGE", "OTHER"} {
		if _, err := ParseRollbackReason(s); err != nil {
			t.Errorf("ParseRollbackReason(%q): %v", s, err)
		}
	}
	if _, err := ParseRollbackReason("FELT_LIKE_IT"); err == nil {
		t.Error("ParseRollbackReason(FELT_LIKE_IT) should have been rejected")
	}
}
