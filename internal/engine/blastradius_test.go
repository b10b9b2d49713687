package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"threat-response-engine/internal/audit"
)

func TestBlastValidatorPasses(t *testing.T) {
	store := &memBlastStore{}
	resolver := &fakeResolver{targets: []string{"host-1"}}
	v := NewBlastValidator(resolver, store, &memRecorder{})

	err := v.Validate(context.Background(), Caller{UserID: "alice"}, BlastCheck{
		ActionID:      "act-1",
		Scope:         ScopeHost,
		Target:        TargetDescriptor{MachineID: "host-1"},
		DeclaredCount: 1,
		Impact:        ImpactLow,
		IncidentID:    "inc-1",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(store.recs) != 1 {
		t.Fatalf("got %d blast records, want 1", len(store.recs))
	}
	rec := store.recs[0]
	if !rec.Valid {
		t.Error("record should be valid")
	}
	if rec.ResolvedCount != 1 || rec.DeclaredCount != 1 {
		t.Errorf("record counts = declared %d / resolved %d, want 1/1", rec.DeclaredCount, rec.ResolvedCount)
	}
}

func TestBlastValidatorWideScopeNeedsApproval(t *testing.T) {
	store := &memBlastStore{}
	resolver := &fakeResolver{targets: []string{"host-1", "host-2"}}
	recorder := &memRecorder{}
	v := NewBlastValidator(resolver, store, recorder)

	err := v.Validate(context.Background(), Caller{UserID: "alice"}, BlastCheck{
		ActionID:      "act-1",
		Scope:         ScopeGroup,
		Target:        TargetDescriptor{GroupID: "grp-1"},
		DeclaredCount: 2,
		HasApproval:   false,
		IncidentID:    "inc-1",
	})
	if !errors.Is(err, ErrBlastRadius) {
		t.Fatalf("got %v, want ErrBlastRadius", err)
	}
	if !strings.Contains(err.Error(), "approval required for GROUP scope") {
		t.Errorf("unexpected reason: %v", err)
	}

	// The approval check fires before resolution: no topology lookup happened.
	if resolver.calls != 0 {
		t.Errorf("resolver called %d times, want 0", resolver.calls)
	}

	// The failed check is still an immutable record and an audit entry.
	if len(store.recs) != 1 || store.recs[0].Valid {
		t.Fatalf("expected one invalid blast record, got %+v", store.recs)
	}
	if got := recorder.byEvent(audit.EventBlastRejected); len(got) != 1 {
		t.Fatalf("got %d BLAST_RADIUS_REJECTED entries, want 1", len(got))
	}
}

func TestBlastValidatorCountMismatch(t *testing.T) {
	store := &memBlastStore{}
	resolver := &fakeResolver{targets: []string{"host-1"}}
	v := NewBlastValidator(resolver, store, &memRecorder{})

	err := v.Validate(context.Background(), Caller{UserID: "alice"}, BlastCheck{
		ActionID:      "act-1",
		Scope:         ScopeHost,
		Target:        TargetDescriptor{MachineID: "host-1"},
		DeclaredCount: 2,
		IncidentID:    "inc-1",
	})
	if !errors.Is(err, ErrBlastRadius) {
		t.Fatalf("got %v, want ErrBlastRadius", err)
	}
	if !strings.Contains(err.Error(), "target count mismatch: declared=2 resolved=1") {
		t.Errorf("unexpected reason: %v", err)
	}
	if len(store.recs) != 1 {
		t.Fatalf("got %d blast records, want 1", len(store.recs))
	}
	if rec := store.recs[0]; rec.Valid || rec.ResolvedCount != 1 {
		t.Errorf("record = %+v, want invalid with resolved=1", rec)
	}
}

func TestBlastValidatorApprovedWideScope(t *testing.T) {
	store := &memBlastStore{}
	resolver := &fakeResolver{targets: []string{"host-1", "host-2", "host-3"}}
	v := NewBlastValidator(resolver, store, &memRecorder{})

	err := v.Validate(context.Background(), Caller{UserID: "alice"}, BlastCheck{
		ActionID:      "act-1",
		Scope:         ScopeNetwork,
		Target:        TargetDescriptor{NetworkCIDR: "10.0.0.0/24"},
		DeclaredCount: 3,
		HasApproval:   true,
		IncidentID:    "inc-1",
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec := store.recs[0]; !rec.ApprovalRequired || !rec.Valid {
		t.Errorf("record = %+v, want valid with approval_required", rec)
	}
}

func TestBlastValidatorAuditFailureFailsCall(t *testing.T) {
	resolver := &fakeResolver{targets: nil}
	v := NewBlastValidator(resolver, &memBlastStore{}, &memRecorder{fail: true})

	err := v.Validate(context.Background(), Caller{UserID: "alice"}, BlastCheck{
		ActionID:      "act-1",
		Scope:         ScopeHost,
		DeclaredCount: 1,
	})
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("got %v, want ErrAuditUnavailable", err)
	}
}
