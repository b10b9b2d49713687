package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/audit"
)

// IncidentStore reads and transitions incident execution state.
type IncidentStore interface {
	GetIncident(ctx context.Context, incidentID string) (*Incident, error)
	// UpsertIncident registers an incident as OPEN if the engine has not
	// seen it; existing rows are left untouched.
	UpsertIncident(ctx context.Context, incidentID string) error
	// ReopenIncident moves a frozen incident back to OPEN with bookkeeping.
	ReopenIncident(ctx context.Context, incidentID, userID, justification string) error
	// CloseIncident moves an incident into the given terminal status.
	CloseIncident(ctx context.Context, incidentID string, status IncidentStatus) error
}

// AttestationChecker gates closure on completed dual sign-offs.
type AttestationChecker interface {
	AllComplete(ctx context.Context, incidentID string) (bool, error)
}

// FreezeGuard blocks new actions against frozen incidents and owns the
// explicit reopen and close workflows. There is no silent unfreeze.
type FreezeGuard struct {
	store    IncidentStore
	attest   AttestationChecker
	recorder Recorder
}

// NewFreezeGuard creates the guard.
func NewFreezeGuard(store IncidentStore, attest AttestationChecker, recorder Recorder) *FreezeGuard {
	return &FreezeGuard{store: store, attest: attest, recorder: recorder}
}

// ValidateExecution rejects new actions while the incident is frozen.
// Rollbacks of prior actions bypass this gate by design of the pipeline.
func (g *FreezeGuard) ValidateExecution(ctx context.Context, caller Caller, incidentID, actionID string) error {
	// Incidents register OPEN on their first action; the engine has no
	// separate incident intake.
	if err := g.store.UpsertIncident(ctx, incidentID); err != nil {
		return fmt.Errorf("registering incident %s: %w", incidentID, err)
	}
	inc, err := g.store.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("loading incident %s: %w", incidentID, err)
	}
	if !inc.Status.Frozen() {
		return nil
	}

	entry := audit.NewEntry(audit.EventIncidentFrozen, "DENY")
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = incidentID
	entry.ActionID = actionID
	entry.Reason = fmt.Sprintf("incident is %s", inc.Status)
	if err := g.recorder.Record(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	return &GateError{Gate: "incident_freeze", ActionID: actionID,
		Err: fmt.Errorf("%w: incident %s is %s", ErrIncidentFrozen, incidentID, inc.Status)}
}

// minReopenJustification keeps reopen justifications substantive enough to
// be useful in the ledger.
const minReopenJustification = 10

// Reopen restores action capability on a frozen incident. Highest privilege
// role and a substantive justification are both mandatory.
func (g *FreezeGuard) Reopen(ctx context.Context, caller Caller, incidentID, justification string) error {
	if caller.Role != SuperAdminRole {
		return fmt.Errorf("%w: incident reopen requires %s", ErrPrivilegeRequired, SuperAdminRole)
	}
	if len(strings.TrimSpace(justification)) < minReopenJustification {
		return fmt.Errorf("reopen justification must be at least %d characters", minReopenJustification)
	}

	inc, err := g.store.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("loading incident %s: %w", incidentID, err)
	}
	if !inc.Status.Frozen() {
		return fmt.Errorf("incident %s is not frozen (status %s)", incidentID, inc.Status)
	}

	if err := g.store.ReopenIncident(ctx, incidentID, caller.UserID, justification); err != nil {
		return fmt.Errorf("reopening incident %s: %w", incidentID, err)
	}

	entry := audit.NewEntry(audit.EventIncidentReopened, "ALLOW")
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = incidentID
	entry.Reason = justification
	entry.Payload = map[string]any{"previous_status": string(inc.Status)}
	if err := g.recorder.Record(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	log.Info().
		Str("incident_id", incidentID).
		Str("reopened_by", caller.UserID).
		Msg("incident reopened")
	return nil
}

// Close freezes an incident. Closure is rejected outright while any
// destructive action still lacks a complete attestation.
func (g *FreezeGuard) Close(ctx context.Context, caller Caller, incidentID string, status IncidentStatus) error {
	if !status.Frozen() {
		return fmt.Errorf("%q is not a terminal incident status", status)
	}

	complete, err := g.attest.AllComplete(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("checking attestations for incident %s: %w", incidentID, err)
	}
	if !complete {
		return fmt.Errorf("%w: incident %s cannot be closed", ErrAttestationPending, incidentID)
	}

	inc, err := g.store.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("loading incident %s: %w", incidentID, err)
	}
	if inc.Status.Frozen() {
		return fmt.Errorf("incident %s is already %s", incidentID, inc.Status)
	}

	if err := g.store.CloseIncident(ctx, incidentID, status); err != nil {
		return fmt.Errorf("closing incident %s: %w", incidentID, err)
	}

	entry := audit.NewEntry(audit.EventIncidentClosed, "ALLOW")
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = incidentID
	entry.Payload = map[string]any{"status": string(status)}
	if err := g.recorder.Record(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	return nil
}
