package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/audit"
)

// AttestationStore persists dual sign-off records. Statement writes are
// one-shot: a second write to the same slot must be rejected by the store.
type AttestationStore interface {
	InsertAttestation(ctx context.Context, a IncidentAttestation) error
	GetAttestation(ctx context.Context, attestationID string) (*IncidentAttestation, error)
	SetExecutorStatement(ctx context.Context, attestationID, userID, statement string, at time.Time) error
	SetApproverStatement(ctx context.Context, attestationID, userID, statement string, at time.Time) error
	MarkAttestationComplete(ctx context.Context, attestationID string) error
	CountIncompleteAttestations(ctx context.Context, incidentID string) (int, error)
}

// AttestationTracker creates pending attestations after destructive actions
// and collects the executor and approver statements.
type AttestationTracker struct {
	store    AttestationStore
	recorder Recorder
	now      func() time.Time
}

// NewAttestationTracker creates the tracker.
func NewAttestationTracker(store AttestationStore, recorder Recorder) *AttestationTracker {
	return &AttestationTracker{store: store, recorder: recorder, now: time.Now}
}

// CreateForAction opens a pending attestation bound 1:1 to a destructive
// action that just executed.
func (t *AttestationTracker) CreateForAction(ctx context.Context, action *ResponseAction, executor Caller, approverID, approverRole string) (*IncidentAttestation, error) {
	a := IncidentAttestation{
		AttestationID: uuid.New().String(),
		IncidentID:    action.IncidentID,
		ActionID:      action.ActionID,
		ExecutorID:    executor.UserID,
		ExecutorRole:  executor.Role,
		ApproverID:    approverID,
		ApproverRole:  approverRole,
		Status:        AttestationPending,
		CreatedAt:     t.now().UTC(),
	}
	if err := t.store.InsertAttestation(ctx, a); err != nil {
		return nil, fmt.Errorf("creating attestation for action %s: %w", action.ActionID, err)
	}
	log.Info().
		Str("attestation_id", a.AttestationID).
		Str("action_id", action.ActionID).
		Str("incident_id", action.IncidentID).
		Msg("pending attestation created")
	return &a, nil
}

// SubmitExecutorStatement records the executor's statement. Once recorded it
// is immutable; a second submission is an invariant violation.
func (t *AttestationTracker) SubmitExecutorStatement(ctx context.Context, attestationID, userID, statement string) (*IncidentAttestation, error) {
	return t.submit(ctx, attestationID, userID, statement, t.store.SetExecutorStatement)
}

// SubmitApproverStatement records the approver's statement.
func (t *AttestationTracker) SubmitApproverStatement(ctx context.Context, attestationID, userID, statement string) (*IncidentAttestation, error) {
	return t.submit(ctx, attestationID, userID, statement, t.store.SetApproverStatement)
}

func (t *AttestationTracker) submit(ctx context.Context, attestationID, userID, statement string,
	set func(context.Context, string, string, string, time.Time) error) (*IncidentAttestation, error) {

	if strings.TrimSpace(statement) == "" {
		return nil, fmt.Errorf("attestation statement must not be empty")
	}

	current, err := t.store.GetAttestation(ctx, attestationID)
	if err != nil {
		return nil, fmt.Errorf("loading attestation %s: %w", attestationID, err)
	}
	if current.Status == AttestationComplete {
		return nil, fmt.Errorf("attestation %s is complete and immutable", attestationID)
	}

	if err := set(ctx, attestationID, userID, statement, t.now().UTC()); err != nil {
		return nil, fmt.Errorf("recording statement on attestation %s: %w", attestationID, err)
	}

	updated, err := t.store.GetAttestation(ctx, attestationID)
	if err != nil {
		return nil, fmt.Errorf("reloading attestation %s: %w", attestationID, err)
	}

	if updated.ExecutorStatement != "" && updated.ApproverStatement != "" && updated.Status != AttestationComplete {
		if err := t.store.MarkAttestationComplete(ctx, attestationID); err != nil {
			return nil, fmt.Errorf("completing attestation %s: %w", attestationID, err)
		}
		updated.Status = AttestationComplete

		entry := audit.NewEntry(audit.EventAttested, "ALLOW")
		entry.UserID = userID
		entry.IncidentID = updated.IncidentID
		entry.ActionID = updated.ActionID
		entry.Payload = map[string]any{"attestation_id": attestationID}
		if err := t.recorder.Record(ctx, entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		log.Info().Str("attestation_id", attestationID).Msg("attestation complete")
	}
	return updated, nil
}

// AllComplete reports whether every attestation for the incident is complete.
// Incident closure calls this and hard-fails on false.
func (t *AttestationTracker) AllComplete(ctx context.Context, incidentID string) (bool, error) {
	n, err := t.store.CountIncompleteAttestations(ctx, incidentID)
	if err != nil {
		return false, fmt.Errorf("counting attestations for incident %s: %w", incidentID, err)
	}
	return n == 0, nil
}
