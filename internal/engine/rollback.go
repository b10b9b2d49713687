package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/audit"
	"threat-response-engine/internal/monitor"
	"threat-response-engine/internal/signing"
)

// RollbackStore persists rollback records. Failed rollbacks are persisted
// too; the store enforces at most one SUCCEEDED record per action.
type RollbackStore interface {
	InsertRollbackRecord(ctx context.Context, rec RollbackRecord) error
	GetRollbackForAction(ctx context.Context, actionID string) (*RollbackRecord, error)
}

// RollbackRequest asks for the reversal of one prior action.
type RollbackRequest struct {
	ActionID   string
	Reason     RollbackReason
	Type       RollbackType
	ApprovalID string
}

// RollbackManager issues the signed inverse of a previously executed action.
// A rollback needs the same authority tier as the action it reverses, is
// dispatched exactly once, and links back to the action one-shot. Rollbacks
// deliberately bypass the incident freeze gate: undoing damage on a closed
// incident must stay possible.
type RollbackManager struct {
	actions    ActionStore
	rollbacks  RollbackStore
	authority  *AuthorityValidator
	signer     *signing.Signer
	dispatcher Dispatcher
	recorder   Recorder
	metrics    *monitor.Metrics
	now        func() time.Time
}

// NewRollbackManager creates the manager.
func NewRollbackManager(actions ActionStore, rollbacks RollbackStore, authority *AuthorityValidator,
	signer *signing.Signer, dispatcher Dispatcher, recorder Recorder, metrics *monitor.Metrics) *RollbackManager {
	return &RollbackManager{
		actions:    actions,
		rollbacks:  rollbacks,
		authority:  authority,
		signer:     signer,
		dispatcher: dispatcher,
		recorder:   recorder,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Rollback reverses one SUCCEEDED action. The inverse command is signed
// independently of the original and dispatched in a single attempt; a failed
// attempt leaves the action SUCCEEDED and the failure on record.
func (m *RollbackManager) Rollback(ctx context.Context, caller Caller, req RollbackRequest) (*RollbackRecord, error) {
	if _, err := ParseRollbackReason(string(req.Reason)); err != nil {
		return nil, err
	}
	if req.Type != RollbackFull && req.Type != RollbackPartial {
		return nil, fmt.Errorf("invalid rollback type: %q", req.Type)
	}

	action, err := m.actions.GetAction(ctx, req.ActionID)
	if err != nil {
		return nil, fmt.Errorf("loading action %s: %w", req.ActionID, err)
	}
	if !action.RollbackCapable {
		return nil, fmt.Errorf("%w: action %s", ErrNotRollbackCapable, action.ActionID)
	}
	if action.ExecutionStatus == StatusRolledBack {
		return nil, fmt.Errorf("%w: action %s", ErrAlreadyRolledBack, action.ActionID)
	}
	if action.ExecutionStatus != StatusSucceeded {
		return nil, fmt.Errorf("%w: action %s is %s", ErrRollbackIneligible, action.ActionID, action.ExecutionStatus)
	}

	rollbackID := uuid.New().String()

	// Same tier as the original action, re-authorized with a fresh approval.
	if _, err := m.authority.CheckSatisfied(ctx, action.RequiredAuthority, req.ApprovalID, rollbackID, ScopeHost); err != nil {
		return nil, err
	}

	inverse := InverseCommand(action.CommandType)
	payload := signing.CommandPayload{
		CommandID:       rollbackID,
		CommandType:     string(inverse),
		TargetMachineID: action.MachineID,
		IncidentID:      action.IncidentID,
		IssuedAt:        m.now().UTC().Format(time.RFC3339),
		IssuedBy:        caller.UserID,
		ApprovalID:      req.ApprovalID,
	}
	cmd, err := m.signer.SignCommand(payload)
	if err != nil {
		return nil, fmt.Errorf("signing rollback command: %w", err)
	}
	rawPayload, err := signing.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("serializing rollback payload: %w", err)
	}

	rec := RollbackRecord{
		RollbackID:        rollbackID,
		ActionID:          action.ActionID,
		Reason:            req.Reason,
		Type:              req.Type,
		CommandType:       inverse,
		Payload:           rawPayload,
		Signature:         string(cmd.Signature),
		SigningKeyID:      string(cmd.KeyID),
		RequiredAuthority: action.RequiredAuthority,
		ApprovalID:        req.ApprovalID,
		RolledBackAt:      m.now().UTC(),
		RolledBackBy:      caller.UserID,
	}

	// One attempt. A failure is recorded and surfaced; the caller must issue
	// a fresh rollback request if they want to try again.
	start := m.now()
	dispatchErr := m.dispatcher.Dispatch(ctx, cmd, action.MachineID)
	m.metrics.RecordDispatch(string(inverse), m.now().Sub(start).Seconds())

	if dispatchErr != nil {
		rec.Status = StatusFailed
		if err := m.rollbacks.InsertRollbackRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("persisting failed rollback %s: %w", rollbackID, err)
		}
		entry := audit.NewEntry(audit.EventActionFailed, "DENY")
		entry.UserID = caller.UserID
		entry.Role = caller.Role
		entry.IncidentID = action.IncidentID
		entry.ActionID = action.ActionID
		entry.Reason = dispatchErr.Error()
		entry.Payload = map[string]any{"rollback_id": rollbackID}
		if err := m.recorder.Record(ctx, entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		m.metrics.DispatchFailures.Inc()
		m.metrics.RollbacksTotal.WithLabelValues(string(req.Reason), string(StatusFailed)).Inc()
		return nil, fmt.Errorf("rollback %s: %w", rollbackID, dispatchErr)
	}

	entry := audit.NewEntry(audit.EventActionRolledBack, "ALLOW")
	entry.EntryID = uuid.New().String()
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = action.IncidentID
	entry.ActionID = action.ActionID
	entry.Reason = string(req.Reason)
	entry.Payload = map[string]any{
		"rollback_id":   rollbackID,
		"rollback_type": string(req.Type),
		"command_type":  string(inverse),
	}
	if err := m.recorder.Record(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	rec.LedgerEntryID = entry.EntryID

	rec.Status = StatusSucceeded
	if err := m.rollbacks.InsertRollbackRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting rollback %s: %w", rollbackID, err)
	}

	// One-shot: the store flips SUCCEEDED -> ROLLED_BACK and writes the link
	// atomically, rejecting any second rollback of the same action.
	if err := m.actions.LinkRollback(ctx, action.ActionID, rollbackID); err != nil {
		return nil, fmt.Errorf("linking rollback %s to action %s: %w", rollbackID, action.ActionID, err)
	}

	m.metrics.RollbacksTotal.WithLabelValues(string(req.Reason), string(StatusSucceeded)).Inc()
	log.Info().
		Str("rollback_id", rollbackID).
		Str("action_id", action.ActionID).
		Str("reason", string(req.Reason)).
		Msg("action rolled back")
	return &rec, nil
}
