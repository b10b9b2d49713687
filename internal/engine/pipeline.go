package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/audit"
	"threat-response-engine/internal/monitor"
	"threat-response-engine/internal/signing"
)

// ActionStore persists response actions. Rows are insert-only: after insert
// the store accepts only the enumerated status transitions and the one-shot
// rollback link.
type ActionStore interface {
	InsertAction(ctx context.Context, a ResponseAction) error
	GetAction(ctx context.Context, actionID string) (*ResponseAction, error)
	UpdateActionStatus(ctx context.Context, actionID string, from, to ExecutionStatus, executedAt *time.Time) error
	// LinkRollback flips SUCCEEDED -> ROLLED_BACK and records the rollback id
	// in one statement; it fails if the action is in any other state.
	LinkRollback(ctx context.Context, actionID, rollbackID string) error
	ListActionsByIncident(ctx context.Context, incidentID string) ([]ResponseAction, error)
}

// ExecuteRequest is one policy decision plus the caller's declarations the
// gates validate against.
type ExecuteRequest struct {
	Decision      PolicyDecision
	Scope         BlastScope
	Target        TargetDescriptor
	DeclaredCount int
	Impact        Impact
	ApprovalID    string
	Emergency     bool
}

// Pipeline turns validated policy decisions into signed, dispatched commands.
// The gate order is fixed: rate limit, blast radius, authority, incident
// freeze. The first denial short-circuits, nothing is dispatched, and the
// denial is on the ledger before the caller sees it.
type Pipeline struct {
	modes      *ModeManager
	limiter    *RateLimiter
	blast      *BlastValidator
	authority  *AuthorityValidator
	freeze     *FreezeGuard
	attest     *AttestationTracker
	actions    ActionStore
	signer     *signing.Signer
	dispatcher Dispatcher
	recorder   Recorder
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer
	now        func() time.Time
}

// PipelineConfig collects the pipeline's collaborators.
type PipelineConfig struct {
	Modes      *ModeManager
	Limiter    *RateLimiter
	Blast      *BlastValidator
	Authority  *AuthorityValidator
	Freeze     *FreezeGuard
	Attest     *AttestationTracker
	Actions    ActionStore
	Signer     *signing.Signer
	Dispatcher Dispatcher
	Recorder   Recorder
	Metrics    *monitor.Metrics
	Tracer     *monitor.Tracer
}

// NewPipeline wires the execution pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		modes:      cfg.Modes,
		limiter:    cfg.Limiter,
		blast:      cfg.Blast,
		authority:  cfg.Authority,
		freeze:     cfg.Freeze,
		attest:     cfg.Attest,
		actions:    cfg.Actions,
		signer:     cfg.Signer,
		dispatcher: cfg.Dispatcher,
		recorder:   cfg.Recorder,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		now:        time.Now,
	}
}

// Execute runs one decision through the full pipeline and returns the final
// action record. Whatever the outcome, the corresponding ledger entry was
// acknowledged before this returns.
func (p *Pipeline) Execute(ctx context.Context, caller Caller, req ExecuteRequest) (*ResponseAction, error) {
	if err := req.Decision.Validate(); err != nil {
		return nil, err
	}
	ct, err := ParseCommandType(req.Decision.RecommendedAction)
	if err != nil {
		return nil, err
	}
	if req.Emergency && caller.Role != SuperAdminRole {
		return nil, fmt.Errorf("%w: emergency override requires %s", ErrPrivilegeRequired, SuperAdminRole)
	}

	mode, err := p.modes.Current(ctx)
	if err != nil {
		return nil, err
	}
	class := Classify(ct)
	behavior := BehaviorFor(mode, class)
	actionID := uuid.New().String()

	ctx, span := p.tracer.StartSpan(ctx, "execute",
		monitor.AttrActionID.String(actionID),
		monitor.AttrIncidentID.String(req.Decision.IncidentID),
		monitor.AttrCommandType.String(string(ct)),
		monitor.AttrMode.String(string(mode)),
	)
	defer span.End()
	p.metrics.ActiveActions.Inc()
	defer p.metrics.ActiveActions.Dec()

	if behavior.Blocked {
		entry := p.newEntry(audit.EventActionRequested, "DENY", caller, req, actionID)
		entry.Reason = behavior.BlockReason
		if err := p.recorder.Record(ctx, entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		p.metrics.RecordAction(string(ct), "BLOCKED")
		return nil, fmt.Errorf("%w: %s", ErrModeBlocked, behavior.BlockReason)
	}

	requested := p.newEntry(audit.EventActionRequested, "ALLOW", caller, req, actionID)
	requested.EntryID = uuid.New().String()
	if err := p.recorder.Record(ctx, requested); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	// Gate 1: rate limit.
	if err := p.limiter.CheckAndConsume(ctx, caller, QuotaCheck{
		UserID:     caller.UserID,
		IncidentID: req.Decision.IncidentID,
		MachineID:  req.Decision.MachineID,
		ActionID:   actionID,
		Emergency:  req.Emergency,
	}); err != nil {
		return nil, p.gateDenied(err)
	}

	// Gate 2: blast radius.
	if err := p.blast.Validate(ctx, caller, BlastCheck{
		ActionID:      actionID,
		CommandType:   ct,
		Target:        req.Target,
		Scope:         req.Scope,
		DeclaredCount: req.DeclaredCount,
		Impact:        req.Impact,
		HasApproval:   req.ApprovalID != "",
		IncidentID:    req.Decision.IncidentID,
	}); err != nil {
		return nil, p.gateDenied(err)
	}

	// Gate 3: authority.
	approval, err := p.authority.CheckSatisfied(ctx, behavior.Authority, req.ApprovalID, actionID, req.Scope)
	if err != nil {
		var gerr *GateError
		if errors.As(err, &gerr) {
			entry := audit.NewEntry(audit.EventAuthorityDenied, "DENY")
			entry.UserID = caller.UserID
			entry.Role = caller.Role
			entry.IncidentID = req.Decision.IncidentID
			entry.ActionID = actionID
			entry.Reason = gerr.Err.Error()
			if aerr := p.recorder.Record(ctx, entry); aerr != nil {
				return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, aerr)
			}
		}
		return nil, p.gateDenied(err)
	}
	if approval != nil {
		entry := audit.NewEntry(audit.EventActionApproved, "ALLOW")
		entry.UserID = caller.UserID
		entry.Role = caller.Role
		entry.IncidentID = req.Decision.IncidentID
		entry.ActionID = actionID
		entry.Payload = map[string]any{
			"approval_id":   approval.ApprovalID,
			"approver_id":   approval.ApproverID,
			"approver_role": approval.ApproverRole,
		}
		if err := p.recorder.Record(ctx, entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
	}

	// Gate 4: incident freeze.
	if err := p.freeze.ValidateExecution(ctx, caller, req.Decision.IncidentID, actionID); err != nil {
		return nil, p.gateDenied(err)
	}

	payload := signing.CommandPayload{
		CommandID:       actionID,
		CommandType:     string(ct),
		TargetMachineID: req.Decision.MachineID,
		IncidentID:      req.Decision.IncidentID,
		IssuedAt:        p.now().UTC().Format(time.RFC3339),
		IssuedBy:        caller.UserID,
		Mode:            string(mode),
		ApprovalID:      req.ApprovalID,
	}
	cmd, err := p.signer.SignCommand(payload)
	if err != nil {
		return nil, fmt.Errorf("signing command: %w", err)
	}
	rawPayload, err := signing.Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("serializing command payload: %w", err)
	}

	action := ResponseAction{
		ActionID:          actionID,
		PolicyDecisionID:  req.Decision.DecisionID,
		IncidentID:        req.Decision.IncidentID,
		MachineID:         req.Decision.MachineID,
		CommandType:       ct,
		CommandPayload:    rawPayload,
		CommandSignature:  string(cmd.Signature),
		SigningKeyID:      string(cmd.KeyID),
		RequiredAuthority: behavior.Authority,
		ApprovalID:        req.ApprovalID,
		ExecutionStatus:   StatusPending,
		ExecutedBy:        caller.UserID,
		RollbackCapable:   !behavior.SimulateOnly,
		LedgerEntryID:     requested.EntryID,
		CreatedAt:         p.now().UTC(),
	}
	if err := p.actions.InsertAction(ctx, action); err != nil {
		return nil, fmt.Errorf("persisting action %s: %w", actionID, err)
	}

	if behavior.SimulateOnly {
		return p.simulate(ctx, caller, &action, req)
	}
	return p.dispatch(ctx, caller, &action, cmd, class, approval)
}

// simulate walks the action through the status machine without dispatching.
// Simulated actions never touched an agent, so they are not rollback-capable.
func (p *Pipeline) simulate(ctx context.Context, caller Caller, action *ResponseAction, req ExecuteRequest) (*ResponseAction, error) {
	if err := p.advance(ctx, action, StatusExecuting, nil); err != nil {
		return nil, err
	}
	at := p.now().UTC()
	if err := p.advance(ctx, action, StatusSucceeded, &at); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(audit.EventActionSimulated, "ALLOW")
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = action.IncidentID
	entry.ActionID = action.ActionID
	entry.Payload = map[string]any{
		"command_type": string(action.CommandType),
		"machine_id":   action.MachineID,
	}
	if err := p.recorder.Record(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	p.metrics.RecordAction(string(action.CommandType), "SIMULATED")
	log.Info().
		Str("action_id", action.ActionID).
		Str("command_type", string(action.CommandType)).
		Msg("action simulated")
	return action, nil
}

// dispatch makes the single delivery attempt and records the terminal state.
func (p *Pipeline) dispatch(ctx context.Context, caller Caller, action *ResponseAction,
	cmd signing.SignedCommand, class Classification, approval *AuthorityApproval) (*ResponseAction, error) {

	if err := p.advance(ctx, action, StatusExecuting, nil); err != nil {
		return nil, err
	}

	start := p.now()
	dispatchErr := p.dispatcher.Dispatch(ctx, cmd, action.MachineID)
	p.metrics.RecordDispatch(string(action.CommandType), p.now().Sub(start).Seconds())
	at := p.now().UTC()

	if dispatchErr != nil {
		if err := p.advance(ctx, action, StatusFailed, &at); err != nil {
			return nil, err
		}
		entry := audit.NewEntry(audit.EventActionFailed, "DENY")
		entry.UserID = caller.UserID
		entry.Role = caller.Role
		entry.IncidentID = action.IncidentID
		entry.ActionID = action.ActionID
		entry.Reason = dispatchErr.Error()
		if err := p.recorder.Record(ctx, entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		p.metrics.DispatchFailures.Inc()
		p.metrics.RecordAction(string(action.CommandType), string(StatusFailed))
		return nil, fmt.Errorf("action %s: %w", action.ActionID, dispatchErr)
	}

	if err := p.advance(ctx, action, StatusSucceeded, &at); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(audit.EventActionExecuted, "ALLOW")
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = action.IncidentID
	entry.ActionID = action.ActionID
	entry.Payload = map[string]any{
		"command_type": string(action.CommandType),
		"machine_id":   action.MachineID,
	}
	if err := p.recorder.Record(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	// A destructive action that ran opens a pending attestation. Incident
	// closure stays blocked until both statements land.
	if class == ClassDestructive {
		approverID, approverRole := "", ""
		if approval != nil {
			approverID, approverRole = approval.ApproverID, approval.ApproverRole
		}
		if _, err := p.attest.CreateForAction(ctx, action, caller, approverID, approverRole); err != nil {
			return nil, err
		}
	}

	p.metrics.RecordAction(string(action.CommandType), string(StatusSucceeded))
	log.Info().
		Str("action_id", action.ActionID).
		Str("command_type", string(action.CommandType)).
		Str("machine_id", action.MachineID).
		Msg("action executed")
	return action, nil
}

// advance moves the action through one validated status transition, in memory
// and in the store.
func (p *Pipeline) advance(ctx context.Context, action *ResponseAction, to ExecutionStatus, executedAt *time.Time) error {
	from := action.ExecutionStatus
	if err := ValidateTransition(from, to); err != nil {
		return err
	}
	if err := p.actions.UpdateActionStatus(ctx, action.ActionID, from, to, executedAt); err != nil {
		return fmt.Errorf("updating action %s to %s: %w", action.ActionID, to, err)
	}
	action.ExecutionStatus = to
	if executedAt != nil {
		action.ExecutedAt = executedAt
	}
	return nil
}

func (p *Pipeline) newEntry(event audit.EventType, decision string, caller Caller, req ExecuteRequest, actionID string) audit.Entry {
	entry := audit.NewEntry(event, decision)
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = req.Decision.IncidentID
	entry.ActionID = actionID
	entry.Payload = map[string]any{
		"policy_decision_id": req.Decision.DecisionID,
		"recommended_action": req.Decision.RecommendedAction,
		"machine_id":         req.Decision.MachineID,
		"blast_scope":        string(req.Scope),
		"emergency":          req.Emergency,
	}
	return entry
}

// gateDenied counts the denial if the error is a gate denial; the gate itself
// already wrote the ledger entry.
func (p *Pipeline) gateDenied(err error) error {
	var gerr *GateError
	if errors.As(err, &gerr) {
		p.metrics.RecordGateDenial(gerr.Gate)
	}
	return err
}
