package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/audit"
)

// TargetDescriptor names the real-world subject of an action. Which field is
// required depends on the declared scope.
type TargetDescriptor struct {
	MachineID   string `json:"machine_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	NetworkCIDR string `json:"network_cidr,omitempty"`
}

// TargetResolver resolves a declared scope against the real topology.
type TargetResolver interface {
	ResolveTargets(ctx context.Context, scope BlastScope, target TargetDescriptor) ([]string, error)
}

// BlastStore persists the immutable record of every check, pass or fail.
type BlastStore interface {
	InsertBlastRadiusRecord(ctx context.Context, rec BlastRadiusRecord) error
}

// BlastCheck is one declaration to validate.
type BlastCheck struct {
	ActionID      string
	CommandType   CommandType
	Target        TargetDescriptor
	Scope         BlastScope
	DeclaredCount int
	Impact        Impact
	HasApproval   bool
	IncidentID    string
}

// BlastValidator rejects actions whose declared blast radius does not match
// reality, and actions with wide scopes that lack approval.
type BlastValidator struct {
	resolver TargetResolver
	store    BlastStore
	recorder Recorder
	now      func() time.Time
}

// NewBlastValidator creates a validator over a topology resolver.
func NewBlastValidator(resolver TargetResolver, store BlastStore, recorder Recorder) *BlastValidator {
	return &BlastValidator{resolver: resolver, store: store, recorder: recorder, now: time.Now}
}

// Validate resolves the declared scope and enforces the two invariants:
// wide scopes require approval, and declared must equal resolved count.
// Every call persists a BlastRadiusRecord.
func (v *BlastValidator) Validate(ctx context.Context, caller Caller, check BlastCheck) error {
	rec := BlastRadiusRecord{
		RecordID:         uuid.New().String(),
		ActionID:         check.ActionID,
		Scope:            check.Scope,
		DeclaredCount:    check.DeclaredCount,
		ExpectedImpact:   check.Impact,
		ApprovalRequired: check.Scope.RequiresScopeApproval(),
		CheckedAt:        v.now().UTC(),
	}

	reject := func(reason string) error {
		rec.Valid = false
		rec.RejectReason = reason
		if err := v.store.InsertBlastRadiusRecord(ctx, rec); err != nil {
			return fmt.Errorf("persisting blast radius record: %w", err)
		}
		entry := audit.NewEntry(audit.EventBlastRejected, "DENY")
		entry.UserID = caller.UserID
		entry.Role = caller.Role
		entry.IncidentID = check.IncidentID
		entry.ActionID = check.ActionID
		entry.Reason = reason
		entry.Payload = map[string]any{
			"blast_scope":    string(check.Scope),
			"declared_count": check.DeclaredCount,
			"resolved_count": rec.ResolvedCount,
		}
		if err := v.recorder.Record(ctx, entry); err != nil {
			return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		log.Warn().
			Str("action_id", check.ActionID).
			Str("blast_scope", string(check.Scope)).
			Str("reason", reason).
			Msg("blast radius rejected")
		return &GateError{
			Gate:     "blast_radius",
			ActionID: check.ActionID,
			Err:      fmt.Errorf("%w: %s", ErrBlastRadius, reason),
		}
	}

	if rec.ApprovalRequired && !check.HasApproval {
		return reject(fmt.Sprintf("approval required for %s scope", check.Scope))
	}

	targets, err := v.resolver.ResolveTargets(ctx, check.Scope, check.Target)
	if err != nil {
		return fmt.Errorf("resolving targets for scope %s: %w", check.Scope, err)
	}
	rec.ResolvedCount = len(targets)

	if rec.ResolvedCount != check.DeclaredCount {
		return reject(fmt.Sprintf("target count mismatch: declared=%d resolved=%d",
			check.DeclaredCount, rec.ResolvedCount))
	}

	rec.Valid = true
	if err := v.store.InsertBlastRadiusRecord(ctx, rec); err != nil {
		return fmt.Errorf("persisting blast radius record: %w", err)
	}
	return nil
}
