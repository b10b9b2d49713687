package engine

import (
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a ResponseAction. The only legal
// transitions are PENDING -> EXECUTING -> {SUCCEEDED, FAILED} and
// SUCCEEDED -> ROLLED_BACK, exactly once.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "PENDING"
	StatusExecuting  ExecutionStatus = "EXECUTING"
	StatusSucceeded  ExecutionStatus = "SUCCEEDED"
	StatusFailed     ExecutionStatus = "FAILED"
	StatusRolledBack ExecutionStatus = "ROLLED_BACK"
)

// ValidateTransition rejects any status move outside the enumerated machine.
// Illegal transitions are rejected, never coerced.
func ValidateTransition(from, to ExecutionStatus) error {
	ok := false
	switch from {
	case StatusPending:
		ok = to == StatusExecuting
	case StatusExecuting:
		ok = to == StatusSucceeded || to == StatusFailed
	case StatusSucceeded:
		ok = to == StatusRolledBack
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// PolicyDecision is the opaque input from the policy engine. The engine
// validates its shape but never re-evaluates its correctness.
type PolicyDecision struct {
	DecisionID        string `json:"policy_decision_id"`
	IncidentID        string `json:"incident_id"`
	MachineID         string `json:"machine_id"`
	RecommendedAction string `json:"recommended_action"`
	ShouldRecommend   bool   `json:"should_recommend_action"`
	// Signature produced by the policy engine's own scheme. Carried through
	// for the audit trail, never verified with the engine's keys.
	PolicySignature string `json:"policy_signature,omitempty"`
}

// Validate checks the decision before any side effect happens.
func (d PolicyDecision) Validate() error {
	if d.IncidentID == "" {
		return fmt.Errorf("%w: missing incident_id", ErrInvalidDecision)
	}
	if !d.ShouldRecommend {
		return fmt.Errorf("%w: decision does not recommend an action", ErrInvalidDecision)
	}
	if d.RecommendedAction == "" {
		return fmt.Errorf("%w: missing recommended_action", ErrInvalidDecision)
	}
	if _, err := ParseCommandType(d.RecommendedAction); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	return nil
}

// ResponseAction is one attempted enforcement command. Append-only: after
// insert, only the enumerated status transitions and the one-shot rollback
// link may ever be written.
type ResponseAction struct {
	ActionID          string          `json:"action_id"`
	PolicyDecisionID  string          `json:"policy_decision_id"`
	IncidentID        string          `json:"incident_id"`
	MachineID         string          `json:"machine_id"`
	CommandType       CommandType     `json:"command_type"`
	CommandPayload    []byte          `json:"command_payload"`
	CommandSignature  string          `json:"command_signature"`
	SigningKeyID      string          `json:"signing_key_id"`
	RequiredAuthority AuthorityLevel  `json:"required_authority"`
	ApprovalID        string          `json:"approval_id,omitempty"`
	ExecutionStatus   ExecutionStatus `json:"execution_status"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
	ExecutedBy        string          `json:"executed_by"`
	RollbackCapable   bool            `json:"rollback_capable"`
	RollbackID        string          `json:"rollback_id,omitempty"`
	LedgerEntryID     string          `json:"ledger_entry_id"`
	CreatedAt         time.Time       `json:"created_at"`
}

// RollbackReason is the closed set of reasons a rollback may be issued.
type RollbackReason string

const (
	ReasonFalsePositive RollbackReason = "FALSE_POSITIVE"
	ReasonHumanOverride RollbackReason = "HUMAN_OVERRIDE"
	ReasonSystemError   RollbackReason = "SYSTEM_ERROR"
	ReasonPolicyChange  RollbackReason = "POLICY_CHANGE"
	ReasonOther         RollbackReason = "OTHER"
)

// ParseRollbackReason validates a rollback reason string.
func ParseRollbackReason(s string) (RollbackReason, error) {
	switch r := RollbackReason(s); r {
	case ReasonFalsePositive, ReasonHumanOverride, ReasonSystemError,
		ReasonPolicyChange, ReasonOther:
		return r, nil
	default:
		return "", fmt.Errorf("invalid rollback reason: %q", s)
	}
}

// RollbackType distinguishes complete from partial reversals.
type RollbackType string

const (
	RollbackFull    RollbackType = "FULL"
	RollbackPartial RollbackType = "PARTIAL"
)

// RollbackRecord is the signed inverse of exactly one ResponseAction.
type RollbackRecord struct {
	RollbackID        string          `json:"rollback_id"`
	ActionID          string          `json:"action_id"`
	Reason            RollbackReason  `json:"rollback_reason"`
	Type              RollbackType    `json:"rollback_type"`
	CommandType       CommandType     `json:"command_type"`
	Payload           []byte          `json:"rollback_payload"`
	Signature         string          `json:"rollback_signature"`
	SigningKeyID      string          `json:"signing_key_id"`
	RequiredAuthority AuthorityLevel  `json:"required_authority"`
	ApprovalID        string          `json:"approval_id,omitempty"`
	Status            ExecutionStatus `json:"rollback_status"`
	RolledBackAt      time.Time       `json:"rolled_back_at"`
	RolledBackBy      string          `json:"rolled_back_by"`
	LedgerEntryID     string          `json:"ledger_entry_id"`
}

// LimitType identifies which quota ceiling a rate-limit observation checked.
type LimitType string

const (
	LimitPerUserPerMinute  LimitType = "PER_USER_PER_MINUTE"
	LimitPerIncidentTotal  LimitType = "PER_INCIDENT_TOTAL"
	LimitPerHostPer10Min   LimitType = "PER_HOST_PER_10_MINUTES"
	LimitEmergencyOverride LimitType = "EMERGENCY_OVERRIDE_PER_INCIDENT"
)

// RateLimitRecord is one immutable observation of a quota check.
type RateLimitRecord struct {
	RecordID   string    `json:"record_id"`
	LimitType  LimitType `json:"limit_type"`
	Count      int       `json:"count"`
	Ceiling    int       `json:"ceiling"`
	Emergency  bool      `json:"emergency"`
	Allowed    bool      `json:"allowed"`
	UserID     string    `json:"user_id"`
	IncidentID string    `json:"incident_id"`
	MachineID  string    `json:"machine_id,omitempty"`
	ActionID   string    `json:"action_id,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// BlastRadiusRecord is one declaration-vs-resolution check for an action.
type BlastRadiusRecord struct {
	RecordID         string     `json:"record_id"`
	ActionID         string     `json:"action_id"`
	Scope            BlastScope `json:"blast_scope"`
	DeclaredCount    int        `json:"declared_target_count"`
	ResolvedCount    int        `json:"resolved_target_count"`
	ExpectedImpact   Impact     `json:"expected_impact"`
	ApprovalRequired bool       `json:"approval_required"`
	Valid            bool       `json:"valid"`
	RejectReason     string     `json:"reject_reason,omitempty"`
	CheckedAt        time.Time  `json:"checked_at"`
}

// AttestationStatus is the dual sign-off state.
type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "PENDING"
	AttestationComplete AttestationStatus = "COMPLETE"
)

// IncidentAttestation is the mandatory dual sign-off tied 1:1 to a
// destructive ResponseAction. Statements, once recorded, are immutable.
type IncidentAttestation struct {
	AttestationID     string            `json:"attestation_id"`
	IncidentID        string            `json:"incident_id"`
	ActionID          string            `json:"action_id"`
	ExecutorID        string            `json:"executor_user_id"`
	ExecutorRole      string            `json:"executor_role"`
	ExecutorStatement string            `json:"executor_statement,omitempty"`
	ExecutorSignedAt  *time.Time        `json:"executor_signed_at,omitempty"`
	ApproverID        string            `json:"approver_user_id,omitempty"`
	ApproverRole      string            `json:"approver_role,omitempty"`
	ApproverStatement string            `json:"approver_statement,omitempty"`
	ApproverSignedAt  *time.Time        `json:"approver_signed_at,omitempty"`
	Status            AttestationStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
}

// ExecutionModeRecord is one row of the append-only mode history. At most one
// record is active at any time.
type ExecutionModeRecord struct {
	ModeID        string    `json:"mode_id"`
	Mode          Mode      `json:"mode"`
	Active        bool      `json:"active"`
	ChangedBy     string    `json:"changed_by"`
	Reason        string    `json:"reason"`
	LedgerEntryID string    `json:"ledger_entry_id"`
	ChangedAt     time.Time `json:"changed_at"`
}

// IncidentStatus is the freeze-relevant incident state.
type IncidentStatus string

const (
	IncidentOpen            IncidentStatus = "OPEN"
	IncidentInProgress      IncidentStatus = "IN_PROGRESS"
	IncidentClosed          IncidentStatus = "CLOSED"
	IncidentResolvedActions IncidentStatus = "RESOLVED_WITH_ACTIONS"
)

// Frozen reports whether the status blocks new (non-rollback) actions.
func (s IncidentStatus) Frozen() bool {
	return s == IncidentClosed || s == IncidentResolvedActions
}

// Incident is the engine's view of an incident's execution state.
type Incident struct {
	IncidentID    string         `json:"incident_id"`
	Status        IncidentStatus `json:"status"`
	ReopenedBy    string         `json:"reopened_by,omitempty"`
	ReopenedAt    *time.Time     `json:"reopened_at,omitempty"`
	Justification string         `json:"reopen_justification,omitempty"`
}

// ApprovalStatus mirrors the authority collaborator's approval lifecycle.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

// AuthorityApproval is the engine's read-only view of an approval issued by
// the authority collaborator. An approval satisfies at most one action.
type AuthorityApproval struct {
	ApprovalID   string         `json:"approval_id"`
	Status       ApprovalStatus `json:"status"`
	ApproverID   string         `json:"approver_user_id"`
	ApproverRole string         `json:"approver_role"`
	Scope        BlastScope     `json:"scope"`
	SubjectID    string         `json:"subject_id"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// SuperAdminRole is the highest privilege role. Mode changes, incident
// reopens, and emergency overrides require it.
const SuperAdminRole = "SUPER_ADMIN"

// Caller identifies who is driving a pipeline invocation.
type Caller struct {
	UserID string
	Role   string
}
