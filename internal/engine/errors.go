package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrUnknownCommand     = errors.New("unknown command type")
	ErrInvalidDecision    = errors.New("invalid policy decision")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrBlastRadius        = errors.New("blast radius rejected")
	ErrAuthorityDenied    = errors.New("authority check failed")
	ErrModeBlocked        = errors.New("blocked by execution mode")
	ErrIncidentFrozen     = errors.New("incident frozen")
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrActionNotFound     = errors.New("action not found")
	ErrDispatchFailed     = errors.New("command dispatch failed")
	ErrNotRollbackCapable = errors.New("action is not rollback-capable")
	ErrAlreadyRolledBack  = errors.New("action already rolled back")
	ErrRollbackIneligible = errors.New("action is not eligible for rollback")
	ErrAttestationPending = errors.New("incident has pending attestations")
	ErrAuditUnavailable   = errors.New("audit ledger write failed")
	ErrPrivilegeRequired  = errors.New("highest privilege role required")
	ErrIllegalTransition  = errors.New("illegal execution status transition")
	ErrApprovalConsumed   = errors.New("approval already consumed")
)

// GateError wraps a gate denial with the pipeline stage and action context.
type GateError struct {
	Gate     string // rate_limit, blast_radius, authority, incident_freeze
	ActionID string
	Err      error
}

func (e *GateError) Error() string {
	if e.ActionID != "" {
		return fmt.Sprintf("gate %s denied action %s: %s", e.Gate, e.ActionID, e.Err)
	}
	return fmt.Sprintf("gate %s denied: %s", e.Gate, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}
