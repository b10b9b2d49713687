package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/audit"
	"threat-response-engine/internal/monitor"
)

// Hard quota ceilings. These are compile-time constants, never configuration;
// no code path may raise them.
const (
	CeilingPerUserPerMinute     = 10
	CeilingPerIncidentTotal     = 25
	CeilingPerHostPer10Minutes  = 5
	CeilingEmergencyPerIncident = 2
)

// QuotaCheck is one rate-limit evaluation request.
type QuotaCheck struct {
	UserID     string
	IncidentID string
	MachineID  string
	ActionID   string
	Emergency  bool
}

// RateLimitDenied reports which ceiling a denied call hit.
type RateLimitDenied struct {
	Limit   LimitType
	Current int
	Ceiling int
}

func (e *RateLimitDenied) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s current=%d ceiling=%d", e.Limit, e.Current, e.Ceiling)
}

func (e *RateLimitDenied) Unwrap() error { return ErrRateLimited }

// QuotaStore atomically counts the windows relevant to a check and persists
// the RateLimitRecord observation. The count and the observation insert must
// happen in one transaction against the durable store so concurrent callers
// cannot both observe "under ceiling" and both proceed.
type QuotaStore interface {
	ConsumeQuota(ctx context.Context, check QuotaCheck) (*RateLimitDenied, error)
}

// RateLimiter enforces the four fixed ceilings. A denial is terminal for the
// call: no retry, no backoff.
type RateLimiter struct {
	store    QuotaStore
	recorder Recorder
	metrics  *monitor.Metrics
}

// NewRateLimiter creates a RateLimiter over a durable quota store.
func NewRateLimiter(store QuotaStore, recorder Recorder, metrics *monitor.Metrics) *RateLimiter {
	return &RateLimiter{store: store, recorder: recorder, metrics: metrics}
}

// CheckAndConsume evaluates and consumes quota for one call. On denial it
// records the audit event and returns the denial; the caller must not
// execute.
func (rl *RateLimiter) CheckAndConsume(ctx context.Context, caller Caller, check QuotaCheck) error {
	denied, err := rl.store.ConsumeQuota(ctx, check)
	if err != nil {
		return fmt.Errorf("consuming quota: %w", err)
	}
	if denied == nil {
		return nil
	}
	rl.metrics.RateLimitHits.WithLabelValues(string(denied.Limit)).Inc()

	event := audit.EventRateLimitHit
	if denied.Limit == LimitEmergencyOverride {
		event = audit.EventEmergencyLimitHit
	}
	entry := audit.NewEntry(event, "DENY")
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.IncidentID = check.IncidentID
	entry.ActionID = check.ActionID
	entry.Reason = denied.Error()
	entry.Payload = map[string]any{
		"limit_type": string(denied.Limit),
		"current":    denied.Current,
		"ceiling":    denied.Ceiling,
		"machine_id": check.MachineID,
	}
	if err := rl.recorder.Record(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	log.Warn().
		Str("user_id", caller.UserID).
		Str("incident_id", check.IncidentID).
		Str("limit_type", string(denied.Limit)).
		Int("current", denied.Current).
		Int("ceiling", denied.Ceiling).
		Msg("rate limit hit")

	return &GateError{Gate: "rate_limit", ActionID: check.ActionID, Err: denied}
}
