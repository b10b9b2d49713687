package audit

import "time"

// EventType enumerates the decision points the engine reports to the ledger.
type EventType string

const (
	EventActionRequested   EventType = "ACTION_REQUESTED"
	EventActionApproved    EventType = "ACTION_APPROVED"
	EventActionExecuted    EventType = "ACTION_EXECUTED"
	EventActionFailed      EventType = "ACTION_FAILED"
	EventActionSimulated   EventType = "ACTION_SIMULATED"
	EventActionRolledBack  EventType = "ACTION_ROLLED_BACK"
	EventRateLimitHit      EventType = "ACTION_RATE_LIMIT_HIT"
	EventEmergencyLimitHit EventType = "EMERGENCY_LIMIT_HIT"
	EventBlastRejected     EventType = "BLAST_RADIUS_REJECTED"
	EventAuthorityDenied   EventType = "AUTHORITY_DENIED"
	EventIncidentFrozen    EventType = "INCIDENT_FROZEN"
	EventIncidentReopened  EventType = "INCIDENT_REOPENED"
	EventIncidentClosed    EventType = "INCIDENT_CLOSED"
	EventAttested          EventType = "POST_INCIDENT_ATTESTED"
	EventModeChanged       EventType = "MODE_CHANGED"
)

// Entry is one append-only ledger entry. Every entry carries the actor, the
// incident, the decision, and an RFC3339 UTC timestamp.
type Entry struct {
	EntryID    string         `json:"entry_id"`
	Event      EventType      `json:"event"`
	UserID     string         `json:"user_id"`
	Role       string         `json:"role"`
	IncidentID string         `json:"incident_id"`
	ActionID   string         `json:"action_id,omitempty"`
	Decision   string         `json:"decision"` // ALLOW or DENY
	Reason     string         `json:"reason,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// NewEntry stamps an entry with the current UTC time.
func NewEntry(event EventType, decision string) Entry {
	return Entry{
		Event:     event,
		Decision:  decision,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
