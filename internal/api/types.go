package api

import "threat-response-engine/internal/engine"

// ExecuteActionRequest submits one policy decision for gated execution.
type ExecuteActionRequest struct {
	Decision   PolicyDecision `json:"policy_decision"`
	Blast      BlastDecl      `json:"blast"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Emergency  bool           `json:"emergency,omitempty"`
}

// PolicyDecision mirrors the policy engine's output on the wire.
type PolicyDecision struct {
	DecisionID        string `json:"policy_decision_id"`
	IncidentID        string `json:"incident_id"`
	MachineID         string `json:"machine_id"`
	RecommendedAction string `json:"recommended_action"`
	ShouldRecommend   bool   `json:"should_recommend_action"`
	PolicySignature   string `json:"policy_signature,omitempty"`
}

// BlastDecl is the caller's blast radius declaration.
type BlastDecl struct {
	Scope          string `json:"scope"`
	MachineID      string `json:"machine_id,omitempty"`
	GroupID        string `json:"group_id,omitempty"`
	NetworkCIDR    string `json:"network_cidr,omitempty"`
	DeclaredCount  int    `json:"declared_target_count"`
	ExpectedImpact string `json:"expected_impact"`
}

// RollbackActionRequest asks for the reversal of one prior action.
type RollbackActionRequest struct {
	Reason     string `json:"reason"`
	Type       string `json:"type"`
	ApprovalID string `json:"approval_id,omitempty"`
}

// ModeChangeRequest switches the engine-wide execution mode.
type ModeChangeRequest struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// ModeResponse reports the active execution mode.
type ModeResponse struct {
	Mode      string `json:"mode"`
	ChangedBy string `json:"changed_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ChangedAt string `json:"changed_at,omitempty"`
}

// ReopenIncidentRequest restores action capability on a frozen incident.
type ReopenIncidentRequest struct {
	Justification string `json:"justification"`
}

// CloseIncidentRequest freezes an incident in a terminal status.
type CloseIncidentRequest struct {
	Status string `json:"status"` // CLOSED or RESOLVED_WITH_ACTIONS
}

// RegisterHostRequest adds or refreshes one host inventory row.
type RegisterHostRequest struct {
	Hostname  string `json:"hostname,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
}

// StatementRequest submits one attestation statement.
type StatementRequest struct {
	Statement string `json:"statement"`
}

// ActionResponse is the API view of a response action.
type ActionResponse struct {
	Action *engine.ResponseAction `json:"action"`
}

// RollbackResponse is the API view of a rollback record.
type RollbackResponse struct {
	Rollback *engine.RollbackRecord `json:"rollback"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}
