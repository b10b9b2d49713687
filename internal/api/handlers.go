package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/engine"
)

// HostRegistry maintains the host inventory that blast-radius resolution
// reads.
type HostRegistry interface {
	RegisterHost(ctx context.Context, machineID, hostname, ipAddress, groupID string) error
}

type Handlers struct {
	pipeline *engine.Pipeline
	rollback *engine.RollbackManager
	modes    *engine.ModeManager
	freeze   *engine.FreezeGuard
	attest   *engine.AttestationTracker
	actions  engine.ActionStore
	hosts    HostRegistry
}

func NewHandlers(pipeline *engine.Pipeline, rollback *engine.RollbackManager, modes *engine.ModeManager,
	freeze *engine.FreezeGuard, attest *engine.AttestationTracker, actions engine.ActionStore,
	hosts HostRegistry) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		rollback: rollback,
		modes:    modes,
		freeze:   freeze,
		attest:   attest,
		actions:  actions,
		hosts:    hosts,
	}
}

func (h *Handlers) HandleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req ExecuteActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	scope, err := engine.ParseBlastScope(req.Blast.Scope)
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	impact, err := engine.ParseImpact(req.Blast.ExpectedImpact)
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	action, err := h.pipeline.Execute(r.Context(), CallerFromContext(r.Context()), engine.ExecuteRequest{
		Decision: engine.PolicyDecision{
			DecisionID:        req.Decision.DecisionID,
			IncidentID:        req.Decision.IncidentID,
			MachineID:         req.Decision.MachineID,
			RecommendedAction: req.Decision.RecommendedAction,
			ShouldRecommend:   req.Decision.ShouldRecommend,
			PolicySignature:   req.Decision.PolicySignature,
		},
		Scope: scope,
		Target: engine.TargetDescriptor{
			MachineID:   req.Blast.MachineID,
			GroupID:     req.Blast.GroupID,
			NetworkCIDR: req.Blast.NetworkCIDR,
		},
		DeclaredCount: req.Blast.DeclaredCount,
		Impact:        impact,
		ApprovalID:    req.ApprovalID,
		Emergency:     req.Emergency,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ActionResponse{Action: action})
}

func (h *Handlers) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "action ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	action, err := h.actions.GetAction(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Action: action})
}

func (h *Handlers) HandleListIncidentActions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "incident ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	actions, err := h.actions.ListActionsByIncident(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (h *Handlers) HandleRollbackAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "action ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var req RollbackActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	rec, err := h.rollback.Rollback(r.Context(), CallerFromContext(r.Context()), engine.RollbackRequest{
		ActionID:   id,
		Reason:     engine.RollbackReason(req.Reason),
		Type:       engine.RollbackType(req.Type),
		ApprovalID: req.ApprovalID,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RollbackResponse{Rollback: rec})
}

func (h *Handlers) HandleGetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := h.modes.Current(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ModeResponse{Mode: string(mode)})
}

func (h *Handlers) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	mode, err := engine.ParseMode(req.Mode)
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	rec, err := h.modes.Set(r.Context(), CallerFromContext(r.Context()), mode, req.Reason)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ModeResponse{
		Mode:      string(rec.Mode),
		ChangedBy: rec.ChangedBy,
		Reason:    rec.Reason,
		ChangedAt: rec.ChangedAt.Format(time.RFC3339),
	})
}

func (h *Handlers) HandleModeHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.modes.History(r.Context(), 100)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handlers) HandleReopenIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "incident ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var req ReopenIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if err := h.freeze.Reopen(r.Context(), CallerFromContext(r.Context()), id, req.Justification); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reopened", "incident_id": id})
}

func (h *Handlers) HandleCloseIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "incident ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var req CloseIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	status := engine.IncidentStatus(req.Status)
	if !status.Frozen() {
		writeError(w, "status must be CLOSED or RESOLVED_WITH_ACTIONS", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if err := h.freeze.Close(r.Context(), CallerFromContext(r.Context()), id, status); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status), "incident_id": id})
}

// HandleRegisterHost adds or refreshes one host inventory row. Inventory
// changes widen or narrow every future blast-radius resolution, so this is
// restricted to SUPER_ADMIN.
func (h *Handlers) HandleRegisterHost(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "machine ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	caller := CallerFromContext(r.Context())
	if caller.Role != engine.SuperAdminRole {
		writeError(w, "host registration requires "+engine.SuperAdminRole, "PRIVILEGE_REQUIRED", http.StatusForbidden, r)
		return
	}

	var req RegisterHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if err := h.hosts.RegisterHost(r.Context(), id, req.Hostname, req.IPAddress, req.GroupID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "machine_id": id})
}

func (h *Handlers) HandleExecutorStatement(w http.ResponseWriter, r *http.Request) {
	h.handleStatement(w, r, h.attest.SubmitExecutorStatement)
}

func (h *Handlers) HandleApproverStatement(w http.ResponseWriter, r *http.Request) {
	h.handleStatement(w, r, h.attest.SubmitApproverStatement)
}

func (h *Handlers) handleStatement(w http.ResponseWriter, r *http.Request,
	submit func(ctx context.Context, attestationID, userID, statement string) (*engine.IncidentAttestation, error)) {

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "attestation ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var req StatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	caller := CallerFromContext(r.Context())
	a, err := submit(r.Context(), id, caller.UserID, req.Statement)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// writeEngineError maps engine sentinel errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidDecision), errors.Is(err, engine.ErrUnknownCommand):
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
	case errors.Is(err, engine.ErrRateLimited):
		writeError(w, err.Error(), "RATE_LIMITED", http.StatusTooManyRequests, r)
	case errors.Is(err, engine.ErrBlastRadius):
		writeError(w, err.Error(), "BLAST_RADIUS_REJECTED", http.StatusForbidden, r)
	case errors.Is(err, engine.ErrAuthorityDenied):
		writeError(w, err.Error(), "AUTHORITY_DENIED", http.StatusForbidden, r)
	case errors.Is(err, engine.ErrPrivilegeRequired):
		writeError(w, err.Error(), "PRIVILEGE_REQUIRED", http.StatusForbidden, r)
	case errors.Is(err, engine.ErrModeBlocked):
		writeError(w, err.Error(), "MODE_BLOCKED", http.StatusConflict, r)
	case errors.Is(err, engine.ErrIncidentFrozen):
		writeError(w, err.Error(), "INCIDENT_FROZEN", http.StatusConflict, r)
	case errors.Is(err, engine.ErrNotRollbackCapable),
		errors.Is(err, engine.ErrAlreadyRolledBack),
		errors.Is(err, engine.ErrRollbackIneligible),
		errors.Is(err, engine.ErrAttestationPending),
		errors.Is(err, engine.ErrIllegalTransition):
		writeError(w, err.Error(), "CONFLICT", http.StatusConflict, r)
	case errors.Is(err, engine.ErrIncidentNotFound), errors.Is(err, engine.ErrActionNotFound):
		writeError(w, err.Error(), "NOT_FOUND", http.StatusNotFound, r)
	case errors.Is(err, engine.ErrDispatchFailed):
		writeError(w, err.Error(), "DISPATCH_FAILED", http.StatusBadGateway, r)
	case errors.Is(err, engine.ErrAuditUnavailable):
		writeError(w, err.Error(), "AUDIT_UNAVAILABLE", http.StatusServiceUnavailable, r)
	default:
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("request failed")
		writeError(w, err.Error(), "INTERNAL", http.StatusInternalServerError, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
