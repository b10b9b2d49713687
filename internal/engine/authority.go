package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// AuthorityClient reads approvals from the human-authority collaborator.
type AuthorityClient interface {
	GetApproval(ctx context.Context, approvalID string) (*AuthorityApproval, error)
}

// ApprovalStore records approval consumption. An approval satisfies exactly
// one action or rollback; the store must reject a second consumption.
type ApprovalStore interface {
	ConsumeApproval(ctx context.Context, approvalID, actionID string) error
}

// AuthorityValidator confirms that a satisfying, unexpired, unconsumed
// approval backs an action that requires one.
type AuthorityValidator struct {
	client AuthorityClient
	store  ApprovalStore
	now    func() time.Time
}

// NewAuthorityValidator creates the validator.
func NewAuthorityValidator(client AuthorityClient, store ApprovalStore) *AuthorityValidator {
	return &AuthorityValidator{client: client, store: store, now: time.Now}
}

// CheckSatisfied verifies the approval against the required level and binds
// it to the action. Level NONE passes without an approval. On success the
// consumed approval is returned so callers know who approved.
func (v *AuthorityValidator) CheckSatisfied(ctx context.Context, level AuthorityLevel, approvalID, actionID string, scope BlastScope) (*AuthorityApproval, error) {
	if level == AuthorityNone {
		return nil, nil
	}
	if approvalID == "" {
		return nil, &GateError{Gate: "authority", ActionID: actionID,
			Err: fmt.Errorf("%w: %s authority required but no approval provided", ErrAuthorityDenied, level)}
	}

	approval, err := v.client.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("fetching approval %s: %w", approvalID, err)
	}

	deny := func(reason string) (*AuthorityApproval, error) {
		return nil, &GateError{Gate: "authority", ActionID: actionID,
			Err: fmt.Errorf("%w: %s", ErrAuthorityDenied, reason)}
	}

	switch approval.Status {
	case ApprovalApproved:
	case ApprovalPending:
		return deny(fmt.Sprintf("approval %s is still pending", approvalID))
	case ApprovalRejected:
		return deny(fmt.Sprintf("approval %s was rejected", approvalID))
	case ApprovalExpired:
		return deny(fmt.Sprintf("approval %s has expired", approvalID))
	default:
		return deny(fmt.Sprintf("approval %s has unknown status %q", approvalID, approval.Status))
	}

	if !approval.ExpiresAt.IsZero() && v.now().After(approval.ExpiresAt) {
		return deny(fmt.Sprintf("approval %s expired at %s", approvalID, approval.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	if level == AuthorityRole && approval.ApproverRole != SuperAdminRole {
		return deny(fmt.Sprintf("approval %s approver role %q is insufficient for ROLE authority",
			approvalID, approval.ApproverRole))
	}
	if approval.Scope != "" && approval.Scope != scope {
		return deny(fmt.Sprintf("approval %s is bound to scope %s, action declares %s",
			approvalID, approval.Scope, scope))
	}

	// Single use: the insert fails if another action already consumed it.
	if err := v.store.ConsumeApproval(ctx, approvalID, actionID); err != nil {
		return nil, &GateError{Gate: "authority", ActionID: actionID,
			Err: fmt.Errorf("%w: %v", ErrAuthorityDenied, err)}
	}
	return approval, nil
}

// HTTPAuthorityClient reads approvals from the authority collaborator's REST
// surface. Single attempt; a timeout is a failure.
type HTTPAuthorityClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAuthorityClient creates the client.
func NewHTTPAuthorityClient(baseURL string, timeout time.Duration) *HTTPAuthorityClient {
	return &HTTPAuthorityClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetApproval fetches one approval by id.
func (c *HTTPAuthorityClient) GetApproval(ctx context.Context, approvalID string) (*AuthorityApproval, error) {
	url := fmt.Sprintf("%s/approvals/%s", c.baseURL, approvalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building approval request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying authority service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("approval %s not found", approvalID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority service returned %d", resp.StatusCode)
	}

	var approval AuthorityApproval
	if err := json.NewDecoder(resp.Body).Decode(&approval); err != nil {
		return nil, fmt.Errorf("decoding approval response: %w", err)
	}
	log.Debug().Str("approval_id", approvalID).Str("status", string(approval.Status)).Msg("fetched approval")
	return &approval, nil
}
