package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"threat-response-engine/internal/monitor"
	"threat-response-engine/internal/signing"
)

// Dispatcher sends one signed command to the target agent. Implementations
// make exactly one attempt; any retry policy is a new, separately authorized
// action at the caller level.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd signing.SignedCommand, machineID string) error
}

// agentResponse is the agent's execution outcome report.
type agentResponse struct {
	Status string `json:"status"` // SUCCEEDED or FAILED
	Detail string `json:"detail,omitempty"`
}

// AgentDispatcher posts signed commands to the agent command endpoint. The
// agent verifies the signature independently before executing.
type AgentDispatcher struct {
	endpoint string
	client   *http.Client
	tracer   *monitor.Tracer
}

// NewAgentDispatcher creates the dispatcher. The timeout bounds the single
// attempt; a timeout is treated identically to an explicit failure.
func NewAgentDispatcher(endpoint string, timeout time.Duration, tracer *monitor.Tracer) *AgentDispatcher {
	return &AgentDispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		tracer:   tracer,
	}
}

// Dispatch makes the one and only delivery attempt. There is no retry loop
// anywhere beneath this call.
func (d *AgentDispatcher) Dispatch(ctx context.Context, cmd signing.SignedCommand, machineID string) error {
	ctx, span := d.tracer.StartSpan(ctx, "dispatch",
		monitor.AttrCommandID.String(cmd.Payload.CommandID),
		monitor.AttrCommandType.String(cmd.Payload.CommandType),
		monitor.AttrMachineID.String(machineID),
	)
	defer span.End()

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding signed command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, fmt.Sprintf("agent returned %d", resp.StatusCode))
		return fmt.Errorf("%w: agent endpoint returned %d", ErrDispatchFailed, resp.StatusCode)
	}

	var out agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: decoding agent response: %v", ErrDispatchFailed, err)
	}
	if out.Status != "SUCCEEDED" {
		span.SetStatus(codes.Error, out.Detail)
		return fmt.Errorf("%w: agent reported %s: %s", ErrDispatchFailed, out.Status, out.Detail)
	}

	log.Info().
		Str("command_id", cmd.Payload.CommandID).
		Str("command_type", cmd.Payload.CommandType).
		Str("machine_id", machineID).
		Msg("command dispatched")
	return nil
}
