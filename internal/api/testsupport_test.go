package api

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"threat-response-engine/internal/audit"
	"threat-response-engine/internal/config"
	"threat-response-engine/internal/engine"
	"threat-response-engine/internal/monitor"
	"threat-response-engine/internal/signing"
)

// Minimal in-memory collaborators to run the full handler stack without a
// database or bus.

type stubRecorder struct{ entries []audit.Entry }

func (r *stubRecorder) Record(_ context.Context, e audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

type stubQuota struct{}

func (stubQuota) ConsumeQuota(context.Context, engine.QuotaCheck) (*engine.RateLimitDenied, error) {
	return nil, nil
}

type stubBlastStore struct{}

func (stubBlastStore) InsertBlastRadiusRecord(context.Context, engine.BlastRadiusRecord) error {
	return nil
}

type stubResolver struct{ targets []string }

func (r stubResolver) ResolveTargets(context.Context, engine.BlastScope, engine.TargetDescriptor) ([]string, error) {
	return r.targets, nil
}

type stubAuthClient struct{ approvals map[string]*engine.AuthorityApproval }

func (c stubAuthClient) GetApproval(_ context.Context, id string) (*engine.AuthorityApproval, error) {
	if a, ok := c.approvals[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("approval %s not found", id)
}

type stubApprovalStore struct{ consumed map[string]string }

func (s *stubApprovalStore) ConsumeApproval(_ context.Context, approvalID, actionID string) error {
	if _, ok := s.consumed[approvalID]; ok {
		return fmt.Errorf("%w: %s", engine.ErrApprovalConsumed, approvalID)
	}
	s.consumed[approvalID] = actionID
	return nil
}

type stubIncidentStore struct{ incidents map[string]*engine.Incident }

func (s *stubIncidentStore) UpsertIncident(_ context.Context, id string) error {
	if _, ok := s.incidents[id]; !ok {
		s.incidents[id] = &engine.Incident{IncidentID: id, Status: engine.IncidentOpen}
	}
	return nil
}

func (s *stubIncidentStore) GetIncident(_ context.Context, id string) (*engine.Incident, error) {
	if inc, ok := s.incidents[id]; ok {
		cp := *inc
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: %s", engine.ErrIncidentNotFound, id)
}

func (s *stubIncidentStore) ReopenIncident(_ context.Context, id, userID, justification string) error {
	inc, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrIncidentNotFound, id)
	}
	inc.Status = engine.IncidentOpen
	inc.ReopenedBy = userID
	inc.Justification = justification
	return nil
}

func (s *stubIncidentStore) CloseIncident(_ context.Context, id string, status engine.IncidentStatus) error {
	inc, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrIncidentNotFound, id)
	}
	inc.Status = status
	return nil
}

type stubAttestStore struct{ attestations map[string]*engine.IncidentAttestation }

func (s *stubAttestStore) InsertAttestation(_ context.Context, a engine.IncidentAttestation) error {
	cp := a
	s.attestations[a.AttestationID] = &cp
	return nil
}

func (s *stubAttestStore) GetAttestation(_ context.Context, id string) (*engine.IncidentAttestation, error) {
	if a, ok := s.attestations[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, fmt.Errorf("attestation %s not found", id)
}

func (s *stubAttestStore) SetExecutorStatement(_ context.Context, id, userID, statement string, at time.Time) error {
	a, ok := s.attestations[id]
	if !ok || a.ExecutorStatement != "" || a.ExecutorID != userID {
		return fmt.Errorf("executor statement slot on %s is not writable", id)
	}
	a.ExecutorStatement = statement
	a.ExecutorSignedAt = &at
	return nil
}

func (s *stubAttestStore) SetApproverStatement(_ context.Context, id, userID, statement string, at time.Time) error {
	a, ok := s.attestations[id]
	if !ok || a.ApproverStatement != "" || a.ExecutorID == userID {
		return fmt.Errorf("approver statement slot on %s is not writable", id)
	}
	a.ApproverID = userID
	a.ApproverStatement = statement
	a.ApproverSignedAt = &at
	return nil
}

func (s *stubAttestStore) MarkAttestationComplete(_ context.Context, id string) error {
	a, ok := s.attestations[id]
	if !ok {
		return fmt.Errorf("attestation %s not found", id)
	}
	a.Status = engine.AttestationComplete
	return nil
}

func (s *stubAttestStore) CountIncompleteAttestations(_ context.Context, incidentID string) (int, error) {
	n := 0
	for _, a := range s.attestations {
		if a.IncidentID == incidentID && a.Status != engine.AttestationComplete {
			n++
		}
	}
	return n, nil
}

type stubActionStore struct{ actions map[string]*engine.ResponseAction }

func (s *stubActionStore) InsertAction(_ context.Context, a engine.ResponseAction) error {
	cp := a
	s.actions[a.ActionID] = &cp
	return nil
}

func (s *stubActionStore) GetAction(_ context.Context, id string) (*engine.ResponseAction, error) {
	if a, ok := s.actions[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: %s", engine.ErrActionNotFound, id)
}

func (s *stubActionStore) UpdateActionStatus(_ context.Context, id string, from, to engine.ExecutionStatus, executedAt *time.Time) error {
	a, ok := s.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrActionNotFound, id)
	}
	if a.ExecutionStatus != from {
		return fmt.Errorf("%w: action %s", engine.ErrIllegalTransition, id)
	}
	a.ExecutionStatus = to
	if executedAt != nil {
		a.ExecutedAt = executedAt
	}
	return nil
}

func (s *stubActionStore) LinkRollback(_ context.Context, id, rollbackID string) error {
	a, ok := s.actions[id]
	if !ok || a.ExecutionStatus != engine.StatusSucceeded {
		return fmt.Errorf("%w: action %s", engine.ErrAlreadyRolledBack, id)
	}
	a.ExecutionStatus = engine.StatusRolledBack
	a.RollbackID = rollbackID
	return nil
}

func (s *stubActionStore) ListActionsByIncident(_ context.Context, incidentID string) ([]engine.ResponseAction, error) {
	var out []engine.ResponseAction
	for _, a := range s.actions {
		if a.IncidentID == incidentID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type stubRollbackStore struct{ recs []engine.RollbackRecord }

func (s *stubRollbackStore) InsertRollbackRecord(_ context.Context, rec engine.RollbackRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}

func (s *stubRollbackStore) GetRollbackForAction(context.Context, string) (*engine.RollbackRecord, error) {
	return nil, nil
}

type stubModeStore struct {
	active  *engine.ExecutionModeRecord
	history []engine.ExecutionModeRecord
}

func (s *stubModeStore) ActiveMode(context.Context) (*engine.ExecutionModeRecord, error) {
	if s.active == nil {
		return nil, nil
	}
	cp := *s.active
	return &cp, nil
}

func (s *stubModeStore) SupersedeMode(_ context.Context, rec engine.ExecutionModeRecord) error {
	s.active = &rec
	s.history = append([]engine.ExecutionModeRecord{rec}, s.history...)
	return nil
}

func (s *stubModeStore) ModeHistory(context.Context, int) ([]engine.ExecutionModeRecord, error) {
	return s.history, nil
}

type registeredHost struct {
	Hostname  string
	IPAddress string
	GroupID   string
}

type stubHostRegistry struct{ hosts map[string]registeredHost }

func (s *stubHostRegistry) RegisterHost(_ context.Context, machineID, hostname, ipAddress, groupID string) error {
	s.hosts[machineID] = registeredHost{Hostname: hostname, IPAddress: ipAddress, GroupID: groupID}
	return nil
}

type stubDispatcher struct {
	err   error
	calls int
}

func (d *stubDispatcher) Dispatch(context.Context, signing.SignedCommand, string) error {
	d.calls++
	return d.err
}

// fixture wires the complete API surface over in-memory stores.
type fixture struct {
	srv         *httptest.Server
	incidents   *stubIncidentStore
	actions     *stubActionStore
	attestStore *stubAttestStore
	modeStore   *stubModeStore
	dispatcher  *stubDispatcher
	recorder    *stubRecorder
	hosts       *stubHostRegistry
}

const testAPIKey = "test-key"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	signer := signing.NewSigner(&signing.KeyPair{Private: priv, Public: pub, KeyID: "api-test-key"})

	f := &fixture{
		incidents:   &stubIncidentStore{incidents: map[string]*engine.Incident{"inc-1": {IncidentID: "inc-1", Status: engine.IncidentOpen}}},
		actions:     &stubActionStore{actions: map[string]*engine.ResponseAction{}},
		attestStore: &stubAttestStore{attestations: map[string]*engine.IncidentAttestation{}},
		modeStore:   &stubModeStore{},
		dispatcher:  &stubDispatcher{},
		recorder:    &stubRecorder{},
		hosts:       &stubHostRegistry{hosts: map[string]registeredHost{}},
	}

	attest := engine.NewAttestationTracker(f.attestStore, f.recorder)
	freeze := engine.NewFreezeGuard(f.incidents, attest, f.recorder)
	modes := engine.NewModeManager(f.modeStore, f.recorder)
	authority := engine.NewAuthorityValidator(
		stubAuthClient{approvals: map[string]*engine.AuthorityApproval{}},
		&stubApprovalStore{consumed: map[string]string{}})

	metrics := monitor.NewMetrics()
	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Modes:      modes,
		Limiter:    engine.NewRateLimiter(stubQuota{}, f.recorder, metrics),
		Blast:      engine.NewBlastValidator(stubResolver{targets: []string{"host-1"}}, stubBlastStore{}, f.recorder),
		Authority:  authority,
		Freeze:     freeze,
		Attest:     attest,
		Actions:    f.actions,
		Signer:     signer,
		Dispatcher: f.dispatcher,
		Recorder:   f.recorder,
		Metrics:    metrics,
		Tracer:     monitor.NewTracer(),
	})
	rollback := engine.NewRollbackManager(f.actions, &stubRollbackStore{}, authority, signer,
		f.dispatcher, f.recorder, metrics)

	cfg := config.DefaultConfig()
	cfg.Security.AllowedKeys = []string{testAPIKey}

	handlers := NewHandlers(pipeline, rollback, modes, freeze, attest, f.actions, f.hosts)
	server := NewServer(cfg, handlers, nil, metrics)

	f.srv = httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(f.srv.Close)
	return f
}
