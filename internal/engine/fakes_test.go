package engine

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"threat-response-engine/internal/audit"
	"threat-response-engine/internal/signing"
)

// In-memory collaborators shared by the engine tests.

func newTestSigner() *signing.Signer {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return signing.NewSigner(&signing.KeyPair{Private: priv, Public: pub, KeyID: "test-key"})
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	fail    bool
}

func (r *memRecorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("ledger unreachable")
	}
	if e.EntryID == "" {
		e.EntryID = fmt.Sprintf("entry-%d", len(r.entries)+1)
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *memRecorder) byEvent(event audit.EventType) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type memQuota struct {
	mu     sync.Mutex
	denied *RateLimitDenied
	err    error
	calls  int
}

func (q *memQuota) ConsumeQuota(_ context.Context, _ QuotaCheck) (*RateLimitDenied, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return q.denied, q.err
}

type memBlastStore struct {
	mu   sync.Mutex
	recs []BlastRadiusRecord
}

func (s *memBlastStore) InsertBlastRadiusRecord(_ context.Context, rec BlastRadiusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

type fakeResolver struct {
	targets []string
	err     error
	calls   int
}

func (r *fakeResolver) ResolveTargets(_ context.Context, _ BlastScope, _ TargetDescriptor) ([]string, error) {
	r.calls++
	return r.targets, r.err
}

type fakeAuthorityClient struct {
	approvals map[string]*AuthorityApproval
}

func (c *fakeAuthorityClient) GetApproval(_ context.Context, id string) (*AuthorityApproval, error) {
	if a, ok := c.approvals[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("approval %s not found", id)
}

type memApprovalStore struct {
	mu       sync.Mutex
	consumed map[string]string
}

func newMemApprovalStore() *memApprovalStore {
	return &memApprovalStore{consumed: make(map[string]string)}
}

func (s *memApprovalStore) ConsumeApproval(_ context.Context, approvalID, actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.consumed[approvalID]; ok {
		return fmt.Errorf("%w: already bound to action %s", ErrApprovalConsumed, prev)
	}
	s.consumed[approvalID] = actionID
	return nil
}

type memIncidentStore struct {
	mu        sync.Mutex
	incidents map[string]*Incident
}

func newMemIncidentStore(incs ...*Incident) *memIncidentStore {
	s := &memIncidentStore{incidents: make(map[string]*Incident)}
	for _, inc := range incs {
		s.incidents[inc.IncidentID] = inc
	}
	return s
}

func (s *memIncidentStore) UpsertIncident(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[id]; !ok {
		s.incidents[id] = &Incident{IncidentID: id, Status: IncidentOpen}
	}
	return nil
}

func (s *memIncidentStore) GetIncident(_ context.Context, id string) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	cp := *inc
	return &cp, nil
}

func (s *memIncidentStore) ReopenIncident(_ context.Context, id, userID, justification string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	now := time.Now().UTC()
	inc.Status = IncidentOpen
	inc.ReopenedBy = userID
	inc.ReopenedAt = &now
	inc.Justification = justification
	return nil
}

func (s *memIncidentStore) CloseIncident(_ context.Context, id string, status IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	inc.Status = status
	return nil
}

type memAttestStore struct {
	mu           sync.Mutex
	attestations map[string]*IncidentAttestation
}

func newMemAttestStore() *memAttestStore {
	return &memAttestStore{attestations: make(map[string]*IncidentAttestation)}
}

func (s *memAttestStore) InsertAttestation(_ context.Context, a IncidentAttestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attestations[a.AttestationID]; ok {
		return fmt.Errorf("attestation %s exists", a.AttestationID)
	}
	cp := a
	s.attestations[a.AttestationID] = &cp
	return nil
}

func (s *memAttestStore) GetAttestation(_ context.Context, id string) (*IncidentAttestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attestations[id]
	if !ok {
		return nil, fmt.Errorf("attestation %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *memAttestStore) SetExecutorStatement(_ context.Context, id, userID, statement string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attestations[id]
	if !ok || a.ExecutorStatement != "" || a.Status != AttestationPending || a.ExecutorID != userID {
		return fmt.Errorf("executor statement slot on %s is not writable", id)
	}
	a.ExecutorStatement = statement
	a.ExecutorSignedAt = &at
	return nil
}

func (s *memAttestStore) SetApproverStatement(_ context.Context, id, userID, statement string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attestations[id]
	if !ok || a.ApproverStatement != "" || a.Status != AttestationPending || a.ExecutorID == userID {
		return fmt.Errorf("approver statement slot on %s is not writable", id)
	}
	if a.ApproverID != "" && a.ApproverID != userID {
		return fmt.Errorf("approver statement slot on %s is not writable", id)
	}
	a.ApproverID = userID
	a.ApproverStatement = statement
	a.ApproverSignedAt = &at
	return nil
}

func (s *memAttestStore) MarkAttestationComplete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attestations[id]
	if !ok || a.Status != AttestationPending || a.ExecutorStatement == "" || a.ApproverStatement == "" {
		return fmt.Errorf("attestation %s is not ready for completion", id)
	}
	a.Status = AttestationComplete
	return nil
}

func (s *memAttestStore) CountIncompleteAttestations(_ context.Context, incidentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attestations {
		if a.IncidentID == incidentID && a.Status != AttestationComplete {
			n++
		}
	}
	return n, nil
}

type memActionStore struct {
	mu      sync.Mutex
	actions map[string]*ResponseAction
}

func newMemActionStore() *memActionStore {
	return &memActionStore{actions: make(map[string]*ResponseAction)}
}

func (s *memActionStore) InsertAction(_ context.Context, a ResponseAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.ActionID]; ok {
		return fmt.Errorf("action %s exists", a.ActionID)
	}
	cp := a
	s.actions[a.ActionID] = &cp
	return nil
}

func (s *memActionStore) GetAction(_ context.Context, id string) (*ResponseAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *memActionStore) UpdateActionStatus(_ context.Context, id string, from, to ExecutionStatus, executedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if a.ExecutionStatus != from {
		return fmt.Errorf("%w: action %s is not %s", ErrIllegalTransition, id, from)
	}
	a.ExecutionStatus = to
	if executedAt != nil {
		a.ExecutedAt = executedAt
	}
	return nil
}

func (s *memActionStore) LinkRollback(_ context.Context, id, rollbackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if a.ExecutionStatus != StatusSucceeded {
		return fmt.Errorf("%w: action %s", ErrAlreadyRolledBack, id)
	}
	a.ExecutionStatus = StatusRolledBack
	a.RollbackID = rollbackID
	return nil
}

func (s *memActionStore) ListActionsByIncident(_ context.Context, incidentID string) ([]ResponseAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ResponseAction
	for _, a := range s.actions {
		if a.IncidentID == incidentID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type memRollbackStore struct {
	mu   sync.Mutex
	recs []RollbackRecord
}

func (s *memRollbackStore) InsertRollbackRecord(_ context.Context, rec RollbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Status == StatusSucceeded {
		for _, r := range s.recs {
			if r.ActionID == rec.ActionID && r.Status == StatusSucceeded {
				return fmt.Errorf("action %s already has a successful rollback", rec.ActionID)
			}
		}
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memRollbackStore) GetRollbackForAction(_ context.Context, actionID string) (*RollbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recs {
		if s.recs[i].ActionID == actionID && s.recs[i].Status == StatusSucceeded {
			cp := s.recs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

type memModeStore struct {
	mu      sync.Mutex
	active  *ExecutionModeRecord
	history []ExecutionModeRecord
}

func (s *memModeStore) ActiveMode(_ context.Context) (*ExecutionModeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, nil
	}
	cp := *s.active
	return &cp, nil
}

func (s *memModeStore) SupersedeMode(_ context.Context, rec ExecutionModeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.Active = false
	}
	s.active = &rec
	s.history = append([]ExecutionModeRecord{rec}, s.history...)
	return nil
}

func (s *memModeStore) ModeHistory(_ context.Context, limit int) ([]ExecutionModeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && len(s.history) > limit {
		return s.history[:limit], nil
	}
	return s.history, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	err   error
	calls int
	last  signing.SignedCommand
}

func (d *fakeDispatcher) Dispatch(_ context.Context, cmd signing.SignedCommand, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.last = cmd
	return d.err
}
