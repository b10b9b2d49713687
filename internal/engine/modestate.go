package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"threat-response-engine/internal/audit"
)

// ModeStore persists the append-only execution mode history. At most one
// record is active; SupersedeMode deactivates the current record and inserts
// the new one in a single transaction.
type ModeStore interface {
	ActiveMode(ctx context.Context) (*ExecutionModeRecord, error)
	SupersedeMode(ctx context.Context, rec ExecutionModeRecord) error
	ModeHistory(ctx context.Context, limit int) ([]ExecutionModeRecord, error)
}

// ModeManager owns the engine-wide enforcement posture. Reads fall back to
// DRY_RUN when no mode was ever recorded: the engine defaults to the most
// conservative posture, never the most permissive.
type ModeManager struct {
	store    ModeStore
	recorder Recorder
	now      func() time.Time
}

// NewModeManager creates the manager.
func NewModeManager(store ModeStore, recorder Recorder) *ModeManager {
	return &ModeManager{store: store, recorder: recorder, now: time.Now}
}

// Current returns the active execution mode, defaulting to DRY_RUN.
func (m *ModeManager) Current(ctx context.Context) (Mode, error) {
	rec, err := m.store.ActiveMode(ctx)
	if err != nil {
		return "", fmt.Errorf("loading active mode: %w", err)
	}
	if rec == nil {
		return ModeDryRun, nil
	}
	return rec.Mode, nil
}

// Set changes the active mode. Only the highest privilege role may change it,
// a reason is mandatory, and the audit entry is written before the change
// takes effect.
func (m *ModeManager) Set(ctx context.Context, caller Caller, mode Mode, reason string) (*ExecutionModeRecord, error) {
	if caller.Role != SuperAdminRole {
		return nil, fmt.Errorf("%w: mode change requires %s", ErrPrivilegeRequired, SuperAdminRole)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("mode change requires a non-empty reason")
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}

	entry := audit.NewEntry(audit.EventModeChanged, "ALLOW")
	entry.EntryID = uuid.New().String()
	entry.UserID = caller.UserID
	entry.Role = caller.Role
	entry.Reason = reason
	entry.Payload = map[string]any{
		"from": string(current),
		"to":   string(mode),
	}
	if err := m.recorder.Record(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	rec := ExecutionModeRecord{
		ModeID:        uuid.New().String(),
		Mode:          mode,
		Active:        true,
		ChangedBy:     caller.UserID,
		Reason:        reason,
		LedgerEntryID: entry.EntryID,
		ChangedAt:     m.now().UTC(),
	}
	if err := m.store.SupersedeMode(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording mode change: %w", err)
	}

	log.Info().
		Str("from", string(current)).
		Str("to", string(mode)).
		Str("changed_by", caller.UserID).
		Msg("execution mode changed")
	return &rec, nil
}

// History returns the most recent mode changes, newest first.
func (m *ModeManager) History(ctx context.Context, limit int) ([]ExecutionModeRecord, error) {
	recs, err := m.store.ModeHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("loading mode history: %w", err)
	}
	return recs, nil
}
