package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threat-response-engine/internal/engine"
)

// InsertAction inserts one response action row.
func (db *DB) InsertAction(ctx context.Context, a engine.ResponseAction) error {
	query := `
		INSERT INTO response_actions (action_id, policy_decision_id, incident_id, machine_id,
			command_type, command_payload, command_signature, signing_key_id,
			required_authority, approval_id, execution_status, executed_at, executed_by,
			rollback_capable, rollback_id, ledger_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := db.pool.Exec(ctx, query,
		a.ActionID, a.PolicyDecisionID, a.IncidentID, a.MachineID,
		string(a.CommandType), a.CommandPayload, a.CommandSignature, a.SigningKeyID,
		string(a.RequiredAuthority), a.ApprovalID, string(a.ExecutionStatus), a.ExecutedAt, a.ExecutedBy,
		a.RollbackCapable, a.RollbackID, a.LedgerEntryID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

// GetAction retrieves a single action by ID.
func (db *DB) GetAction(ctx context.Context, actionID string) (*engine.ResponseAction, error) {
	query := `
		SELECT action_id, policy_decision_id, incident_id, machine_id,
			command_type, command_payload, command_signature, signing_key_id,
			required_authority, approval_id, execution_status, executed_at, executed_by,
			rollback_capable, rollback_id, ledger_entry_id, created_at
		FROM response_actions WHERE action_id = $1`

	a, err := scanAction(db.pool.QueryRow(ctx, query, actionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", engine.ErrActionNotFound, actionID)
		}
		return nil, fmt.Errorf("querying action %s: %w", actionID, err)
	}
	return a, nil
}

// UpdateActionStatus performs one status transition, compare-and-set on the
// current status. The schema trigger independently rejects illegal moves.
func (db *DB) UpdateActionStatus(ctx context.Context, actionID string, from, to engine.ExecutionStatus, executedAt *time.Time) error {
	query := `
		UPDATE response_actions
		SET execution_status = $1, executed_at = COALESCE($2, executed_at)
		WHERE action_id = $3 AND execution_status = $4`

	tag, err := db.pool.Exec(ctx, query, string(to), executedAt, actionID, string(from))
	if err != nil {
		return fmt.Errorf("updating action status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: action %s is not %s", engine.ErrIllegalTransition, actionID, from)
	}
	return nil
}

// LinkRollback flips SUCCEEDED -> ROLLED_BACK and records the rollback id in
// one statement. A second call finds no SUCCEEDED row and fails.
func (db *DB) LinkRollback(ctx context.Context, actionID, rollbackID string) error {
	query := `
		UPDATE response_actions
		SET execution_status = 'ROLLED_BACK', rollback_id = $1
		WHERE action_id = $2 AND execution_status = 'SUCCEEDED'`

	tag, err := db.pool.Exec(ctx, query, rollbackID, actionID)
	if err != nil {
		return fmt.Errorf("linking rollback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: action %s", engine.ErrAlreadyRolledBack, actionID)
	}
	return nil
}

// ListActionsByIncident returns an incident's actions, newest first.
func (db *DB) ListActionsByIncident(ctx context.Context, incidentID string) ([]engine.ResponseAction, error) {
	query := `
		SELECT action_id, policy_decision_id, incident_id, machine_id,
			command_type, command_payload, command_signature, signing_key_id,
			required_authority, approval_id, execution_status, executed_at, executed_by,
			rollback_capable, rollback_id, ledger_entry_id, created_at
		FROM response_actions
		WHERE incident_id = $1
		ORDER BY created_at DESC`

	rows, err := db.pool.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("querying actions for incident %s: %w", incidentID, err)
	}
	defer rows.Close()

	var results []engine.ResponseAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action row: %w", err)
		}
		results = append(results, *a)
	}
	return results, rows.Err()
}

func scanAction(row pgx.Row) (*engine.ResponseAction, error) {
	var a engine.ResponseAction
	var commandType, authority, status string
	err := row.Scan(
		&a.ActionID, &a.PolicyDecisionID, &a.IncidentID, &a.MachineID,
		&commandType, &a.CommandPayload, &a.CommandSignature, &a.SigningKeyID,
		&authority, &a.ApprovalID, &status, &a.ExecutedAt, &a.ExecutedBy,
		&a.RollbackCapable, &a.RollbackID, &a.LedgerEntryID, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CommandType = engine.CommandType(commandType)
	a.RequiredAuthority = engine.AuthorityLevel(authority)
	a.ExecutionStatus = engine.ExecutionStatus(status)
	return &a, nil
}
