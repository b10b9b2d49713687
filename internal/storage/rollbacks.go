package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"threat-response-engine/internal/engine"
)

// InsertRollbackRecord inserts one rollback attempt, successful or failed.
// The partial unique index rejects a second SUCCEEDED record per action.
func (db *DB) InsertRollbackRecord(ctx context.Context, rec engine.RollbackRecord) error {
	query := `
		INSERT INTO rollback_records (rollback_id, action_id, rollback_reason, rollback_type,
			command_type, rollback_payload, rollback_signature, signing_key_id,
			required_authority, approval_id, rollback_status, rolled_back_at,
			rolled_back_by, ledger_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db.pool.Exec(ctx, query,
		rec.RollbackID, rec.ActionID, string(rec.Reason), string(rec.Type),
		string(rec.CommandType), rec.Payload, rec.Signature, rec.SigningKeyID,
		string(rec.RequiredAuthority), rec.ApprovalID, string(rec.Status), rec.RolledBackAt,
		rec.RolledBackBy, rec.LedgerEntryID,
	)
	if err != nil {
		return fmt.Errorf("inserting rollback record: %w", err)
	}
	return nil
}

// GetRollbackForAction returns the successful rollback of an action, if any.
func (db *DB) GetRollbackForAction(ctx context.Context, actionID string) (*engine.RollbackRecord, error) {
	query := `
		SELECT rollback_id, action_id, rollback_reason, rollback_type,
			command_type, rollback_payload, rollback_signature, signing_key_id,
			required_authority, approval_id, rollback_status, rolled_back_at,
			rolled_back_by, ledger_entry_id
		FROM rollback_records
		WHERE action_id = $1 AND rollback_status = 'SUCCEEDED'`

	var rec engine.RollbackRecord
	var reason, rtype, commandType, authority, status string
	err := db.pool.QueryRow(ctx, query, actionID).Scan(
		&rec.RollbackID, &rec.ActionID, &reason, &rtype,
		&commandType, &rec.Payload, &rec.Signature, &rec.SigningKeyID,
		&authority, &rec.ApprovalID, &status, &rec.RolledBackAt,
		&rec.RolledBackBy, &rec.LedgerEntryID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying rollback for action %s: %w", actionID, err)
	}
	rec.Reason = engine.RollbackReason(reason)
	rec.Type = engine.RollbackType(rtype)
	rec.CommandType = engine.CommandType(commandType)
	rec.RequiredAuthority = engine.AuthorityLevel(authority)
	rec.Status = engine.ExecutionStatus(status)
	return &rec, nil
}
