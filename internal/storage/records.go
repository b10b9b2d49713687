package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"threat-response-engine/internal/engine"
)

// InsertBlastRadiusRecord inserts one blast radius check observation.
func (db *DB) InsertBlastRadiusRecord(ctx context.Context, rec engine.BlastRadiusRecord) error {
	query := `
		INSERT INTO blast_radius_records (record_id, action_id, blast_scope,
			declared_target_count, resolved_target_count, expected_impact,
			approval_required, valid, reject_reason, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.pool.Exec(ctx, query,
		rec.RecordID, rec.ActionID, string(rec.Scope),
		rec.DeclaredCount, rec.ResolvedCount, string(rec.ExpectedImpact),
		rec.ApprovalRequired, rec.Valid, rec.RejectReason, rec.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting blast radius record: %w", err)
	}
	return nil
}

// ConsumeApproval binds an approval to the one action it satisfies. The
// primary key makes a second consumption a constraint violation.
func (db *DB) ConsumeApproval(ctx context.Context, approvalID, actionID string) error {
	query := `INSERT INTO action_approvals (approval_id, action_id) VALUES ($1, $2)`

	_, err := db.pool.Exec(ctx, query, approvalID, actionID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", engine.ErrApprovalConsumed, approvalID)
		}
		return fmt.Errorf("consuming approval %s: %w", approvalID, err)
	}
	return nil
}

// ActiveMode returns the active execution mode record, nil if none exists.
func (db *DB) ActiveMode(ctx context.Context) (*engine.ExecutionModeRecord, error) {
	query := `
		SELECT mode_id, mode, active, changed_by, reason, ledger_entry_id, changed_at
		FROM execution_modes WHERE active`

	rec, err := scanMode(db.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying active mode: %w", err)
	}
	return rec, nil
}

// SupersedeMode deactivates the current mode and inserts the new active one
// in a single transaction, preserving the full history.
func (db *DB) SupersedeMode(ctx context.Context, rec engine.ExecutionModeRecord) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning mode transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE execution_modes SET active = FALSE WHERE active`); err != nil {
		return fmt.Errorf("deactivating current mode: %w", err)
	}

	query := `
		INSERT INTO execution_modes (mode_id, mode, active, changed_by, reason, ledger_entry_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, query,
		rec.ModeID, string(rec.Mode), rec.Active, rec.ChangedBy, rec.Reason, rec.LedgerEntryID, rec.ChangedAt,
	); err != nil {
		return fmt.Errorf("inserting mode record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing mode change: %w", err)
	}
	return nil
}

// ModeHistory returns mode changes, newest first.
func (db *DB) ModeHistory(ctx context.Context, limit int) ([]engine.ExecutionModeRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT mode_id, mode, active, changed_by, reason, ledger_entry_id, changed_at
		FROM execution_modes ORDER BY changed_at DESC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying mode history: %w", err)
	}
	defer rows.Close()

	var results []engine.ExecutionModeRecord
	for rows.Next() {
		rec, err := scanMode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mode row: %w", err)
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}

func scanMode(row pgx.Row) (*engine.ExecutionModeRecord, error) {
	var rec engine.ExecutionModeRecord
	var mode string
	if err := row.Scan(&rec.ModeID, &mode, &rec.Active, &rec.ChangedBy, &rec.Reason,
		&rec.LedgerEntryID, &rec.ChangedAt); err != nil {
		return nil, err
	}
	rec.Mode = engine.Mode(mode)
	return &rec, nil
}
