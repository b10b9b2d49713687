package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threat-response-engine/internal/engine"
)

// InsertAttestation opens one pending attestation. The unique constraint on
// action_id keeps the 1:1 binding to the destructive action.
func (db *DB) InsertAttestation(ctx context.Context, a engine.IncidentAttestation) error {
	query := `
		INSERT INTO incident_attestations (attestation_id, incident_id, action_id,
			executor_user_id, executor_role, approver_user_id, approver_role,
			status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.pool.Exec(ctx, query,
		a.AttestationID, a.IncidentID, a.ActionID,
		a.ExecutorID, a.ExecutorRole, a.ApproverID, a.ApproverRole,
		string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting attestation: %w", err)
	}
	return nil
}

// GetAttestation retrieves one attestation by ID.
func (db *DB) GetAttestation(ctx context.Context, attestationID string) (*engine.IncidentAttestation, error) {
	query := `
		SELECT attestation_id, incident_id, action_id,
			executor_user_id, executor_role, executor_statement, executor_signed_at,
			approver_user_id, approver_role, approver_statement, approver_signed_at,
			status, created_at
		FROM incident_attestations WHERE attestation_id = $1`

	var a engine.IncidentAttestation
	var status string
	err := db.pool.QueryRow(ctx, query, attestationID).Scan(
		&a.AttestationID, &a.IncidentID, &a.ActionID,
		&a.ExecutorID, &a.ExecutorRole, &a.ExecutorStatement, &a.ExecutorSignedAt,
		&a.ApproverID, &a.ApproverRole, &a.ApproverStatement, &a.ApproverSignedAt,
		&status, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attestation %s not found", attestationID)
		}
		return nil, fmt.Errorf("querying attestation %s: %w", attestationID, err)
	}
	a.Status = engine.AttestationStatus(status)
	return &a, nil
}

// SetExecutorStatement writes the executor statement once. A second write
// finds no empty slot and fails.
func (db *DB) SetExecutorStatement(ctx context.Context, attestationID, userID, statement string, at time.Time) error {
	query := `
		UPDATE incident_attestations
		SET executor_statement = $1, executor_signed_at = $2
		WHERE attestation_id = $3 AND executor_user_id = $4
		  AND executor_statement = '' AND status = 'PENDING'`

	tag, err := db.pool.Exec(ctx, query, statement, at, attestationID, userID)
	if err != nil {
		return fmt.Errorf("recording executor statement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("executor statement slot on %s is not writable for %s", attestationID, userID)
	}
	return nil
}

// SetApproverStatement writes the approver statement once. When the pipeline
// could not name an approver up front, the first submitter claims the slot.
func (db *DB) SetApproverStatement(ctx context.Context, attestationID, userID, statement string, at time.Time) error {
	query := `
		UPDATE incident_attestations
		SET approver_statement = $1, approver_signed_at = $2, approver_user_id = $3
		WHERE attestation_id = $4 AND (approver_user_id = $3 OR approver_user_id = '')
		  AND approver_statement = '' AND status = 'PENDING'
		  AND executor_user_id <> $3`

	tag, err := db.pool.Exec(ctx, query, statement, at, userID, attestationID)
	if err != nil {
		return fmt.Errorf("recording approver statement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approver statement slot on %s is not writable for %s", attestationID, userID)
	}
	return nil
}

// MarkAttestationComplete flips PENDING -> COMPLETE once both statements are in.
func (db *DB) MarkAttestationComplete(ctx context.Context, attestationID string) error {
	query := `
		UPDATE incident_attestations
		SET status = 'COMPLETE'
		WHERE attestation_id = $1 AND status = 'PENDING'
		  AND executor_statement <> '' AND approver_statement <> ''`

	tag, err := db.pool.Exec(ctx, query, attestationID)
	if err != nil {
		return fmt.Errorf("completing attestation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attestation %s is not ready for completion", attestationID)
	}
	return nil
}

// CountIncompleteAttestations counts the incident's pending attestations.
func (db *DB) CountIncompleteAttestations(ctx context.Context, incidentID string) (int, error) {
	query := `SELECT count(*) FROM incident_attestations WHERE incident_id = $1 AND status <> 'COMPLETE'`

	var n int
	if err := db.pool.QueryRow(ctx, query, incidentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting attestations: %w", err)
	}
	return n, nil
}
