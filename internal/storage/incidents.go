package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threat-response-engine/internal/engine"
)

// GetIncident retrieves one incident's execution state.
func (db *DB) GetIncident(ctx context.Context, incidentID string) (*engine.Incident, error) {
	query := `
		SELECT incident_id, status, reopened_by, reopened_at, reopen_justification
		FROM incidents WHERE incident_id = $1`

	var inc engine.Incident
	var status string
	err := db.pool.QueryRow(ctx, query, incidentID).Scan(
		&inc.IncidentID, &status, &inc.ReopenedBy, &inc.ReopenedAt, &inc.Justification,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", engine.ErrIncidentNotFound, incidentID)
		}
		return nil, fmt.Errorf("querying incident %s: %w", incidentID, err)
	}
	inc.Status = engine.IncidentStatus(status)
	return &inc, nil
}

// UpsertIncident registers an incident the engine has not seen yet. Existing
// rows are left untouched; incident state only moves through the explicit
// close and reopen paths.
func (db *DB) UpsertIncident(ctx context.Context, incidentID string) error {
	query := `
		INSERT INTO incidents (incident_id) VALUES ($1)
		ON CONFLICT (incident_id) DO NOTHING`

	if _, err := db.pool.Exec(ctx, query, incidentID); err != nil {
		return fmt.Errorf("registering incident %s: %w", incidentID, err)
	}
	return nil
}

// ReopenIncident moves a frozen incident back to OPEN with bookkeeping.
func (db *DB) ReopenIncident(ctx context.Context, incidentID, userID, justification string) error {
	query := `
		UPDATE incidents
		SET status = 'OPEN', reopened_by = $1, reopened_at = $2, reopen_justification = $3
		WHERE incident_id = $4 AND status IN ('CLOSED', 'RESOLVED_WITH_ACTIONS')`

	tag, err := db.pool.Exec(ctx, query, userID, time.Now().UTC(), justification, incidentID)
	if err != nil {
		return fmt.Errorf("reopening incident %s: %w", incidentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s is not frozen", incidentID)
	}
	return nil
}

// CloseIncident moves an incident into a terminal status.
func (db *DB) CloseIncident(ctx context.Context, incidentID string, status engine.IncidentStatus) error {
	query := `
		UPDATE incidents SET status = $1
		WHERE incident_id = $2 AND status NOT IN ('CLOSED', 'RESOLVED_WITH_ACTIONS')`

	tag, err := db.pool.Exec(ctx, query, string(status), incidentID)
	if err != nil {
		return fmt.Errorf("closing incident %s: %w", incidentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s is already frozen", incidentID)
	}
	return nil
}

// ResolveTargets resolves a declared scope against the hosts inventory. Only
// active hosts count toward the blast radius.
func (db *DB) ResolveTargets(ctx context.Context, scope engine.BlastScope, target engine.TargetDescriptor) ([]string, error) {
	var query string
	var args []any

	switch scope {
	case engine.ScopeHost:
		if target.MachineID == "" {
			return nil, fmt.Errorf("HOST scope requires a machine_id")
		}
		query = `SELECT machine_id FROM hosts WHERE active AND machine_id = $1`
		args = []any{target.MachineID}
	case engine.ScopeGroup:
		if target.GroupID == "" {
			return nil, fmt.Errorf("GROUP scope requires a group_id")
		}
		query = `SELECT machine_id FROM hosts WHERE active AND group_id = $1`
		args = []any{target.GroupID}
	case engine.ScopeNetwork:
		if target.NetworkCIDR == "" {
			return nil, fmt.Errorf("NETWORK scope requires a network_cidr")
		}
		query = `SELECT machine_id FROM hosts WHERE active AND ip_address <<= $1::inet`
		args = []any{target.NetworkCIDR}
	case engine.ScopeGlobal:
		query = `SELECT machine_id FROM hosts WHERE active`
	default:
		return nil, fmt.Errorf("invalid blast scope: %q", scope)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolving %s targets: %w", scope, err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning host row: %w", err)
		}
		targets = append(targets, id)
	}
	return targets, rows.Err()
}

// RegisterHost inserts or refreshes one host inventory row.
func (db *DB) RegisterHost(ctx context.Context, machineID, hostname, ipAddress, groupID string) error {
	query := `
		INSERT INTO hosts (machine_id, hostname, ip_address, group_id, active, seen_at)
		VALUES ($1, $2, NULLIF($3, '')::inet, $4, TRUE, now())
		ON CONFLICT (machine_id) DO UPDATE
		SET hostname = EXCLUDED.hostname, ip_address = EXCLUDED.ip_address,
			group_id = EXCLUDED.group_id, active = TRUE, seen_at = now()`

	if _, err := db.pool.Exec(ctx, query, machineID, hostname, ipAddress, groupID); err != nil {
		return fmt.Errorf("registering host %s: %w", machineID, err)
	}
	return nil
}
