package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"threat-response-engine/internal/engine"
)

// ConsumeQuota counts every relevant window and, if all ceilings hold, writes
// one allowed observation per window in the same transaction. Transaction
// advisory locks on the user, incident, and host keys serialize concurrent
// callers so two requests cannot both observe "under ceiling" and both
// proceed. The locks release at commit.
func (db *DB) ConsumeQuota(ctx context.Context, check engine.QuotaCheck) (*engine.RateLimitDenied, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning quota transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Fixed lock order to avoid deadlock between concurrent checks.
	for _, key := range []string{
		"user:" + check.UserID,
		"incident:" + check.IncidentID,
		"host:" + check.MachineID,
	} {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(key)); err != nil {
			return nil, fmt.Errorf("acquiring quota lock: %w", err)
		}
	}

	now := time.Now().UTC()
	windows := []struct {
		limit   engine.LimitType
		ceiling int
		query   string
		args    []any
		skip    bool
	}{
		{
			limit:   engine.LimitPerUserPerMinute,
			ceiling: engine.CeilingPerUserPerMinute,
			query: `SELECT count(*) FROM rate_limit_records
				WHERE limit_type = $1 AND allowed AND user_id = $2 AND checked_at > $3`,
			args: []any{string(engine.LimitPerUserPerMinute), check.UserID, now.Add(-time.Minute)},
		},
		{
			limit:   engine.LimitPerIncidentTotal,
			ceiling: engine.CeilingPerIncidentTotal,
			query: `SELECT count(*) FROM rate_limit_records
				WHERE limit_type = $1 AND allowed AND incident_id = $2`,
			args: []any{string(engine.LimitPerIncidentTotal), check.IncidentID},
		},
		{
			limit:   engine.LimitPerHostPer10Min,
			ceiling: engine.CeilingPerHostPer10Minutes,
			query: `SELECT count(*) FROM rate_limit_records
				WHERE limit_type = $1 AND allowed AND machine_id = $2 AND checked_at > $3`,
			args: []any{string(engine.LimitPerHostPer10Min), check.MachineID, now.Add(-10 * time.Minute)},
			skip: check.MachineID == "",
		},
		{
			limit:   engine.LimitEmergencyOverride,
			ceiling: engine.CeilingEmergencyPerIncident,
			query: `SELECT count(*) FROM rate_limit_records
				WHERE limit_type = $1 AND allowed AND incident_id = $2`,
			args: []any{string(engine.LimitEmergencyOverride), check.IncidentID},
			skip: !check.Emergency,
		},
	}

	// Each window is counted once; the observed counts are recorded on the
	// observations either way, denial or allow.
	counts := make([]int, len(windows))
	for i, w := range windows {
		if w.skip {
			continue
		}
		if err := tx.QueryRow(ctx, w.query, w.args...).Scan(&counts[i]); err != nil {
			return nil, fmt.Errorf("counting %s window: %w", w.limit, err)
		}
		if counts[i] >= w.ceiling {
			denied := &engine.RateLimitDenied{Limit: w.limit, Current: counts[i], Ceiling: w.ceiling}
			if err := insertObservation(ctx, tx, check, w.limit, counts[i], w.ceiling, false, now); err != nil {
				return nil, err
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("committing quota denial: %w", err)
			}
			return denied, nil
		}
	}

	for i, w := range windows {
		if w.skip {
			continue
		}
		if err := insertObservation(ctx, tx, check, w.limit, counts[i], w.ceiling, true, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing quota consumption: %w", err)
	}
	return nil, nil
}

func insertObservation(ctx context.Context, tx pgx.Tx, check engine.QuotaCheck,
	limit engine.LimitType, current, ceiling int, allowed bool, at time.Time) error {

	query := `
		INSERT INTO rate_limit_records (record_id, limit_type, count, ceiling, emergency,
			allowed, user_id, incident_id, machine_id, action_id, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		uuid.New().String(), string(limit), current, ceiling, check.Emergency,
		allowed, check.UserID, check.IncidentID, check.MachineID, check.ActionID, at,
	)
	if err != nil {
		return fmt.Errorf("inserting rate limit record: %w", err)
	}
	return nil
}

func lockKey(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
