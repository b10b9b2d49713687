package storage

// The schema is append-only by construction. response_actions allows exactly
// the enumerated status transitions through a trigger; every other table
// rejects UPDATE and DELETE outright, except the narrow slots called out
// below (attestation statements, mode supersession, incident state).
const schema = `
CREATE TABLE IF NOT EXISTS response_actions (
	action_id          TEXT PRIMARY KEY,
	policy_decision_id TEXT NOT NULL,
	incident_id        TEXT NOT NULL,
	machine_id         TEXT NOT NULL,
	command_type       TEXT NOT NULL,
	command_payload    BYTEA NOT NULL,
	command_signature  TEXT NOT NULL,
	signing_key_id     TEXT NOT NULL,
	required_authority TEXT NOT NULL,
	approval_id        TEXT NOT NULL DEFAULT '',
	execution_status   TEXT NOT NULL DEFAULT 'PENDING',
	executed_at        TIMESTAMPTZ,
	executed_by        TEXT NOT NULL,
	rollback_capable   BOOLEAN NOT NULL DEFAULT TRUE,
	rollback_id        TEXT NOT NULL DEFAULT '',
	ledger_entry_id    TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_actions_incident ON response_actions (incident_id);

CREATE OR REPLACE FUNCTION enforce_action_transition() RETURNS trigger AS $$
BEGIN
	IF OLD.execution_status = NEW.execution_status THEN
		RAISE EXCEPTION 'response_actions rows are append-only';
	END IF;
	IF NOT (
		(OLD.execution_status = 'PENDING'   AND NEW.execution_status = 'EXECUTING') OR
		(OLD.execution_status = 'EXECUTING' AND NEW.execution_status IN ('SUCCEEDED','FAILED')) OR
		(OLD.execution_status = 'SUCCEEDED' AND NEW.execution_status = 'ROLLED_BACK')
	) THEN
		RAISE EXCEPTION 'illegal status transition % -> %', OLD.execution_status, NEW.execution_status;
	END IF;
	IF NEW.execution_status = 'ROLLED_BACK' AND NEW.rollback_id = '' THEN
		RAISE EXCEPTION 'ROLLED_BACK requires a rollback_id';
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_action_transition ON response_actions;
CREATE TRIGGER trg_action_transition BEFORE UPDATE ON response_actions
	FOR EACH ROW EXECUTE FUNCTION enforce_action_transition();

CREATE OR REPLACE FUNCTION reject_delete() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'deletes are forbidden on %', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_action_no_delete ON response_actions;
CREATE TRIGGER trg_action_no_delete BEFORE DELETE ON response_actions
	FOR EACH ROW EXECUTE FUNCTION reject_delete();

CREATE TABLE IF NOT EXISTS rollback_records (
	rollback_id        TEXT PRIMARY KEY,
	action_id          TEXT NOT NULL REFERENCES response_actions (action_id),
	rollback_reason    TEXT NOT NULL,
	rollback_type      TEXT NOT NULL,
	command_type       TEXT NOT NULL,
	rollback_payload   BYTEA NOT NULL,
	rollback_signature TEXT NOT NULL,
	signing_key_id     TEXT NOT NULL,
	required_authority TEXT NOT NULL,
	approval_id        TEXT NOT NULL DEFAULT '',
	rollback_status    TEXT NOT NULL,
	rolled_back_at     TIMESTAMPTZ NOT NULL,
	rolled_back_by     TEXT NOT NULL,
	ledger_entry_id    TEXT NOT NULL DEFAULT ''
);

-- At most one successful rollback per action. Failed attempts stay on record.
CREATE UNIQUE INDEX IF NOT EXISTS idx_rollback_one_success
	ON rollback_records (action_id) WHERE rollback_status = 'SUCCEEDED';

DROP TRIGGER IF EXISTS trg_rollback_no_delete ON rollback_records;
CREATE TRIGGER trg_rollback_no_delete BEFORE DELETE ON rollback_records
	FOR EACH ROW EXECUTE FUNCTION reject_delete();

CREATE TABLE IF NOT EXISTS rate_limit_records (
	record_id   TEXT PRIMARY KEY,
	limit_type  TEXT NOT NULL,
	count       INTEGER NOT NULL,
	ceiling     INTEGER NOT NULL,
	emergency   BOOLEAN NOT NULL DEFAULT FALSE,
	allowed     BOOLEAN NOT NULL,
	user_id     TEXT NOT NULL,
	incident_id TEXT NOT NULL,
	machine_id  TEXT NOT NULL DEFAULT '',
	action_id   TEXT NOT NULL DEFAULT '',
	checked_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ratelimit_user ON rate_limit_records (user_id, limit_type, checked_at);
CREATE INDEX IF NOT EXISTS idx_ratelimit_incident ON rate_limit_records (incident_id, limit_type);
CREATE INDEX IF NOT EXISTS idx_ratelimit_machine ON rate_limit_records (machine_id, limit_type, checked_at);

CREATE TABLE IF NOT EXISTS blast_radius_records (
	record_id             TEXT PRIMARY KEY,
	action_id             TEXT NOT NULL,
	blast_scope           TEXT NOT NULL,
	declared_target_count INTEGER NOT NULL,
	resolved_target_count INTEGER NOT NULL,
	expected_impact       TEXT NOT NULL,
	approval_required     BOOLEAN NOT NULL,
	valid                 BOOLEAN NOT NULL,
	reject_reason         TEXT NOT NULL DEFAULT '',
	checked_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS action_approvals (
	approval_id TEXT PRIMARY KEY,
	action_id   TEXT NOT NULL,
	consumed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS incident_attestations (
	attestation_id     TEXT PRIMARY KEY,
	incident_id        TEXT NOT NULL,
	action_id          TEXT NOT NULL UNIQUE,
	executor_user_id   TEXT NOT NULL,
	executor_role      TEXT NOT NULL,
	executor_statement TEXT NOT NULL DEFAULT '',
	executor_signed_at TIMESTAMPTZ,
	approver_user_id   TEXT NOT NULL DEFAULT '',
	approver_role      TEXT NOT NULL DEFAULT '',
	approver_statement TEXT NOT NULL DEFAULT '',
	approver_signed_at TIMESTAMPTZ,
	status             TEXT NOT NULL DEFAULT 'PENDING',
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attestations_incident ON incident_attestations (incident_id, status);

CREATE TABLE IF NOT EXISTS execution_modes (
	mode_id         TEXT PRIMARY KEY,
	mode            TEXT NOT NULL,
	active          BOOLEAN NOT NULL,
	changed_by      TEXT NOT NULL,
	reason          TEXT NOT NULL,
	ledger_entry_id TEXT NOT NULL,
	changed_at      TIMESTAMPTZ NOT NULL
);

-- At most one active mode at any time.
CREATE UNIQUE INDEX IF NOT EXISTS idx_mode_single_active
	ON execution_modes (active) WHERE active;

CREATE TABLE IF NOT EXISTS incidents (
	incident_id          TEXT PRIMARY KEY,
	status               TEXT NOT NULL DEFAULT 'OPEN',
	reopened_by          TEXT NOT NULL DEFAULT '',
	reopened_at          TIMESTAMPTZ,
	reopen_justification TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS hosts (
	machine_id TEXT PRIMARY KEY,
	hostname   TEXT NOT NULL DEFAULT '',
	ip_address INET,
	group_id   TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	seen_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_hosts_group ON hosts (group_id) WHERE active;
`
