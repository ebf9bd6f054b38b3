package store

// Schema is the DDL for the PostgreSQL backend. NewPostgresStore executes it
// on every connect; every statement uses IF NOT EXISTS, so re-running it
// against an existing database is a no-op. Kept here, rather than in an
// embedded migration tool, because the two-table shape is small and stable.
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id           TEXT PRIMARY KEY,
	display_name      TEXT NOT NULL,
	ip                TEXT NOT NULL,
	port              INTEGER NOT NULL,
	status            TEXT NOT NULL,
	capabilities_json JSONB NOT NULL,
	metrics_json      JSONB NOT NULL,
	policy_json       JSONB NOT NULL,
	last_seen         TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	payload_ref       TEXT,
	assigned_node_id  TEXT,
	attempts          INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	error             TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs (type);
CREATE INDEX IF NOT EXISTS idx_jobs_assigned_node_id ON jobs (assigned_node_id);
`
