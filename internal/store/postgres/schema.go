package postgres

import (
	"context"
	"fmt"
)

// schemaStatements creates the harvester tables. Children reference the
// consultation natural key with ON DELETE CASCADE so removing a consultation
// removes everything extracted under it. Date components of child natural
// keys can be NULL when the portal text did not parse; those uniques treat
// NULLs as equal so re-ingestion still lands on the existing row.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS consultations (
	id               BIGSERIAL PRIMARY KEY,
	reference        TEXT NOT NULL,
	authority        TEXT NOT NULL,
	title            TEXT NOT NULL,
	object           TEXT,
	market_type      TEXT,
	status           TEXT,
	published_at     TIMESTAMPTZ,
	deadline         TIMESTAMPTZ,
	session_date     TIMESTAMPTZ,
	estimated_amount NUMERIC(18,2),
	provisional_bond NUMERIC(18,2),
	authority_name   TEXT,
	authority_city   TEXT,
	authority_phone  TEXT,
	authority_email  TEXT,
	sector           TEXT,
	cpv_code         TEXT,
	detail_url       TEXT,
	notice_url       TEXT,
	dossier_url      TEXT,
	extracted_at     TIMESTAMPTZ NOT NULL,
	last_updated_at  TIMESTAMPTZ NOT NULL,
	archive_path     TEXT,
	UNIQUE (reference, authority)
)`,
	`CREATE TABLE IF NOT EXISTS lots (
	id               BIGSERIAL PRIMARY KEY,
	reference        TEXT NOT NULL,
	authority        TEXT NOT NULL,
	number           TEXT NOT NULL,
	designation      TEXT NOT NULL,
	description      TEXT,
	estimated_amount NUMERIC(18,2),
	provisional_bond NUMERIC(18,2),
	final_bond       NUMERIC(18,2),
	execution_delay  TEXT,
	extracted_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (reference, authority, number),
	FOREIGN KEY (reference, authority)
		REFERENCES consultations (reference, authority) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS pv_extracts (
	id           BIGSERIAL PRIMARY KEY,
	reference    TEXT NOT NULL,
	authority    TEXT NOT NULL,
	pv_type      TEXT NOT NULL DEFAULT '',
	session_date DATE,
	published_at TIMESTAMPTZ,
	content      TEXT,
	bidder_count INTEGER,
	pv_url       TEXT,
	extracted_at TIMESTAMPTZ NOT NULL,
	archive_path TEXT,
	UNIQUE NULLS NOT DISTINCT (reference, authority, session_date, pv_type),
	FOREIGN KEY (reference, authority)
		REFERENCES consultations (reference, authority) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS attributions (
	id              BIGSERIAL PRIMARY KEY,
	reference       TEXT NOT NULL,
	authority       TEXT NOT NULL,
	firm_name       TEXT NOT NULL,
	lot_number      TEXT NOT NULL DEFAULT '',
	award_date      TIMESTAMPTZ,
	published_at    TIMESTAMPTZ,
	firm_ice        TEXT,
	firm_city       TEXT,
	amount_excl_tax NUMERIC(18,2),
	amount_incl_tax NUMERIC(18,2),
	discount_rate   NUMERIC(8,4),
	lot_designation TEXT,
	execution_delay TEXT,
	result_url      TEXT,
	extracted_at    TIMESTAMPTZ NOT NULL,
	archive_path    TEXT,
	UNIQUE (reference, authority, firm_name, lot_number),
	FOREIGN KEY (reference, authority)
		REFERENCES consultations (reference, authority) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS completions (
	id              BIGSERIAL PRIMARY KEY,
	reference       TEXT NOT NULL,
	authority       TEXT NOT NULL,
	completion_date DATE,
	published_at    TIMESTAMPTZ,
	firm_name       TEXT,
	final_amount    NUMERIC(18,2),
	observations    TEXT,
	report_url      TEXT,
	extracted_at    TIMESTAMPTZ NOT NULL,
	archive_path    TEXT,
	UNIQUE NULLS NOT DISTINCT (reference, authority, completion_date),
	FOREIGN KEY (reference, authority)
		REFERENCES consultations (reference, authority) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS run_logs (
	id               TEXT PRIMARY KEY,
	job_name         TEXT NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ,
	status           TEXT NOT NULL,
	pages_crawled    INTEGER NOT NULL DEFAULT 0,
	items_extracted  INTEGER NOT NULL DEFAULT 0,
	items_saved      INTEGER NOT NULL DEFAULT 0,
	items_dropped    INTEGER NOT NULL DEFAULT 0,
	errors           INTEGER NOT NULL DEFAULT 0,
	duration_seconds INTEGER,
	message          TEXT
)`,
	`CREATE INDEX IF NOT EXISTS consultations_status_idx ON consultations (status)`,
	`CREATE INDEX IF NOT EXISTS consultations_deadline_idx ON consultations (deadline)`,
	`CREATE INDEX IF NOT EXISTS run_logs_started_at_idx ON run_logs (started_at DESC)`,
}

// Migrate creates the schema if it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
