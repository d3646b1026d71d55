package store

import (
	"context"
	"fmt"
	"strings"
)

const schemaVersion = 1

// Column blocks are shared by the live tables and their shadow copies so a
// promote can copy rows column for column.
const setColumnsDDL = `
	game TEXT NOT NULL,
	id TEXT NOT NULL,
	provider_id TEXT,
	name TEXT NOT NULL,
	series TEXT NOT NULL DEFAULT '',
	printed_total INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	release_date TEXT NOT NULL DEFAULT '',
	sync_status TEXT NOT NULL DEFAULT 'pending',
	card_count INTEGER NOT NULL DEFAULT 0,
	last_synced_at TIMESTAMP,
	payload TEXT,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (game, id)`

const cardColumnsDDL = `
	game TEXT NOT NULL,
	id TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	set_id TEXT NOT NULL,
	set_provider_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	number TEXT NOT NULL DEFAULT '',
	rarity TEXT NOT NULL DEFAULT '',
	types TEXT,
	external_ids TEXT,
	payload TEXT,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (game, id)`

const variantColumnsDDL = `
	game TEXT NOT NULL,
	id TEXT NOT NULL,
	card_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	provider_variant_id TEXT NOT NULL DEFAULT '',
	printing TEXT NOT NULL DEFAULT '',
	condition TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	market NUMERIC(12,2),
	low NUMERIC(12,2),
	mid NUMERIC(12,2),
	high NUMERIC(12,2),
	currency TEXT NOT NULL DEFAULT 'USD',
	payload TEXT,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (game, id)`

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS sets (` + setColumnsDDL + `
);
CREATE TABLE IF NOT EXISTS cards (` + cardColumnsDDL + `
);
CREATE TABLE IF NOT EXISTS variants (` + variantColumnsDDL + `
);

CREATE TABLE IF NOT EXISTS shadow_sets (` + setColumnsDDL + `
);
CREATE TABLE IF NOT EXISTS shadow_cards (` + cardColumnsDDL + `
);
CREATE TABLE IF NOT EXISTS shadow_variants (` + variantColumnsDDL + `
);

CREATE INDEX IF NOT EXISTS idx_sets_provider_id ON sets(game, provider_id);
CREATE INDEX IF NOT EXISTS idx_cards_set ON cards(game, set_id);
CREATE INDEX IF NOT EXISTS idx_variants_card ON variants(game, card_id);
CREATE INDEX IF NOT EXISTS idx_shadow_cards_set ON shadow_cards(game, set_id);

CREATE TABLE IF NOT EXISTS sync_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	game TEXT NOT NULL,
	set_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	results TEXT,
	metrics TEXT,
	error TEXT,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);

-- At most one running job per scope
CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_jobs_running_scope ON sync_jobs(type, game, set_id)
WHERE status = 'running';
CREATE INDEX IF NOT EXISTS idx_sync_jobs_scope ON sync_jobs(game, set_id, status);

CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	game TEXT NOT NULL,
	set_id TEXT NOT NULL,
	provider_set_id TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	cursor INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	claim_token TEXT,
	claimed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

-- Prevent duplicate pending work for the same set and mode
CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_queue_active ON sync_queue(game, set_id, mode)
WHERE status IN ('queued', 'in_progress');
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, mode, created_at);

CREATE TABLE IF NOT EXISTS cache (
	key TEXT PRIMARY KEY,
	data {{BLOB}},
	expires_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
);
`

// Schema renders the DDL for driver.
func Schema(driver string) string {
	blob := "BLOB"
	if driver == "pgx" {
		blob = "BYTEA"
	}
	return strings.ReplaceAll(schemaTemplate, "{{BLOB}}", blob)
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, Schema(db.driver)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	_, err := db.exec(ctx, `INSERT INTO schema_migrations (version, description, applied_at)
		VALUES (?, ?, ?) ON CONFLICT (version) DO NOTHING`, schemaVersion, "catalog, shadow, jobs and queue tables", now())
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.get(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	return v, err
}
