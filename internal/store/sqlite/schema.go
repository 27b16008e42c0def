package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migrations run in order, each at most once. Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id              TEXT NOT NULL,
		version         TEXT NOT NULL,
		entity_type     TEXT NOT NULL,
		name            TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '{}',
		source_type     TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		parent_versions TEXT NOT NULL DEFAULT '[]',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		updated_ms      INTEGER NOT NULL,
		PRIMARY KEY (id, version)
	)`,

	`CREATE INDEX IF NOT EXISTS entities_updated_idx ON entities (updated_ms, id)`,

	// Current latest version per entity, maintained in the append transaction
	`CREATE TABLE IF NOT EXISTS latest_version (
		entity_id  TEXT PRIMARY KEY,
		version    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS entity_relationships (
		id           TEXT PRIMARY KEY,
		from_id      TEXT NOT NULL,
		from_version TEXT NOT NULL,
		to_id        TEXT NOT NULL,
		to_version   TEXT NOT NULL,
		type         TEXT NOT NULL,
		properties   TEXT NOT NULL DEFAULT '{}',
		user_id      TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS rel_from_idx ON entity_relationships (from_id)`,
	`CREATE INDEX IF NOT EXISTS rel_to_idx ON entity_relationships (to_id)`,

	`CREATE TABLE IF NOT EXISTS blobs (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		type         TEXT NOT NULL,
		mime         TEXT NOT NULL,
		size         INTEGER NOT NULL,
		data         BLOB NOT NULL,
		metadata     TEXT NOT NULL DEFAULT '{}',
		checksum     TEXT NOT NULL,
		sync_status  TEXT NOT NULL,
		server_url   TEXT NOT NULL DEFAULT '',
		last_sync_at TEXT,
		user_id      TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sync_metadata (
		client_id         TEXT PRIMARY KEY,
		last_sync_time    TEXT,
		last_sync_success TEXT,
		last_sync_error   TEXT NOT NULL DEFAULT '',
		sync_failures     INTEGER NOT NULL DEFAULT 0,
		total_syncs       INTEGER NOT NULL DEFAULT 0,
		total_conflicts   INTEGER NOT NULL DEFAULT 0,
		sync_in_progress  INTEGER NOT NULL DEFAULT 0,
		next_retry_time   TEXT,
		vector_clock      TEXT NOT NULL DEFAULT '{}'
	)`,

	// Replica-side dirty tracking that drives delta sync
	`CREATE TABLE IF NOT EXISTS client_sync_tracking (
		entity_id         TEXT PRIMARY KEY,
		entity_type       TEXT NOT NULL,
		sync_status       TEXT NOT NULL,
		operation         TEXT NOT NULL,
		entity_updated_at TEXT NOT NULL,
		last_sync_at      TEXT,
		conflict_reason   TEXT NOT NULL DEFAULT '',
		retry_count       INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS tracking_status_idx ON client_sync_tracking (sync_status, entity_updated_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		idx        INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx), -1) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("reading migration state: %w", err)
	}

	for i := applied + 1; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (idx) VALUES (?)`, i); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", i, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", i, err)
		}
		log.Debug().Int("migration", i).Msg("replica schema migration applied")
	}
	return nil
}
