package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migrations are applied in order; each entry runs at most once. Never edit
// an applied entry, append a new one.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id              TEXT NOT NULL,
		version         TEXT NOT NULL,
		entity_type     TEXT NOT NULL,
		name            TEXT NOT NULL,
		content         JSONB NOT NULL DEFAULT '{}',
		source_type     TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		parent_versions JSONB NOT NULL DEFAULT '[]',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (id, version)
	)`,

	`CREATE INDEX IF NOT EXISTS entities_updated_idx ON entities (updated_at, id)`,

	// Side table holding the current latest version per entity; maintained in
	// the same transaction as the version append
	`CREATE TABLE IF NOT EXISTS latest_version (
		entity_id  TEXT PRIMARY KEY,
		version    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS entity_relationships (
		id           TEXT PRIMARY KEY,
		from_id      TEXT NOT NULL,
		from_version TEXT NOT NULL,
		to_id        TEXT NOT NULL,
		to_version   TEXT NOT NULL,
		type         TEXT NOT NULL,
		properties   JSONB NOT NULL DEFAULT '{}',
		user_id      TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS rel_from_idx ON entity_relationships (from_id)`,
	`CREATE INDEX IF NOT EXISTS rel_to_idx ON entity_relationships (to_id)`,
	`CREATE INDEX IF NOT EXISTS rel_type_idx ON entity_relationships (type)`,

	`CREATE TABLE IF NOT EXISTS blobs (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		type         TEXT NOT NULL,
		mime         TEXT NOT NULL,
		size         INTEGER NOT NULL,
		data         BYTEA NOT NULL,
		metadata     JSONB NOT NULL DEFAULT '{}',
		checksum     TEXT NOT NULL,
		sync_status  TEXT NOT NULL,
		server_url   TEXT NOT NULL DEFAULT '',
		last_sync_at TIMESTAMPTZ,
		user_id      TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sync_metadata (
		client_id         TEXT PRIMARY KEY,
		last_sync_time    TIMESTAMPTZ,
		last_sync_success TIMESTAMPTZ,
		last_sync_error   TEXT NOT NULL DEFAULT '',
		sync_failures     INTEGER NOT NULL DEFAULT 0,
		total_syncs       INTEGER NOT NULL DEFAULT 0,
		total_conflicts   INTEGER NOT NULL DEFAULT 0,
		sync_in_progress  BOOLEAN NOT NULL DEFAULT FALSE,
		next_retry_time   TIMESTAMPTZ,
		vector_clock      JSONB NOT NULL DEFAULT '{}'
	)`,
}

// Migrate applies pending schema migrations
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		idx        INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var applied int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(idx), -1) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("reading migration state: %w", err)
	}

	for i := applied + 1; i < len(migrations); i++ {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", i, err)
		}
		if _, err := tx.Exec(ctx, migrations[i]); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("applying migration %d: %w", i, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (idx) VALUES ($1)`, i); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("recording migration %d: %w", i, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing migration %d: %w", i, err)
		}
		log.Info().Int("migration", i).Msg("schema migration applied")
	}
	return nil
}
