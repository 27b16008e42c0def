// Package postgres implements the authoritative server store on pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed L1. Version appends are serialized per
// entity with an advisory transaction lock; the latest_version side table
// commits together with the append.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open connection pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

// storageErr wraps a driver error so callers only ever see the taxonomy
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", graph.ErrStorageError, op, err)
}

const entityColumns = `id, version, entity_type, name, content, source_type, user_id, parent_versions, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*graph.Entity, error) {
	var e graph.Entity
	var typ, src string
	if err := row.Scan(&e.ID, &e.Version, &typ, &e.Name, &e.Content, &src, &e.UserID, &e.ParentVersions, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.EntityType = graph.EntityType(typ)
	e.SourceType = graph.SourceType(src)
	if e.ParentVersions == nil {
		e.ParentVersions = []string{}
	}
	if e.Content == nil {
		e.Content = map[string]any{}
	}
	return &e, nil
}

// StoreEntity appends a version inside one transaction: duplicate check,
// parent check, insert, and latest_version upsert commit together.
func (s *Store) StoreEntity(ctx context.Context, e *graph.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin append", err)
	}
	defer tx.Rollback(ctx)

	// Serialize appends to the same entity
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.ID); err != nil {
		return storageErr("advisory lock", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1 AND version = $2)`,
		e.ID, e.Version).Scan(&exists); err != nil {
		return storageErr("duplicate probe", err)
	}
	if exists {
		return fmt.Errorf("%w: entity %s version %s", graph.ErrDuplicateVersion, e.ID, e.Version)
	}

	for _, parent := range e.ParentVersions {
		var ok bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1 AND version = $2)`,
			e.ID, parent).Scan(&ok); err != nil {
			return storageErr("parent probe", err)
		}
		if !ok {
			return fmt.Errorf("%w: parent version %s of entity %s does not exist", graph.ErrInvalidInput, parent, e.ID)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO entities (id, version, entity_type, name, content, source_type, user_id, parent_versions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Version, string(e.EntityType), e.Name, e.Content, string(e.SourceType), e.UserID, e.ParentVersions, e.CreatedAt, e.UpdatedAt); err != nil {
		return storageErr("insert version", err)
	}

	// Latest selection: greatest created_at, ties by lexicographic version
	if _, err := tx.Exec(ctx, `
		INSERT INTO latest_version (entity_id, version, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_id) DO UPDATE SET
			version    = EXCLUDED.version,
			created_at = EXCLUDED.created_at
		WHERE (EXCLUDED.created_at, EXCLUDED.version) > (latest_version.created_at, latest_version.version)
	`, e.ID, e.Version, e.CreatedAt); err != nil {
		return storageErr("latest upsert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit append", err)
	}
	return nil
}

// GetEntity returns the exact (id, version) record
func (s *Store) GetEntity(ctx context.Context, id, version string) (*graph.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1 AND version = $2`, id, version)
	e, err := scanEntity(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s version %s", graph.ErrNotFound, id, version)
	}
	if err != nil {
		return nil, storageErr("get entity", err)
	}
	return e, nil
}

// GetLatestEntity resolves the latest version through the side table
func (s *Store) GetLatestEntity(ctx context.Context, id string) (*graph.Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+prefixed("e", entityColumns)+`
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE e.id = $1
	`, id)
	e, err := scanEntity(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get latest entity", err)
	}
	return e, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// GetEntityVersions returns all versions ordered by created_at ascending
func (s *Store) GetEntityVersions(ctx context.Context, id string) ([]*graph.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1 ORDER BY created_at, version`, id)
	if err != nil {
		return nil, storageErr("query versions", err)
	}
	defer rows.Close()

	out, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id)
	}
	return out, nil
}

func collectEntities(rows pgx.Rows) ([]*graph.Entity, error) {
	out := make([]*graph.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, storageErr("scan entity", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entities", err)
	}
	return out, nil
}

// GetEntitiesByType returns latest versions matching the type
func (s *Store) GetEntitiesByType(ctx context.Context, t graph.EntityType) ([]*graph.Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+prefixed("e", entityColumns)+`
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE e.entity_type = $1
		ORDER BY e.updated_at, e.id
	`, string(t))
	if err != nil {
		return nil, storageErr("query by type", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// ListEntities returns latest versions ordered by (updated_at, id)
func (s *Store) ListEntities(ctx context.Context, limit, offset int) ([]*graph.Entity, error) {
	q := `
		SELECT ` + prefixed("e", entityColumns) + `
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		ORDER BY e.updated_at, e.id
		OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list entities", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// EntitiesUpdatedSince pages latest versions strictly after the
// (updated_at_ms, id) cursor position. Comparison happens on millisecond
// truncation so it agrees with the wire cursor.
func (s *Store) EntitiesUpdatedSince(ctx context.Context, q store.ChangeQuery) ([]*graph.Entity, error) {
	sql := `
		SELECT ` + prefixed("e", entityColumns) + `
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE (floor(extract(epoch FROM e.updated_at) * 1000)::bigint, e.id) > ($1::bigint, $2)`
	args := []any{q.AfterMs, q.AfterID}

	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		sql += fmt.Sprintf(` AND e.entity_type = ANY($%d)`, len(args))
	}
	if q.ModifiedBy != "" {
		args = append(args, q.ModifiedBy)
		sql += fmt.Sprintf(` AND e.user_id = $%d`, len(args))
	}

	sql += ` ORDER BY floor(extract(epoch FROM e.updated_at) * 1000)::bigint, e.id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr("query updated since", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// StoreRelationship validates endpoints and the type pair, then persists
func (s *Store) StoreRelationship(ctx context.Context, r *graph.Relationship) error {
	if err := r.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin relationship", err)
	}
	defer tx.Rollback(ctx)

	var fromType, toType string
	err = tx.QueryRow(ctx, `SELECT entity_type FROM entities WHERE id = $1 AND version = $2`,
		r.FromEntityID, r.FromEntityVersion).Scan(&fromType)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: relationship source %s@%s", graph.ErrNotFound, r.FromEntityID, r.FromEntityVersion)
	}
	if err != nil {
		return storageErr("source probe", err)
	}
	err = tx.QueryRow(ctx, `SELECT entity_type FROM entities WHERE id = $1 AND version = $2`,
		r.ToEntityID, r.ToEntityVersion).Scan(&toType)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("%w: relationship target %s@%s", graph.ErrNotFound, r.ToEntityID, r.ToEntityVersion)
	}
	if err != nil {
		return storageErr("target probe", err)
	}

	if err := graph.ValidateRelationship(graph.EntityType(fromType), graph.EntityType(toType), r.RelationshipType); err != nil {
		return err
	}

	props := r.Properties
	if props == nil {
		props = map[string]any{}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO entity_relationships (id, from_id, from_version, to_id, to_version, type, properties, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.FromEntityID, r.FromEntityVersion, r.ToEntityID, r.ToEntityVersion, string(r.RelationshipType), props, r.UserID, r.CreatedAt, r.UpdatedAt); err != nil {
		return storageErr("insert relationship", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit relationship", err)
	}
	return nil
}

// GetRelationships runs a filtered scan; without IncludeAllVersions only
// edges pinned to current latest versions on both ends are returned
func (s *Store) GetRelationships(ctx context.Context, q store.RelationshipQuery) ([]*graph.Relationship, error) {
	sql := `
		SELECT r.id, r.from_id, r.from_version, r.to_id, r.to_version, r.type, r.properties, r.user_id, r.created_at, r.updated_at
		FROM entity_relationships r`
	if !q.IncludeAllVersions {
		sql += `
		JOIN latest_version lf ON lf.entity_id = r.from_id AND lf.version = r.from_version
		JOIN latest_version lt ON lt.entity_id = r.to_id AND lt.version = r.to_version`
	}
	sql += ` WHERE 1=1`
	var args []any
	if q.FromID != "" {
		args = append(args, q.FromID)
		sql += fmt.Sprintf(` AND r.from_id = $%d`, len(args))
	}
	if q.ToID != "" {
		args = append(args, q.ToID)
		sql += fmt.Sprintf(` AND r.to_id = $%d`, len(args))
	}
	if q.Type != "" {
		args = append(args, string(q.Type))
		sql += fmt.Sprintf(` AND r.type = $%d`, len(args))
	}
	sql += ` ORDER BY r.created_at, r.id`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr("query relationships", err)
	}
	defer rows.Close()

	out := make([]*graph.Relationship, 0)
	for rows.Next() {
		var r graph.Relationship
		var typ string
		if err := rows.Scan(&r.ID, &r.FromEntityID, &r.FromEntityVersion, &r.ToEntityID, &r.ToEntityVersion, &typ, &r.Properties, &r.UserID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, storageErr("scan relationship", err)
		}
		r.RelationshipType = graph.RelationshipType(typ)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate relationships", err)
	}
	return out, nil
}

// SearchEntities substring-matches latest-version names, case-insensitive
func (s *Store) SearchEntities(ctx context.Context, query string, types []graph.EntityType, limit int) ([]*graph.Entity, error) {
	sql := `
		SELECT ` + prefixed("e", entityColumns) + `
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE lower(e.name) LIKE '%' || lower($1) || '%'`
	args := []any{query}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		args = append(args, names)
		sql += fmt.Sprintf(` AND e.entity_type = ANY($%d)`, len(args))
	}
	sql += ` ORDER BY e.updated_at, e.id`
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr("search entities", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// PutBlob stores a blob after verifying its checksum and size
func (s *Store) PutBlob(ctx context.Context, b *graph.Blob) error {
	if err := b.Verify(); err != nil {
		return err
	}
	meta := b.BlobMetadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blobs (id, name, type, mime, size, data, metadata, checksum, sync_status, server_url, last_sync_at, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, mime = EXCLUDED.mime,
			size = EXCLUDED.size, data = EXCLUDED.data, metadata = EXCLUDED.metadata,
			checksum = EXCLUDED.checksum, sync_status = EXCLUDED.sync_status,
			server_url = EXCLUDED.server_url, last_sync_at = EXCLUDED.last_sync_at,
			updated_at = EXCLUDED.updated_at
	`, b.ID, b.Name, string(b.BlobType), b.MimeType, b.Size, b.Data, meta, b.Checksum, string(b.SyncStatus), b.ServerURL, b.LastSyncAt, b.UserID, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return storageErr("put blob", err)
	}
	return nil
}

func (s *Store) scanBlob(row rowScanner) (*graph.Blob, error) {
	var b graph.Blob
	var typ, status string
	if err := row.Scan(&b.ID, &b.Name, &typ, &b.MimeType, &b.Size, &b.Data, &b.BlobMetadata, &b.Checksum, &status, &b.ServerURL, &b.LastSyncAt, &b.UserID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.BlobType = graph.BlobType(typ)
	b.SyncStatus = graph.BlobStatus(status)
	return &b, nil
}

const blobColumns = `id, name, type, mime, size, data, metadata, checksum, sync_status, server_url, last_sync_at, user_id, created_at, updated_at`

// GetBlob returns a blob with its bytes
func (s *Store) GetBlob(ctx context.Context, id string) (*graph.Blob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id = $1`, id)
	b, err := s.scanBlob(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get blob", err)
	}
	return b, nil
}

// UpdateBlobData replaces the bytes, recomputes checksum and size, and
// resets sync status to pending_upload
func (s *Store) UpdateBlobData(ctx context.Context, id string, data []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE blobs
		SET data = $2, size = $3, checksum = $4, sync_status = $5, updated_at = $6
		WHERE id = $1
	`, id, data, len(data), graph.ChecksumOf(data), string(graph.BlobStatusPendingUpload), time.Now().UTC())
	if err != nil {
		return storageErr("update blob data", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	return nil
}

// UpdateBlobStatus records the outcome of a transfer
func (s *Store) UpdateBlobStatus(ctx context.Context, id string, status graph.BlobStatus, serverURL string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE blobs
		SET sync_status = $2,
		    server_url = CASE WHEN $3 <> '' THEN $3 ELSE server_url END,
		    last_sync_at = $4
		WHERE id = $1
	`, id, string(status), serverURL, time.Now().UTC())
	if err != nil {
		return storageErr("update blob status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	return nil
}

// ListBlobsByStatus returns blobs in a given sync state
func (s *Store) ListBlobsByStatus(ctx context.Context, status graph.BlobStatus) ([]*graph.Blob, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+blobColumns+` FROM blobs WHERE sync_status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, storageErr("list blobs", err)
	}
	defer rows.Close()

	out := make([]*graph.Blob, 0)
	for rows.Next() {
		b, err := s.scanBlob(rows)
		if err != nil {
			return nil, storageErr("scan blob", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate blobs", err)
	}
	return out, nil
}

// GetSyncMetadata loads the per-replica record, initializing an empty one
// for unknown clients
func (s *Store) GetSyncMetadata(ctx context.Context, clientID string) (*store.SyncMetadata, error) {
	var m store.SyncMetadata
	m.ClientID = clientID
	err := s.pool.QueryRow(ctx, `
		SELECT last_sync_time, last_sync_success, last_sync_error, sync_failures,
		       total_syncs, total_conflicts, sync_in_progress, next_retry_time, vector_clock
		FROM sync_metadata WHERE client_id = $1
	`, clientID).Scan(&m.LastSyncTime, &m.LastSyncSuccess, &m.LastSyncError, &m.SyncFailures,
		&m.TotalSyncs, &m.TotalConflicts, &m.SyncInProgress, &m.NextRetryTime, &m.VectorClock)
	if err == pgx.ErrNoRows {
		return &store.SyncMetadata{ClientID: clientID, VectorClock: map[string]int64{}}, nil
	}
	if err != nil {
		return nil, storageErr("get sync metadata", err)
	}
	if m.VectorClock == nil {
		m.VectorClock = map[string]int64{}
	}
	return &m, nil
}

// PutSyncMetadata persists the per-replica record
func (s *Store) PutSyncMetadata(ctx context.Context, meta *store.SyncMetadata) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_metadata (client_id, last_sync_time, last_sync_success, last_sync_error,
			sync_failures, total_syncs, total_conflicts, sync_in_progress, next_retry_time, vector_clock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (client_id) DO UPDATE SET
			last_sync_time = EXCLUDED.last_sync_time,
			last_sync_success = EXCLUDED.last_sync_success,
			last_sync_error = EXCLUDED.last_sync_error,
			sync_failures = EXCLUDED.sync_failures,
			total_syncs = EXCLUDED.total_syncs,
			total_conflicts = EXCLUDED.total_conflicts,
			sync_in_progress = EXCLUDED.sync_in_progress,
			next_retry_time = EXCLUDED.next_retry_time,
			vector_clock = EXCLUDED.vector_clock
	`, meta.ClientID, meta.LastSyncTime, meta.LastSyncSuccess, meta.LastSyncError,
		meta.SyncFailures, meta.TotalSyncs, meta.TotalConflicts, meta.SyncInProgress,
		meta.NextRetryTime, meta.VectorClock)
	if err != nil {
		return storageErr("put sync metadata", err)
	}
	return nil
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
