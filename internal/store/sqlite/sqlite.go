// Package sqlite implements the offline replica store on an embedded
// SQLite database. A single file holds the replicated graph plus the
// replica-only sync bookkeeping.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
	"github.com/inbetweenies/homegraph/internal/store"
)

// Store is the SQLite-backed replica L1
type Store struct {
	db *sql.DB
}

var _ store.ReplicaStore = (*Store)(nil)

// Open opens (or creates) the replica database at path and applies
// pending migrations. Writes take the lock up front via immediate
// transactions so appends to the same entity never interleave.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening replica db: %v", graph.ErrStorageError, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", graph.ErrStorageError, err)
	}
	return &Store{db: db}, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", graph.ErrStorageError, op, err)
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const entityColumns = `id, version, entity_type, name, content, source_type, user_id, parent_versions, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*graph.Entity, error) {
	var e graph.Entity
	var typ, src, content, parents, created, updated string
	if err := row.Scan(&e.ID, &e.Version, &typ, &e.Name, &content, &src, &e.UserID, &parents, &created, &updated); err != nil {
		return nil, err
	}
	e.EntityType = graph.EntityType(typ)
	e.SourceType = graph.SourceType(src)
	if err := json.Unmarshal([]byte(content), &e.Content); err != nil {
		return nil, fmt.Errorf("decoding content: %w", err)
	}
	if err := json.Unmarshal([]byte(parents), &e.ParentVersions); err != nil {
		return nil, fmt.Errorf("decoding parent versions: %w", err)
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("decoding created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("decoding updated_at: %w", err)
	}
	if e.Content == nil {
		e.Content = map[string]any{}
	}
	if e.ParentVersions == nil {
		e.ParentVersions = []string{}
	}
	return &e, nil
}

// StoreEntity appends a version. The immediate transaction serializes
// concurrent appends; latest_version is maintained in the same commit.
func (s *Store) StoreEntity(ctx context.Context, e *graph.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin append", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE id = ? AND version = ?)`,
		e.ID, e.Version).Scan(&exists); err != nil {
		return storageErr("duplicate probe", err)
	}
	if exists {
		return fmt.Errorf("%w: entity %s version %s", graph.ErrDuplicateVersion, e.ID, e.Version)
	}

	for _, parent := range e.ParentVersions {
		var ok bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM entities WHERE id = ? AND version = ?)`,
			e.ID, parent).Scan(&ok); err != nil {
			return storageErr("parent probe", err)
		}
		if !ok {
			return fmt.Errorf("%w: parent version %s of entity %s does not exist", graph.ErrInvalidInput, parent, e.ID)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, version, entity_type, name, content, source_type, user_id, parent_versions, created_at, updated_at, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Version, string(e.EntityType), e.Name, encodeJSON(e.Content), string(e.SourceType),
		e.UserID, encodeJSON(e.ParentVersions), fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt), e.UpdatedAt.UnixMilli()); err != nil {
		return storageErr("insert version", err)
	}

	// RFC3339Nano text does not sort chronologically across fraction widths,
	// so the latest comparison happens here rather than in SQL.
	var curVersion, curCreated sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT version, created_at FROM latest_version WHERE entity_id = ?`, e.ID).
		Scan(&curVersion, &curCreated)
	replace := false
	switch {
	case err == sql.ErrNoRows:
		replace = true
	case err != nil:
		return storageErr("latest probe", err)
	default:
		cur, perr := parseTime(curCreated.String)
		if perr != nil {
			return storageErr("decoding latest created_at", perr)
		}
		if e.CreatedAt.After(cur) || (e.CreatedAt.Equal(cur) && e.Version > curVersion.String) {
			replace = true
		}
	}
	if replace {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO latest_version (entity_id, version, created_at) VALUES (?, ?, ?)
			ON CONFLICT (entity_id) DO UPDATE SET version = excluded.version, created_at = excluded.created_at
		`, e.ID, e.Version, fmtTime(e.CreatedAt)); err != nil {
			return storageErr("latest upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit append", err)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id, version string) (*graph.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ? AND version = ?`, id, version)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s version %s", graph.ErrNotFound, id, version)
	}
	if err != nil {
		return nil, storageErr("get entity", err)
	}
	return e, nil
}

func (s *Store) GetLatestEntity(ctx context.Context, id string) (*graph.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixed("e", entityColumns)+`
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE e.id = ?
	`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
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

func (s *Store) collect(rows *sql.Rows) ([]*graph.Entity, error) {
	defer rows.Close()
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

func (s *Store) GetEntityVersions(ctx context.Context, id string) ([]*graph.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ? ORDER BY created_at, version`, id)
	if err != nil {
		return nil, storageErr("query versions", err)
	}
	out, err := s.collect(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id)
	}
	// created_at is stored as text; re-sort chronologically to be safe
	sortVersions(out)
	return out, nil
}

func sortVersions(versions []*graph.Entity) {
	sort.Slice(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Version < b.Version
	})
}

func (s *Store) GetEntitiesByType(ctx context.Context, t graph.EntityType) ([]*graph.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("e", entityColumns)+`
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE e.entity_type = ?
		ORDER BY e.updated_ms, e.id
	`, string(t))
	if err != nil {
		return nil, storageErr("query by type", err)
	}
	return s.collect(rows)
}

func (s *Store) ListEntities(ctx context.Context, limit, offset int) ([]*graph.Entity, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("e", entityColumns)+`
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		ORDER BY e.updated_ms, e.id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, storageErr("list entities", err)
	}
	return s.collect(rows)
}

func (s *Store) EntitiesUpdatedSince(ctx context.Context, q store.ChangeQuery) ([]*graph.Entity, error) {
	sqlText := `
		SELECT ` + prefixed("e", entityColumns) + `
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE (e.updated_ms > ? OR (e.updated_ms = ? AND e.id > ?))`
	args := []any{q.AfterMs, q.AfterMs, q.AfterID}

	if len(q.Types) > 0 {
		sqlText += ` AND e.entity_type IN (?` + strings.Repeat(", ?", len(q.Types)-1) + `)`
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if q.ModifiedBy != "" {
		sqlText += ` AND e.user_id = ?`
		args = append(args, q.ModifiedBy)
	}
	sqlText += ` ORDER BY e.updated_ms, e.id`
	if q.Limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, storageErr("query updated since", err)
	}
	return s.collect(rows)
}

func (s *Store) StoreRelationship(ctx context.Context, r *graph.Relationship) error {
	if err := r.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin relationship", err)
	}
	defer tx.Rollback()

	var fromType, toType string
	err = tx.QueryRowContext(ctx, `SELECT entity_type FROM entities WHERE id = ? AND version = ?`,
		r.FromEntityID, r.FromEntityVersion).Scan(&fromType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: relationship source %s@%s", graph.ErrNotFound, r.FromEntityID, r.FromEntityVersion)
	}
	if err != nil {
		return storageErr("source probe", err)
	}
	err = tx.QueryRowContext(ctx, `SELECT entity_type FROM entities WHERE id = ? AND version = ?`,
		r.ToEntityID, r.ToEntityVersion).Scan(&toType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: relationship target %s@%s", graph.ErrNotFound, r.ToEntityID, r.ToEntityVersion)
	}
	if err != nil {
		return storageErr("target probe", err)
	}

	if err := graph.ValidateRelationship(graph.EntityType(fromType), graph.EntityType(toType), r.RelationshipType); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entity_relationships (id, from_id, from_version, to_id, to_version, type, properties, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.FromEntityID, r.FromEntityVersion, r.ToEntityID, r.ToEntityVersion,
		string(r.RelationshipType), encodeJSON(r.Properties), r.UserID, fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt)); err != nil {
		return storageErr("insert relationship", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit relationship", err)
	}
	return nil
}

func (s *Store) GetRelationships(ctx context.Context, q store.RelationshipQuery) ([]*graph.Relationship, error) {
	sqlText := `
		SELECT r.id, r.from_id, r.from_version, r.to_id, r.to_version, r.type, r.properties, r.user_id, r.created_at, r.updated_at
		FROM entity_relationships r`
	if !q.IncludeAllVersions {
		sqlText += `
		JOIN latest_version lf ON lf.entity_id = r.from_id AND lf.version = r.from_version
		JOIN latest_version lt ON lt.entity_id = r.to_id AND lt.version = r.to_version`
	}
	sqlText += ` WHERE 1=1`
	var args []any
	if q.FromID != "" {
		sqlText += ` AND r.from_id = ?`
		args = append(args, q.FromID)
	}
	if q.ToID != "" {
		sqlText += ` AND r.to_id = ?`
		args = append(args, q.ToID)
	}
	if q.Type != "" {
		sqlText += ` AND r.type = ?`
		args = append(args, string(q.Type))
	}
	sqlText += ` ORDER BY r.created_at, r.id`

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, storageErr("query relationships", err)
	}
	defer rows.Close()

	out := make([]*graph.Relationship, 0)
	for rows.Next() {
		var r graph.Relationship
		var typ, props, created, updated string
		if err := rows.Scan(&r.ID, &r.FromEntityID, &r.FromEntityVersion, &r.ToEntityID, &r.ToEntityVersion,
			&typ, &props, &r.UserID, &created, &updated); err != nil {
			return nil, storageErr("scan relationship", err)
		}
		r.RelationshipType = graph.RelationshipType(typ)
		if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
			return nil, storageErr("decoding properties", err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, storageErr("decoding created_at", err)
		}
		if r.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, storageErr("decoding updated_at", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate relationships", err)
	}
	return out, nil
}

func (s *Store) SearchEntities(ctx context.Context, query string, types []graph.EntityType, limit int) ([]*graph.Entity, error) {
	sqlText := `
		SELECT ` + prefixed("e", entityColumns) + `
		FROM entities e
		JOIN latest_version lv ON lv.entity_id = e.id AND lv.version = e.version
		WHERE instr(lower(e.name), lower(?)) > 0`
	args := []any{query}
	if len(types) > 0 {
		sqlText += ` AND e.entity_type IN (?` + strings.Repeat(", ?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	sqlText += ` ORDER BY e.updated_ms, e.id`
	if limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, storageErr("search entities", err)
	}
	return s.collect(rows)
}

const blobColumns = `id, name, type, mime, size, data, metadata, checksum, sync_status, server_url, last_sync_at, user_id, created_at, updated_at`

func (s *Store) PutBlob(ctx context.Context, b *graph.Blob) error {
	if err := b.Verify(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, name, type, mime, size, data, metadata, checksum, sync_status, server_url, last_sync_at, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, type = excluded.type, mime = excluded.mime,
			size = excluded.size, data = excluded.data, metadata = excluded.metadata,
			checksum = excluded.checksum, sync_status = excluded.sync_status,
			server_url = excluded.server_url, last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at
	`, b.ID, b.Name, string(b.BlobType), b.MimeType, b.Size, b.Data, encodeJSON(b.BlobMetadata),
		b.Checksum, string(b.SyncStatus), b.ServerURL, fmtTimePtr(b.LastSyncAt), b.UserID,
		fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt))
	if err != nil {
		return storageErr("put blob", err)
	}
	return nil
}

func scanBlob(row rowScanner) (*graph.Blob, error) {
	var b graph.Blob
	var typ, status, created, updated string
	var meta string
	var lastSync sql.NullString
	if err := row.Scan(&b.ID, &b.Name, &typ, &b.MimeType, &b.Size, &b.Data, &meta, &b.Checksum,
		&status, &b.ServerURL, &lastSync, &b.UserID, &created, &updated); err != nil {
		return nil, err
	}
	b.BlobType = graph.BlobType(typ)
	b.SyncStatus = graph.BlobStatus(status)
	if err := json.Unmarshal([]byte(meta), &b.BlobMetadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	var err error
	if b.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
		return nil, fmt.Errorf("decoding last_sync_at: %w", err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("decoding created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("decoding updated_at: %w", err)
	}
	return &b, nil
}

func (s *Store) GetBlob(ctx context.Context, id string) (*graph.Blob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id = ?`, id)
	b, err := scanBlob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get blob", err)
	}
	return b, nil
}

func (s *Store) UpdateBlobData(ctx context.Context, id string, data []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE blobs
		SET data = ?, size = ?, checksum = ?, sync_status = ?, updated_at = ?
		WHERE id = ?
	`, data, len(data), graph.ChecksumOf(data), string(graph.BlobStatusPendingUpload), fmtTime(time.Now()), id)
	if err != nil {
		return storageErr("update blob data", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	return nil
}

func (s *Store) UpdateBlobStatus(ctx context.Context, id string, status graph.BlobStatus, serverURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE blobs
		SET sync_status = ?,
		    server_url = CASE WHEN ? <> '' THEN ? ELSE server_url END,
		    last_sync_at = ?
		WHERE id = ?
	`, string(status), serverURL, serverURL, fmtTime(time.Now()), id)
	if err != nil {
		return storageErr("update blob status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	return nil
}

func (s *Store) ListBlobsByStatus(ctx context.Context, status graph.BlobStatus) ([]*graph.Blob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE sync_status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, storageErr("list blobs", err)
	}
	defer rows.Close()

	out := make([]*graph.Blob, 0)
	for rows.Next() {
		b, err := scanBlob(rows)
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

func (s *Store) GetSyncMetadata(ctx context.Context, clientID string) (*store.SyncMetadata, error) {
	var m store.SyncMetadata
	m.ClientID = clientID
	var lastSync, lastOK, nextRetry sql.NullString
	var clock string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_time, last_sync_success, last_sync_error, sync_failures,
		       total_syncs, total_conflicts, sync_in_progress, next_retry_time, vector_clock
		FROM sync_metadata WHERE client_id = ?
	`, clientID).Scan(&lastSync, &lastOK, &m.LastSyncError, &m.SyncFailures,
		&m.TotalSyncs, &m.TotalConflicts, &m.SyncInProgress, &nextRetry, &clock)
	if err == sql.ErrNoRows {
		return &store.SyncMetadata{ClientID: clientID, VectorClock: inbetweenies.VectorClock{}}, nil
	}
	if err != nil {
		return nil, storageErr("get sync metadata", err)
	}
	if m.LastSyncTime, err = parseTimePtr(lastSync); err != nil {
		return nil, storageErr("decoding last_sync_time", err)
	}
	if m.LastSyncSuccess, err = parseTimePtr(lastOK); err != nil {
		return nil, storageErr("decoding last_sync_success", err)
	}
	if m.NextRetryTime, err = parseTimePtr(nextRetry); err != nil {
		return nil, storageErr("decoding next_retry_time", err)
	}
	if err := json.Unmarshal([]byte(clock), &m.VectorClock); err != nil {
		return nil, storageErr("decoding vector clock", err)
	}
	if m.VectorClock == nil {
		m.VectorClock = inbetweenies.VectorClock{}
	}
	return &m, nil
}

func (s *Store) PutSyncMetadata(ctx context.Context, meta *store.SyncMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (client_id, last_sync_time, last_sync_success, last_sync_error,
			sync_failures, total_syncs, total_conflicts, sync_in_progress, next_retry_time, vector_clock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			last_sync_time = excluded.last_sync_time,
			last_sync_success = excluded.last_sync_success,
			last_sync_error = excluded.last_sync_error,
			sync_failures = excluded.sync_failures,
			total_syncs = excluded.total_syncs,
			total_conflicts = excluded.total_conflicts,
			sync_in_progress = excluded.sync_in_progress,
			next_retry_time = excluded.next_retry_time,
			vector_clock = excluded.vector_clock
	`, meta.ClientID, fmtTimePtr(meta.LastSyncTime), fmtTimePtr(meta.LastSyncSuccess), meta.LastSyncError,
		meta.SyncFailures, meta.TotalSyncs, meta.TotalConflicts, meta.SyncInProgress,
		fmtTimePtr(meta.NextRetryTime), encodeJSON(meta.VectorClock))
	if err != nil {
		return storageErr("put sync metadata", err)
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
