package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/store"
)

// TrackChange upserts the dirty-tracking row for an entity. A pending
// create stays a create when further local edits land before a sync.
func (s *Store) TrackChange(ctx context.Context, c *store.TrackedChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin track", err)
	}
	defer tx.Rollback()

	var existingOp string
	var existingStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT operation, sync_status FROM client_sync_tracking WHERE entity_id = ?`, c.EntityID).
		Scan(&existingOp, &existingStatus)
	op := c.Operation
	if err == nil && existingStatus == string(store.TrackingPending) && existingOp == "create" && op == "update" {
		op = "create"
	} else if err != nil && err != sql.ErrNoRows {
		return storageErr("tracking probe", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO client_sync_tracking (entity_id, entity_type, sync_status, operation, entity_updated_at, last_sync_at, conflict_reason, retry_count)
		VALUES (?, ?, ?, ?, ?, NULL, '', 0)
		ON CONFLICT (entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			sync_status = excluded.sync_status,
			operation = ?,
			entity_updated_at = excluded.entity_updated_at,
			conflict_reason = '',
			retry_count = 0
	`, c.EntityID, string(c.EntityType), string(store.TrackingPending), op, fmtTime(c.EntityUpdatedAt), op); err != nil {
		return storageErr("upsert tracking", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit track", err)
	}
	return nil
}

// PendingChanges returns rows awaiting sync, oldest local edit first
func (s *Store) PendingChanges(ctx context.Context) ([]*store.TrackedChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, entity_type, sync_status, operation, entity_updated_at, last_sync_at, conflict_reason, retry_count
		FROM client_sync_tracking
		WHERE sync_status = ?
		ORDER BY entity_updated_at, entity_id
	`, string(store.TrackingPending))
	if err != nil {
		return nil, storageErr("query pending", err)
	}
	defer rows.Close()

	out := make([]*store.TrackedChange, 0)
	for rows.Next() {
		var c store.TrackedChange
		var typ, status, updated string
		var lastSync sql.NullString
		if err := rows.Scan(&c.EntityID, &typ, &status, &c.Operation, &updated, &lastSync, &c.ConflictReason, &c.RetryCount); err != nil {
			return nil, storageErr("scan tracking", err)
		}
		c.EntityType = graph.EntityType(typ)
		c.SyncStatus = store.TrackingStatus(status)
		if c.EntityUpdatedAt, err = parseTime(updated); err != nil {
			return nil, storageErr("decoding entity_updated_at", err)
		}
		if c.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
			return nil, storageErr("decoding last_sync_at", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate tracking", err)
	}
	return out, nil
}

// MarkSynced flips a tracked entity to synced
func (s *Store) MarkSynced(ctx context.Context, entityID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_sync_tracking
		SET sync_status = ?, last_sync_at = ?, conflict_reason = '', retry_count = 0
		WHERE entity_id = ?
	`, string(store.TrackingSynced), fmtTime(at), entityID)
	if err != nil {
		return storageErr("mark synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: tracked entity %s", graph.ErrNotFound, entityID)
	}
	return nil
}

// MarkConflict records a server-side rejection of the local change
func (s *Store) MarkConflict(ctx context.Context, entityID, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_sync_tracking
		SET sync_status = ?, last_sync_at = ?, conflict_reason = ?, retry_count = retry_count + 1
		WHERE entity_id = ?
	`, string(store.TrackingConflict), fmtTime(at), reason, entityID)
	if err != nil {
		return storageErr("mark conflict", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: tracked entity %s", graph.ErrNotFound, entityID)
	}
	return nil
}

// PendingCount counts rows still pending
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM client_sync_tracking WHERE sync_status = ?`,
		string(store.TrackingPending)).Scan(&n)
	if err != nil {
		return 0, storageErr("count pending", err)
	}
	return n, nil
}

// ClearTracking removes every tracking row
func (s *Store) ClearTracking(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_sync_tracking`); err != nil {
		return storageErr("clear tracking", err)
	}
	return nil
}
