// Package memory provides an in-memory ReplicaStore used by unit tests and
// by the in-process sync tests that wire two replicas together.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/store"
)

// Store keeps the whole graph in process memory behind one RWMutex. The
// single lock also serializes version appends per entity.
type Store struct {
	mu       sync.RWMutex
	versions map[string][]*graph.Entity // entity_id -> versions, insertion order
	latest   map[string]*graph.Entity
	rels     []*graph.Relationship
	blobs    map[string]*graph.Blob
	meta     map[string]*store.SyncMetadata
	tracking map[string]*store.TrackedChange
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		versions: make(map[string][]*graph.Entity),
		latest:   make(map[string]*graph.Entity),
		blobs:    make(map[string]*graph.Blob),
		meta:     make(map[string]*store.SyncMetadata),
		tracking: make(map[string]*store.TrackedChange),
	}
}

var _ store.ReplicaStore = (*Store)(nil)

func cloneEntity(e *graph.Entity) *graph.Entity {
	c := *e
	return &c
}

// StoreEntity appends a version after checking duplicates and parents
func (s *Store) StoreEntity(ctx context.Context, e *graph.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions[e.ID] {
		if v.Version == e.Version {
			return fmt.Errorf("%w: entity %s version %s", graph.ErrDuplicateVersion, e.ID, e.Version)
		}
	}
	for _, parent := range e.ParentVersions {
		if !s.hasVersionLocked(e.ID, parent) {
			return fmt.Errorf("%w: parent version %s of entity %s does not exist", graph.ErrInvalidInput, parent, e.ID)
		}
	}

	c := cloneEntity(e)
	s.versions[e.ID] = append(s.versions[e.ID], c)
	if cur, ok := s.latest[e.ID]; !ok || graph.Newer(c, cur) {
		s.latest[e.ID] = c
	}
	return nil
}

func (s *Store) hasVersionLocked(id, version string) bool {
	for _, v := range s.versions[id] {
		if v.Version == version {
			return true
		}
	}
	return false
}

// GetEntity returns the exact (id, version) record
func (s *Store) GetEntity(ctx context.Context, id, version string) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[id] {
		if v.Version == version {
			return cloneEntity(v), nil
		}
	}
	return nil, fmt.Errorf("%w: entity %s version %s", graph.ErrNotFound, id, version)
}

// GetLatestEntity returns the latest version of an entity
func (s *Store) GetLatestEntity(ctx context.Context, id string) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.latest[id]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id)
	}
	return cloneEntity(e), nil
}

// GetEntityVersions returns all versions ordered by created_at ascending
func (s *Store) GetEntityVersions(ctx context.Context, id string) ([]*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id)
	}

	out := make([]*graph.Entity, len(versions))
	for i, v := range versions {
		out[i] = cloneEntity(v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Version < out[j].Version
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) latestSortedLocked() []*graph.Entity {
	out := make([]*graph.Entity, 0, len(s.latest))
	for _, e := range s.latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		am, bm := a.UpdatedAt.UnixMilli(), b.UpdatedAt.UnixMilli()
		if am == bm {
			return a.ID < b.ID
		}
		return am < bm
	})
	return out
}

// GetEntitiesByType returns latest versions matching the type
func (s *Store) GetEntitiesByType(ctx context.Context, t graph.EntityType) ([]*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*graph.Entity, 0)
	for _, e := range s.latestSortedLocked() {
		if e.EntityType == t {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

// ListEntities returns latest versions ordered by (updated_at, id)
func (s *Store) ListEntities(ctx context.Context, limit, offset int) ([]*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.latestSortedLocked()
	if offset >= len(all) {
		return []*graph.Entity{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]*graph.Entity, len(all))
	for i, e := range all {
		out[i] = cloneEntity(e)
	}
	return out, nil
}

// EntitiesUpdatedSince pages latest versions strictly after the cursor
// position in (updated_at_ms, id) order
func (s *Store) EntitiesUpdatedSince(ctx context.Context, q store.ChangeQuery) ([]*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeFilter := make(map[graph.EntityType]bool, len(q.Types))
	for _, t := range q.Types {
		typeFilter[t] = true
	}

	out := make([]*graph.Entity, 0)
	for _, e := range s.latestSortedLocked() {
		ms := e.UpdatedAt.UnixMilli()
		if ms < q.AfterMs || (ms == q.AfterMs && e.ID <= q.AfterID) {
			continue
		}
		if len(typeFilter) > 0 && !typeFilter[e.EntityType] {
			continue
		}
		if q.ModifiedBy != "" && e.UserID != q.ModifiedBy {
			continue
		}
		out = append(out, cloneEntity(e))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// StoreRelationship validates endpoints and the type pair, then persists
func (s *Store) StoreRelationship(ctx context.Context, r *graph.Relationship) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.findVersionLocked(r.FromEntityID, r.FromEntityVersion)
	if from == nil {
		return fmt.Errorf("%w: relationship source %s@%s", graph.ErrNotFound, r.FromEntityID, r.FromEntityVersion)
	}
	to := s.findVersionLocked(r.ToEntityID, r.ToEntityVersion)
	if to == nil {
		return fmt.Errorf("%w: relationship target %s@%s", graph.ErrNotFound, r.ToEntityID, r.ToEntityVersion)
	}
	if err := graph.ValidateRelationship(from.EntityType, to.EntityType, r.RelationshipType); err != nil {
		return err
	}

	c := *r
	s.rels = append(s.rels, &c)
	return nil
}

func (s *Store) findVersionLocked(id, version string) *graph.Entity {
	for _, v := range s.versions[id] {
		if v.Version == version {
			return v
		}
	}
	return nil
}

// GetRelationships runs a filtered scan in insertion order
func (s *Store) GetRelationships(ctx context.Context, q store.RelationshipQuery) ([]*graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*graph.Relationship, 0)
	for _, r := range s.rels {
		if q.FromID != "" && r.FromEntityID != q.FromID {
			continue
		}
		if q.ToID != "" && r.ToEntityID != q.ToID {
			continue
		}
		if q.Type != "" && r.RelationshipType != q.Type {
			continue
		}
		if !q.IncludeAllVersions && !s.isLatestEdgeLocked(r) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) isLatestEdgeLocked(r *graph.Relationship) bool {
	from, okF := s.latest[r.FromEntityID]
	to, okT := s.latest[r.ToEntityID]
	return okF && okT && from.Version == r.FromEntityVersion && to.Version == r.ToEntityVersion
}

// SearchEntities substring-matches latest-version names, case-insensitive
func (s *Store) SearchEntities(ctx context.Context, query string, types []graph.EntityType, limit int) ([]*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeFilter := make(map[graph.EntityType]bool, len(types))
	for _, t := range types {
		typeFilter[t] = true
	}
	needle := strings.ToLower(query)

	out := make([]*graph.Entity, 0)
	for _, e := range s.latestSortedLocked() {
		if len(typeFilter) > 0 && !typeFilter[e.EntityType] {
			continue
		}
		if !strings.Contains(strings.ToLower(e.Name), needle) {
			continue
		}
		out = append(out, cloneEntity(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PutBlob stores a blob after verifying its checksum and size
func (s *Store) PutBlob(ctx context.Context, b *graph.Blob) error {
	if err := b.Verify(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *b
	s.blobs[b.ID] = &c
	return nil
}

// GetBlob returns a blob with its bytes
func (s *Store) GetBlob(ctx context.Context, id string) (*graph.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	c := *b
	return &c, nil
}

// UpdateBlobData replaces the bytes and resets status to pending_upload
func (s *Store) UpdateBlobData(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[id]
	if !ok {
		return fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	b.SetData(data, time.Now())
	return nil
}

// UpdateBlobStatus records the outcome of a transfer
func (s *Store) UpdateBlobStatus(ctx context.Context, id string, status graph.BlobStatus, serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[id]
	if !ok {
		return fmt.Errorf("%w: blob %s", graph.ErrNotFound, id)
	}
	b.SyncStatus = status
	if serverURL != "" {
		b.ServerURL = serverURL
	}
	now := time.Now().UTC()
	b.LastSyncAt = &now
	return nil
}

// ListBlobsByStatus returns blobs in a given sync state
func (s *Store) ListBlobsByStatus(ctx context.Context, status graph.BlobStatus) ([]*graph.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*graph.Blob, 0)
	for _, b := range s.blobs {
		if b.SyncStatus == status {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSyncMetadata loads the per-replica record, initializing an empty one
// for unknown clients
func (s *Store) GetSyncMetadata(ctx context.Context, clientID string) (*store.SyncMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meta[clientID]
	if !ok {
		return &store.SyncMetadata{ClientID: clientID, VectorClock: map[string]int64{}}, nil
	}
	c := *m
	c.VectorClock = m.VectorClock.Copy()
	return &c, nil
}

// PutSyncMetadata persists the per-replica record
func (s *Store) PutSyncMetadata(ctx context.Context, meta *store.SyncMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *meta
	c.VectorClock = meta.VectorClock.Copy()
	s.meta[meta.ClientID] = &c
	return nil
}

// Close is a no-op for the in-memory store
func (s *Store) Close() error { return nil }

// TrackChange upserts a pending tracking row. A delete overrides a prior
// create/update for the same entity.
func (s *Store) TrackChange(ctx context.Context, c *store.TrackedChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *c
	if row.SyncStatus == "" {
		row.SyncStatus = store.TrackingPending
	}
	if prev, ok := s.tracking[c.EntityID]; ok && prev.Operation == "create" && row.Operation == "update" {
		// Entity never reached the server; still a create from its view
		row.Operation = "create"
	}
	s.tracking[c.EntityID] = &row
	return nil
}

// PendingChanges returns pending rows ordered by entity update time
func (s *Store) PendingChanges(ctx context.Context) ([]*store.TrackedChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.TrackedChange, 0)
	for _, c := range s.tracking {
		if c.SyncStatus == store.TrackingPending {
			row := *c
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityUpdatedAt.Equal(out[j].EntityUpdatedAt) {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].EntityUpdatedAt.Before(out[j].EntityUpdatedAt)
	})
	return out, nil
}

// MarkSynced flips a tracked entity to synced
func (s *Store) MarkSynced(ctx context.Context, entityID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.tracking[entityID]
	if !ok {
		return nil
	}
	c.SyncStatus = store.TrackingSynced
	at = at.UTC()
	c.LastSyncAt = &at
	c.ConflictReason = ""
	return nil
}

// MarkConflict records that the peer rejected the local change
func (s *Store) MarkConflict(ctx context.Context, entityID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.tracking[entityID]
	if !ok {
		return nil
	}
	c.SyncStatus = store.TrackingConflict
	c.ConflictReason = reason
	at = at.UTC()
	c.LastSyncAt = &at
	c.RetryCount++
	return nil
}

// PendingCount counts rows still pending
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.tracking {
		if c.SyncStatus == store.TrackingPending {
			n++
		}
	}
	return n, nil
}

// ClearTracking removes every tracking row
func (s *Store) ClearTracking(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracking = make(map[string]*store.TrackedChange)
	return nil
}
