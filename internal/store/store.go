// Package store defines the durable storage contract for the home graph.
// Three implementations exist: postgres (authoritative server), sqlite
// (offline replica), and memory (tests).
package store

import (
	"context"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
)

// RelationshipQuery filters a relationship scan. Empty fields match
// everything; when IncludeAllVersions is false only edges whose endpoint
// versions equal the current latest are returned.
type RelationshipQuery struct {
	FromID             string
	ToID               string
	Type               graph.RelationshipType
	IncludeAllVersions bool
}

// ChangeQuery pages through latest entity versions in (updated_at, id)
// order, strictly after the (AfterMs, AfterID) position
type ChangeQuery struct {
	AfterMs    int64
	AfterID    string
	Types      []graph.EntityType
	ModifiedBy string
	Limit      int
}

// SyncMetadata is the per-replica sync bookkeeping record
type SyncMetadata struct {
	ClientID        string                   `json:"client_id"`
	LastSyncTime    *time.Time               `json:"last_sync_time,omitempty"`
	LastSyncSuccess *time.Time               `json:"last_sync_success,omitempty"`
	LastSyncError   string                   `json:"last_sync_error,omitempty"`
	SyncFailures    int                      `json:"sync_failures"`
	TotalSyncs      int                      `json:"total_syncs"`
	TotalConflicts  int                      `json:"total_conflicts"`
	SyncInProgress  bool                     `json:"sync_in_progress"`
	NextRetryTime   *time.Time               `json:"next_retry_time,omitempty"`
	VectorClock     inbetweenies.VectorClock `json:"vector_clock"`
}

// TrackingStatus is the lifecycle state of a locally tracked change
type TrackingStatus string

const (
	TrackingPending  TrackingStatus = "pending"
	TrackingSynced   TrackingStatus = "synced"
	TrackingConflict TrackingStatus = "conflict"
)

// TrackedChange is one row of the replica's change-tracking side table
type TrackedChange struct {
	EntityID        string         `json:"entity_id"`
	EntityType      graph.EntityType `json:"entity_type"`
	SyncStatus      TrackingStatus `json:"sync_status"`
	Operation       string         `json:"operation"`
	EntityUpdatedAt time.Time      `json:"entity_updated_at"`
	LastSyncAt      *time.Time     `json:"last_sync_at,omitempty"`
	ConflictReason  string         `json:"conflict_reason,omitempty"`
	RetryCount      int            `json:"retry_count"`
}

// Store is the L1 contract. Every write is atomic: on error no change is
// visible. Appends to the same entity are serialized by the implementation.
type Store interface {
	// StoreEntity appends a version. Fails with graph.ErrDuplicateVersion
	// when (id, version) is already present and graph.ErrInvalidInput when
	// a parent version does not resolve.
	StoreEntity(ctx context.Context, e *graph.Entity) error

	// GetEntity returns the exact (id, version) record
	GetEntity(ctx context.Context, id, version string) (*graph.Entity, error)

	// GetLatestEntity returns the latest version: greatest created_at, ties
	// broken by lexicographic version
	GetLatestEntity(ctx context.Context, id string) (*graph.Entity, error)

	// GetEntityVersions returns all versions ordered by created_at ascending
	GetEntityVersions(ctx context.Context, id string) ([]*graph.Entity, error)

	// GetEntitiesByType returns the latest version of every entity whose
	// latest-version type matches
	GetEntitiesByType(ctx context.Context, t graph.EntityType) ([]*graph.Entity, error)

	// ListEntities returns latest versions ordered by (updated_at, id)
	ListEntities(ctx context.Context, limit, offset int) ([]*graph.Entity, error)

	// EntitiesUpdatedSince pages latest versions for sync delta computation
	EntitiesUpdatedSince(ctx context.Context, q ChangeQuery) ([]*graph.Entity, error)

	// StoreRelationship persists an edge after validating the type pair and
	// both endpoint versions
	StoreRelationship(ctx context.Context, r *graph.Relationship) error

	// GetRelationships runs a filtered scan
	GetRelationships(ctx context.Context, q RelationshipQuery) ([]*graph.Relationship, error)

	// SearchEntities substring-matches latest-version names
	SearchEntities(ctx context.Context, query string, types []graph.EntityType, limit int) ([]*graph.Entity, error)

	// PutBlob stores a blob after verifying its checksum
	PutBlob(ctx context.Context, b *graph.Blob) error
	GetBlob(ctx context.Context, id string) (*graph.Blob, error)
	// UpdateBlobData replaces blob bytes and resets sync status to
	// pending_upload
	UpdateBlobData(ctx context.Context, id string, data []byte) error
	UpdateBlobStatus(ctx context.Context, id string, status graph.BlobStatus, serverURL string) error
	ListBlobsByStatus(ctx context.Context, status graph.BlobStatus) ([]*graph.Blob, error)

	GetSyncMetadata(ctx context.Context, clientID string) (*SyncMetadata, error)
	PutSyncMetadata(ctx context.Context, meta *SyncMetadata) error

	Close() error
}

// ReplicaStore extends Store with the client-side change tracking that
// drives delta sync
type ReplicaStore interface {
	Store

	// TrackChange upserts a pending tracking row for an entity
	TrackChange(ctx context.Context, c *TrackedChange) error

	// PendingChanges returns tracking rows still awaiting sync, oldest first
	PendingChanges(ctx context.Context) ([]*TrackedChange, error)

	// MarkSynced flips a tracked entity to synced
	MarkSynced(ctx context.Context, entityID string, at time.Time) error

	// MarkConflict records that the server rejected the local change
	MarkConflict(ctx context.Context, entityID, reason string, at time.Time) error

	// PendingCount counts rows still pending
	PendingCount(ctx context.Context) (int, error)

	// ClearTracking removes every tracking row
	ClearTracking(ctx context.Context) error
}
