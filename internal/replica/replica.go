// Package replica implements the offline-capable client: a local store with
// dirty tracking, an in-memory graph index over it, and the sync engine that
// reconciles with the server over the Inbetweenies protocol.
package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/index"
	"github.com/inbetweenies/homegraph/internal/store"
)

// Replica is the local-first write surface. Every write lands in the local
// store immediately, is tracked for the next sync round, and updates the
// in-memory index.
type Replica struct {
	store  store.ReplicaStore
	index  *index.Index
	events *broadcaster

	clientID string
	userID   string
}

// NewReplica wires a replica over an opened store. The index is loaded from
// the store so queries work before the first sync.
func NewReplica(ctx context.Context, st store.ReplicaStore, clientID, userID string) (*Replica, error) {
	ix := index.New()
	if err := ix.Load(ctx, st); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return &Replica{
		store:    st,
		index:    ix,
		events:   newBroadcaster(),
		clientID: clientID,
		userID:   userID,
	}, nil
}

// Store exposes the underlying replica store
func (r *Replica) Store() store.ReplicaStore { return r.store }

// Index exposes the in-memory graph index
func (r *Replica) Index() *index.Index { return r.index }

// ClientID returns the replica's stable device identifier
func (r *Replica) ClientID() string { return r.clientID }

// Subscribe registers an event consumer
func (r *Replica) Subscribe() (<-chan Event, func()) {
	return r.events.Subscribe()
}

// CreateEntity writes version 1 of a new entity. An empty id gets a fresh
// UUID.
func (r *Replica) CreateEntity(ctx context.Context, id string, t graph.EntityType, name string, content map[string]any, source graph.SourceType) (*graph.Entity, error) {
	if id == "" {
		id = uuid.NewString()
	}
	e, err := graph.NewEntity(id, t, name, content, source, r.userID, time.Now())
	if err != nil {
		return nil, err
	}
	if err := r.store.StoreEntity(ctx, e); err != nil {
		return nil, err
	}
	if err := r.track(ctx, e, "create"); err != nil {
		return nil, err
	}
	r.index.UpsertEntity(e)
	r.events.Publish(Event{Type: EventEntityUpdated, EntityID: e.ID})
	return e, nil
}

// UpdateEntity appends the next version with changes merged into content
func (r *Replica) UpdateEntity(ctx context.Context, id string, changes map[string]any) (*graph.Entity, error) {
	latest, err := r.store.GetLatestEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest.Deleted() {
		return nil, fmt.Errorf("%w: entity %s is deleted", graph.ErrNotFound, id)
	}
	next := latest.NextVersion(changes, r.userID, time.Now())
	if err := r.store.StoreEntity(ctx, next); err != nil {
		return nil, err
	}
	if err := r.track(ctx, next, "update"); err != nil {
		return nil, err
	}
	r.index.UpsertEntity(next)
	r.events.Publish(Event{Type: EventEntityUpdated, EntityID: id})
	return next, nil
}

// DeleteEntity appends a tombstone version. The id stays resolvable; only
// the latest version carries the deletion marker.
func (r *Replica) DeleteEntity(ctx context.Context, id string) (*graph.Entity, error) {
	latest, err := r.store.GetLatestEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest.Deleted() {
		return latest, nil
	}
	tomb := graph.Tombstone(latest, r.userID, time.Now())
	if err := r.store.StoreEntity(ctx, tomb); err != nil {
		return nil, err
	}
	if err := r.track(ctx, tomb, "delete"); err != nil {
		return nil, err
	}
	r.index.RemoveEntity(id)
	r.events.Publish(Event{Type: EventEntityDeleted, EntityID: id})
	return tomb, nil
}

// CreateRelationship connects the current latest versions of two entities
func (r *Replica) CreateRelationship(ctx context.Context, fromID, toID string, t graph.RelationshipType, properties map[string]any) (*graph.Relationship, error) {
	from, err := r.store.GetLatestEntity(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := r.store.GetLatestEntity(ctx, toID)
	if err != nil {
		return nil, err
	}
	if properties == nil {
		properties = map[string]any{}
	}
	now := time.Now().UTC()
	rel := &graph.Relationship{
		ID:                uuid.NewString(),
		FromEntityID:      from.ID,
		FromEntityVersion: from.Version,
		ToEntityID:        to.ID,
		ToEntityVersion:   to.Version,
		RelationshipType:  t,
		Properties:        properties,
		UserID:            r.userID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.store.StoreRelationship(ctx, rel); err != nil {
		return nil, err
	}
	// The edge rides with its from-entity on the next sync round
	if err := r.track(ctx, from, "update"); err != nil {
		return nil, err
	}
	r.index.InsertRelationship(rel)
	return rel, nil
}

// AddBlob stores binary content locally for upload on the next sync round
func (r *Replica) AddBlob(ctx context.Context, name string, t graph.BlobType, mime string, data []byte, metadata map[string]any) (*graph.Blob, error) {
	b, err := graph.NewBlob(uuid.NewString(), name, t, mime, data, metadata, r.userID, time.Now())
	if err != nil {
		return nil, err
	}
	if err := r.store.PutBlob(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// PendingCount reports how many local changes await sync
func (r *Replica) PendingCount(ctx context.Context) (int, error) {
	return r.store.PendingCount(ctx)
}

func (r *Replica) track(ctx context.Context, e *graph.Entity, op string) error {
	return r.store.TrackChange(ctx, &store.TrackedChange{
		EntityID:        e.ID,
		EntityType:      e.EntityType,
		Operation:       op,
		EntityUpdatedAt: e.UpdatedAt,
	})
}
