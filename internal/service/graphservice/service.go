// Package graphservice implements the server-side write path for the home
// graph: version appends, tombstones, and edge creation over the
// authoritative store, keeping the in-memory index current.
package graphservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/index"
	"github.com/inbetweenies/homegraph/internal/store"
)

// Service binds the store and index. Per-request writers are derived with
// For, carrying the authenticated user.
type Service struct {
	Store store.Store
	Index *index.Index
}

// New wires the write path
func New(st store.Store, ix *index.Index) *Service {
	return &Service{Store: st, Index: ix}
}

// For binds the write path to a user
func (s *Service) For(userID string) *Writer {
	return &Writer{svc: s, userID: userID}
}

// Writer performs writes attributed to one user
type Writer struct {
	svc    *Service
	userID string
}

// CreateEntity writes version 1 of a new entity. An empty id gets a fresh
// UUID.
func (w *Writer) CreateEntity(ctx context.Context, id string, t graph.EntityType, name string, content map[string]any, source graph.SourceType) (*graph.Entity, error) {
	if id == "" {
		id = uuid.NewString()
	}
	e, err := graph.NewEntity(id, t, name, content, source, w.userID, time.Now())
	if err != nil {
		return nil, err
	}
	if err := w.svc.Store.StoreEntity(ctx, e); err != nil {
		return nil, err
	}
	w.svc.Index.UpsertEntity(e)
	return e, nil
}

// UpdateEntity appends the next version with changes merged into content
func (w *Writer) UpdateEntity(ctx context.Context, id string, changes map[string]any) (*graph.Entity, error) {
	latest, err := w.svc.Store.GetLatestEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest.Deleted() {
		return nil, fmt.Errorf("%w: entity %s is deleted", graph.ErrNotFound, id)
	}
	next := latest.NextVersion(changes, w.userID, time.Now())
	if err := w.svc.Store.StoreEntity(ctx, next); err != nil {
		return nil, err
	}
	w.svc.Index.UpsertEntity(next)
	return next, nil
}

// DeleteEntity appends a tombstone version
func (w *Writer) DeleteEntity(ctx context.Context, id string) (*graph.Entity, error) {
	latest, err := w.svc.Store.GetLatestEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if latest.Deleted() {
		return latest, nil
	}
	tomb := graph.Tombstone(latest, w.userID, time.Now())
	if err := w.svc.Store.StoreEntity(ctx, tomb); err != nil {
		return nil, err
	}
	w.svc.Index.RemoveEntity(id)
	return tomb, nil
}

// CreateRelationship connects the current latest versions of two entities
func (w *Writer) CreateRelationship(ctx context.Context, fromID, toID string, t graph.RelationshipType, properties map[string]any) (*graph.Relationship, error) {
	from, err := w.svc.Store.GetLatestEntity(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := w.svc.Store.GetLatestEntity(ctx, toID)
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
		UserID:            w.userID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := w.svc.Store.StoreRelationship(ctx, rel); err != nil {
		return nil, err
	}
	w.svc.Index.InsertRelationship(rel)
	return rel, nil
}
