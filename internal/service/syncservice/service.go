// Package syncservice implements the server side of an Inbetweenies sync
// round: apply the client's changes under the deterministic conflict rule,
// then stream back the server's changes in cursor-sized pages.
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
	"github.com/inbetweenies/homegraph/internal/store"
)

// ServerClockID is the vector clock key the responder increments
const ServerClockID = "server"

// DefaultPageSize bounds one response's outbound change list
const DefaultPageSize = 100

// Service is the sync responder
type Service struct {
	Store    store.Store
	PageSize int
}

// New creates a responder over the authoritative store
func New(st store.Store) *Service {
	return &Service{Store: st, PageSize: DefaultPageSize}
}

// HandleSync runs one request/response exchange of a sync round. A non-empty
// response cursor tells the client to re-issue immediately with it; inbound
// changes are applied on every exchange they arrive on.
func (s *Service) HandleSync(ctx context.Context, req *inbetweenies.SyncRequest) (*inbetweenies.SyncResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	logger := log.With().Str("device_id", req.DeviceID).Str("sync_type", string(req.SyncType)).Logger()

	meta, err := s.Store.GetSyncMetadata(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	resp := &inbetweenies.SyncResponse{
		ProtocolVersion: inbetweenies.ProtocolVersion,
		SyncType:        req.SyncType,
		Changes:         []inbetweenies.SyncChange{},
		Conflicts:       []inbetweenies.ConflictInfo{},
	}
	stats := inbetweenies.SyncStats{}

	for i := range req.Changes {
		conflict, err := s.applyChange(ctx, &req.Changes[i], &stats)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			resp.Conflicts = append(resp.Conflicts, *conflict)
		}
	}

	switch req.SyncType {
	case inbetweenies.SyncTypeRelationships:
		if err := s.fillRelationshipsOnly(ctx, resp, &stats); err != nil {
			return nil, err
		}
	default:
		if err := s.fillEntityPage(ctx, req, resp, &stats); err != nil {
			return nil, err
		}
	}

	// Merge clocks and advance the server counter so every exchange is
	// observably ordered
	clock := meta.VectorClock.Merge(req.VectorClock)
	clock.Increment(ServerClockID)
	resp.VectorClock = clock

	now := time.Now().UTC()
	meta.VectorClock = clock
	meta.LastSyncTime = &now
	meta.LastSyncSuccess = &now
	meta.LastSyncError = ""
	meta.SyncFailures = 0
	meta.TotalSyncs++
	meta.TotalConflicts += len(resp.Conflicts)
	if err := s.Store.PutSyncMetadata(ctx, meta); err != nil {
		return nil, err
	}

	stats.ConflictsResolved = len(resp.Conflicts)
	stats.DurationMs = time.Since(start).Milliseconds()
	resp.SyncStats = stats

	logger.Info().
		Int("inbound", len(req.Changes)).
		Int("outbound", len(resp.Changes)).
		Int("conflicts", len(resp.Conflicts)).
		Int64("duration_ms", stats.DurationMs).
		Msg("sync round exchange complete")
	return resp, nil
}

// applyChange applies one inbound change. Duplicate versions are a no-op so
// retried requests stay idempotent; a losing remote change is reported as a
// conflict and not stored.
func (s *Service) applyChange(ctx context.Context, change *inbetweenies.SyncChange, stats *inbetweenies.SyncStats) (*inbetweenies.ConflictInfo, error) {
	e := change.Entity
	if e == nil {
		if len(change.Relationships) == 0 {
			return nil, fmt.Errorf("%w: change carries neither entity nor relationships", graph.ErrInvalidInput)
		}
		n, err := s.applyRelationships(ctx, change.Relationships)
		stats.RelationshipsSynced += n
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	latest, err := s.Store.GetLatestEntity(ctx, e.ID)
	switch {
	case errors.Is(err, graph.ErrNotFound):
		if err := s.storeRebased(ctx, e, nil); err != nil {
			return nil, err
		}
		stats.EntitiesSynced++
	case err != nil:
		return nil, err
	default:
		if latest.Version == e.Version {
			// Already applied on a previous attempt
			break
		}
		if _, gerr := s.Store.GetEntity(ctx, e.ID, e.Version); gerr == nil {
			break
		}
		res := inbetweenies.ResolveConflict(inbetweenies.RecordOf(latest), inbetweenies.RecordOf(e))
		if res.Winner == inbetweenies.SideLocal {
			return &inbetweenies.ConflictInfo{
				EntityID:        e.ID,
				LocalVersion:    latest.Version,
				RemoteVersion:   e.Version,
				Winner:          inbetweenies.SideLocal,
				Reason:          res.Reason,
				TimestampDiffMs: res.TimestampDiffMs,
			}, nil
		}
		if err := s.storeRebased(ctx, e, latest); err != nil {
			return nil, err
		}
		stats.EntitiesSynced++
	}

	n, err := s.applyRelationships(ctx, change.Relationships)
	stats.RelationshipsSynced += n
	return nil, err
}

// storeRebased appends an inbound version. When its declared parents do not
// resolve locally the version is rebased onto the current local latest, so
// histories that diverged while offline still join up.
func (s *Service) storeRebased(ctx context.Context, e *graph.Entity, latest *graph.Entity) error {
	copied := *e
	for _, parent := range e.ParentVersions {
		if _, err := s.Store.GetEntity(ctx, e.ID, parent); err != nil {
			if latest != nil {
				copied.ParentVersions = []string{latest.Version}
			} else {
				copied.ParentVersions = []string{}
			}
			break
		}
	}
	err := s.Store.StoreEntity(ctx, &copied)
	if errors.Is(err, graph.ErrDuplicateVersion) {
		return nil
	}
	return err
}

// applyRelationships stores inbound edges, skipping ones already present and
// ones whose endpoint versions have not arrived yet
func (s *Service) applyRelationships(ctx context.Context, rels []graph.Relationship) (int, error) {
	applied := 0
	for i := range rels {
		r := rels[i]
		existing, err := s.Store.GetRelationships(ctx, store.RelationshipQuery{
			FromID:             r.FromEntityID,
			ToID:               r.ToEntityID,
			Type:               r.RelationshipType,
			IncludeAllVersions: true,
		})
		if err != nil {
			return applied, err
		}
		present := false
		for _, ex := range existing {
			if ex.ID == r.ID {
				present = true
				break
			}
		}
		if present {
			continue
		}
		err = s.Store.StoreRelationship(ctx, &r)
		switch {
		case errors.Is(err, graph.ErrNotFound):
			// Endpoint version missing; the owning entity change was rejected
			// or has not synced yet
			log.Debug().Str("relationship_id", r.ID).Msg("skipping edge with unresolved endpoint")
		case err != nil:
			return applied, err
		default:
			applied++
		}
	}
	return applied, nil
}

// fillEntityPage streams one page of latest versions after the cursor,
// attaching each entity's outgoing latest edges unless the round is
// entities-only
func (s *Service) fillEntityPage(ctx context.Context, req *inbetweenies.SyncRequest, resp *inbetweenies.SyncResponse, stats *inbetweenies.SyncStats) error {
	q := store.ChangeQuery{Limit: s.PageSize}
	if req.Cursor != "" {
		cur, ok := inbetweenies.DecodeCursor(req.Cursor)
		if !ok {
			return fmt.Errorf("%w: invalid cursor %q", graph.ErrInvalidInput, req.Cursor)
		}
		q.AfterMs = cur.Ms
		q.AfterID = cur.ID
	} else if req.SyncType == inbetweenies.SyncTypeDelta && req.Filters != nil && req.Filters.Since != "" {
		since, err := time.Parse(time.RFC3339Nano, req.Filters.Since)
		if err != nil {
			return fmt.Errorf("%w: invalid since filter: %v", graph.ErrInvalidInput, err)
		}
		q.AfterMs = since.UnixMilli()
	}
	if req.Filters != nil {
		q.Types = req.Filters.EntityTypes
		q.ModifiedBy = req.Filters.ModifiedBy
	}

	page, err := s.Store.EntitiesUpdatedSince(ctx, q)
	if err != nil {
		return err
	}

	withEdges := req.SyncType != inbetweenies.SyncTypeEntities
	for _, e := range page {
		change := inbetweenies.SyncChange{
			ChangeType: changeTypeOf(e),
			Entity:     e,
		}
		if withEdges && !e.Deleted() {
			edges, err := s.Store.GetRelationships(ctx, store.RelationshipQuery{FromID: e.ID})
			if err != nil {
				return err
			}
			for _, r := range edges {
				change.Relationships = append(change.Relationships, *r)
			}
			stats.RelationshipsSynced += len(edges)
		}
		resp.Changes = append(resp.Changes, change)
	}
	stats.EntitiesSynced += len(page)

	if len(page) == s.PageSize {
		last := page[len(page)-1]
		resp.Cursor = inbetweenies.EncodeCursor(inbetweenies.Cursor{
			Ms: last.UpdatedAt.UnixMilli(),
			ID: last.ID,
		})
	}
	return nil
}

// fillRelationshipsOnly answers a relationships round with every edge pinned
// to current latest versions, in one page
func (s *Service) fillRelationshipsOnly(ctx context.Context, resp *inbetweenies.SyncResponse, stats *inbetweenies.SyncStats) error {
	edges, err := s.Store.GetRelationships(ctx, store.RelationshipQuery{})
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	change := inbetweenies.SyncChange{ChangeType: inbetweenies.ChangeTypeUpdate}
	for _, r := range edges {
		change.Relationships = append(change.Relationships, *r)
	}
	resp.Changes = append(resp.Changes, change)
	stats.RelationshipsSynced += len(edges)
	return nil
}

func changeTypeOf(e *graph.Entity) inbetweenies.ChangeType {
	switch {
	case e.Deleted():
		return inbetweenies.ChangeTypeDelete
	case len(e.ParentVersions) == 0:
		return inbetweenies.ChangeTypeCreate
	default:
		return inbetweenies.ChangeTypeUpdate
	}
}
