package replica

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
	"github.com/inbetweenies/homegraph/internal/store"
)

const (
	backoffBase = 30 * time.Second
	backoffMax  = 300 * time.Second
)

// backoffDelay returns the retry delay after the given number of consecutive
// failures: 30s doubling up to a 5 minute ceiling
func backoffDelay(failures int) time.Duration {
	d := backoffBase
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

// SyncResult summarizes one completed sync round
type SyncResult struct {
	Pushed    int
	Pulled    int
	Conflicts int
	Duration  time.Duration
}

// Engine drives sync rounds for a replica. One round runs at a time; the
// in-process flag guards against concurrent SyncNow calls and the file lock
// guards against a second agent process on the same replica database.
type Engine struct {
	replica   *Replica
	transport SyncTransport
	lock      *flock.Flock

	syncing atomic.Bool
	offline atomic.Bool
}

// NewEngine wires a sync engine. lockPath is the sync lock file, normally
// next to the replica database.
func NewEngine(r *Replica, t SyncTransport, lockPath string) *Engine {
	return &Engine{
		replica:   r,
		transport: t,
		lock:      flock.New(lockPath),
	}
}

// IsOffline reports whether the last server contact failed
func (e *Engine) IsOffline() bool { return e.offline.Load() }

// Metadata returns the replica's current sync bookkeeping record
func (e *Engine) Metadata(ctx context.Context) (*store.SyncMetadata, error) {
	return e.replica.store.GetSyncMetadata(ctx, e.replica.clientID)
}

// SyncNow runs one full sync round: push pending local changes, pull the
// server's change stream to exhaustion, upload pending blobs. Returns
// graph.ErrSyncInProgress when a round is already running.
func (e *Engine) SyncNow(ctx context.Context) (*SyncResult, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, graph.ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	locked, err := e.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring sync lock: %v", graph.ErrStorageError, err)
	}
	if !locked {
		return nil, graph.ErrSyncInProgress
	}
	defer e.lock.Unlock()

	st := e.replica.store
	clientID := e.replica.clientID
	e.replica.events.Publish(Event{Type: EventSyncStarted})

	meta, err := st.GetSyncMetadata(ctx, clientID)
	if err != nil {
		// No bookkeeping record to update; still surface the failure
		e.replica.events.Publish(Event{Type: EventSyncFailed, Error: err.Error()})
		return nil, err
	}

	// Mark the round in progress so other observers of the metadata see it
	meta.SyncInProgress = true
	if perr := st.PutSyncMetadata(ctx, meta); perr != nil {
		return nil, e.recordFailure(ctx, meta, perr)
	}

	result, err := e.runRound(ctx, meta)
	if err != nil {
		return nil, e.recordFailure(ctx, meta, err)
	}
	return result, nil
}

// runRound is the body of one sync round. Any error bubbles to SyncNow,
// which records it with backoff.
func (e *Engine) runRound(ctx context.Context, meta *store.SyncMetadata) (*SyncResult, error) {
	start := time.Now()
	st := e.replica.store
	clientID := e.replica.clientID

	changes, pushedIDs, err := e.collectPending(ctx)
	if err != nil {
		return nil, err
	}

	clock := meta.VectorClock.Copy()
	clock.Increment(clientID)
	req := &inbetweenies.SyncRequest{
		ProtocolVersion: inbetweenies.ProtocolVersion,
		DeviceID:        clientID,
		UserID:          e.replica.userID,
		SyncType:        inbetweenies.SyncTypeDelta,
		VectorClock:     clock,
		Changes:         changes,
	}

	result := &SyncResult{Pushed: len(pushedIDs)}
	conflicts := map[string]string{}
	var serverClock inbetweenies.VectorClock

	for {
		resp, xerr := e.transport.Exchange(ctx, req)
		if xerr != nil {
			return nil, xerr
		}
		for _, c := range resp.Conflicts {
			conflicts[c.EntityID] = c.Reason
			e.replica.events.Publish(Event{Type: EventConflictDetected, EntityID: c.EntityID, Error: c.Reason})
		}
		pulled, aerr := e.applyInbound(ctx, resp.Changes)
		if aerr != nil {
			return nil, aerr
		}
		result.Pulled += pulled
		serverClock = resp.VectorClock

		if resp.Cursor == "" {
			break
		}
		req = &inbetweenies.SyncRequest{
			ProtocolVersion: inbetweenies.ProtocolVersion,
			DeviceID:        clientID,
			UserID:          e.replica.userID,
			SyncType:        req.SyncType,
			VectorClock:     clock,
			Cursor:          resp.Cursor,
		}
	}

	now := time.Now().UTC()
	for _, id := range pushedIDs {
		if reason, ok := conflicts[id]; ok {
			if err := st.MarkConflict(ctx, id, reason, now); err != nil {
				return nil, err
			}
			continue
		}
		if err := st.MarkSynced(ctx, id, now); err != nil {
			return nil, err
		}
	}
	result.Conflicts = len(conflicts)

	e.uploadPendingBlobs(ctx)

	meta.VectorClock = meta.VectorClock.Merge(clock).Merge(serverClock)
	meta.LastSyncTime = &now
	meta.LastSyncSuccess = &now
	meta.LastSyncError = ""
	meta.SyncFailures = 0
	meta.SyncInProgress = false
	meta.NextRetryTime = nil
	meta.TotalSyncs++
	meta.TotalConflicts += result.Conflicts
	if err := st.PutSyncMetadata(ctx, meta); err != nil {
		return nil, err
	}

	e.offline.Store(false)
	result.Duration = time.Since(start)
	e.replica.events.Publish(Event{Type: EventSyncCompleted, Stats: &inbetweenies.SyncStats{
		EntitiesSynced:    result.Pushed + result.Pulled,
		ConflictsResolved: result.Conflicts,
		DurationMs:        result.Duration.Milliseconds(),
	}})
	log.Info().
		Int("pushed", result.Pushed).
		Int("pulled", result.Pulled).
		Int("conflicts", result.Conflicts).
		Dur("duration", result.Duration).
		Msg("sync round complete")
	return result, nil
}

// Run syncs on a fixed interval until the context is cancelled, honoring the
// retry backoff recorded after failures
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.maybeSync(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) maybeSync(ctx context.Context) {
	meta, err := e.Metadata(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reading sync metadata")
		return
	}
	if meta.NextRetryTime != nil && time.Now().Before(*meta.NextRetryTime) {
		return
	}
	if _, err := e.SyncNow(ctx); err != nil && !errors.Is(err, graph.ErrSyncInProgress) && ctx.Err() == nil {
		log.Warn().Err(err).Msg("sync round failed")
	}
}

// collectPending turns tracked local changes into wire changes, each entity
// carrying its outgoing latest edges
func (e *Engine) collectPending(ctx context.Context) ([]inbetweenies.SyncChange, []string, error) {
	st := e.replica.store
	pending, err := st.PendingChanges(ctx)
	if err != nil {
		return nil, nil, err
	}

	changes := make([]inbetweenies.SyncChange, 0, len(pending))
	ids := make([]string, 0, len(pending))
	for _, tc := range pending {
		latest, err := st.GetLatestEntity(ctx, tc.EntityID)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		change := inbetweenies.SyncChange{
			ChangeType: changeTypeOfOp(tc.Operation, latest),
			Entity:     latest,
		}
		edges, err := st.GetRelationships(ctx, store.RelationshipQuery{FromID: latest.ID})
		if err != nil {
			return nil, nil, err
		}
		for _, r := range edges {
			change.Relationships = append(change.Relationships, *r)
		}
		changes = append(changes, change)
		ids = append(ids, tc.EntityID)
	}
	return changes, ids, nil
}

func changeTypeOfOp(op string, e *graph.Entity) inbetweenies.ChangeType {
	switch {
	case e.Deleted() || op == "delete":
		return inbetweenies.ChangeTypeDelete
	case op == "create":
		return inbetweenies.ChangeTypeCreate
	default:
		return inbetweenies.ChangeTypeUpdate
	}
}

// applyInbound applies server changes under the same deterministic conflict
// rule the server uses, keeping the index current
func (e *Engine) applyInbound(ctx context.Context, changes []inbetweenies.SyncChange) (int, error) {
	st := e.replica.store
	applied := 0
	for i := range changes {
		change := &changes[i]
		if change.Entity != nil {
			ok, err := e.applyInboundEntity(ctx, change.Entity)
			if err != nil {
				return applied, err
			}
			if ok {
				applied++
			}
		}
		for j := range change.Relationships {
			r := change.Relationships[j]
			if err := e.applyInboundRelationship(ctx, st, &r); err != nil {
				return applied, err
			}
		}
	}
	return applied, nil
}

func (e *Engine) applyInboundEntity(ctx context.Context, remote *graph.Entity) (bool, error) {
	st := e.replica.store
	latest, err := st.GetLatestEntity(ctx, remote.ID)
	switch {
	case errors.Is(err, graph.ErrNotFound):
		// First sight of this entity
	case err != nil:
		return false, err
	default:
		if latest.Version == remote.Version {
			return false, nil
		}
		if _, gerr := st.GetEntity(ctx, remote.ID, remote.Version); gerr == nil {
			return false, nil
		}
		res := inbetweenies.ResolveConflict(inbetweenies.RecordOf(latest), inbetweenies.RecordOf(remote))
		if res.Winner == inbetweenies.SideLocal {
			// Our pending change outranks the server copy; the next push
			// settles it server-side
			return false, nil
		}
	}

	copied := *remote
	for _, parent := range remote.ParentVersions {
		if _, perr := st.GetEntity(ctx, remote.ID, parent); perr != nil {
			if latest != nil && err == nil {
				copied.ParentVersions = []string{latest.Version}
			} else {
				copied.ParentVersions = []string{}
			}
			break
		}
	}
	serr := st.StoreEntity(ctx, &copied)
	if errors.Is(serr, graph.ErrDuplicateVersion) {
		return false, nil
	}
	if serr != nil {
		return false, serr
	}

	if copied.Deleted() {
		e.replica.index.RemoveEntity(copied.ID)
		e.replica.events.Publish(Event{Type: EventEntityDeleted, EntityID: copied.ID})
	} else {
		e.replica.index.UpsertEntity(&copied)
		e.replica.events.Publish(Event{Type: EventEntityUpdated, EntityID: copied.ID})
	}
	return true, nil
}

func (e *Engine) applyInboundRelationship(ctx context.Context, st store.ReplicaStore, r *graph.Relationship) error {
	existing, err := st.GetRelationships(ctx, store.RelationshipQuery{
		FromID:             r.FromEntityID,
		ToID:               r.ToEntityID,
		Type:               r.RelationshipType,
		IncludeAllVersions: true,
	})
	if err != nil {
		return err
	}
	for _, ex := range existing {
		if ex.ID == r.ID {
			return nil
		}
	}
	err = st.StoreRelationship(ctx, r)
	switch {
	case errors.Is(err, graph.ErrNotFound):
		log.Debug().Str("relationship_id", r.ID).Msg("skipping edge with unresolved endpoint")
		return nil
	case err != nil:
		return err
	}
	e.replica.index.InsertRelationship(r)
	return nil
}

// uploadPendingBlobs pushes blobs awaiting upload; transfer failures leave
// the blob pending for the next round
func (e *Engine) uploadPendingBlobs(ctx context.Context) {
	st := e.replica.store
	pending, err := st.ListBlobsByStatus(ctx, graph.BlobStatusPendingUpload)
	if err != nil {
		log.Error().Err(err).Msg("listing pending blobs")
		return
	}
	for _, b := range pending {
		url, uerr := e.transport.UploadBlob(ctx, b)
		if uerr != nil {
			log.Warn().Err(uerr).Str("blob_id", b.ID).Msg("blob upload failed")
			if errors.Is(uerr, graph.ErrNetworkUnavailable) {
				return
			}
			continue
		}
		if serr := st.UpdateBlobStatus(ctx, b.ID, graph.BlobStatusUploaded, url); serr != nil {
			log.Error().Err(serr).Str("blob_id", b.ID).Msg("recording blob upload")
			continue
		}
		e.replica.events.Publish(Event{Type: EventBlobUploaded, BlobID: b.ID})
	}
}

// recordFailure updates sync bookkeeping after a failed exchange and
// schedules the retry with exponential backoff
func (e *Engine) recordFailure(ctx context.Context, meta *store.SyncMetadata, cause error) error {
	now := time.Now().UTC()
	retry := now.Add(backoffDelay(meta.SyncFailures))
	meta.SyncFailures++
	meta.LastSyncTime = &now
	meta.LastSyncError = cause.Error()
	meta.SyncInProgress = false
	meta.NextRetryTime = &retry
	if err := e.replica.store.PutSyncMetadata(ctx, meta); err != nil {
		log.Error().Err(err).Msg("recording sync failure")
	}
	if errors.Is(cause, graph.ErrNetworkUnavailable) {
		e.offline.Store(true)
	}
	e.replica.events.Publish(Event{Type: EventSyncFailed, Error: cause.Error()})
	return cause
}
