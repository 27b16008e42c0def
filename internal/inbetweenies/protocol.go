// Package inbetweenies defines the wire types and the deterministic conflict
// rule of the Inbetweenies sync protocol v2. Both the server responder and
// the client replica engine speak only these types.
package inbetweenies

import (
	"fmt"

	"github.com/inbetweenies/homegraph/internal/graph"
)

// ProtocolVersion identifies the protocol revision on the wire
const ProtocolVersion = "inbetweenies-v2"

// SyncType selects what a sync round exchanges
type SyncType string

const (
	SyncTypeFull          SyncType = "full"
	SyncTypeDelta         SyncType = "delta"
	SyncTypeEntities      SyncType = "entities"
	SyncTypeRelationships SyncType = "relationships"
)

// ParseSyncType validates a wire string against the closed set
func ParseSyncType(s string) (SyncType, error) {
	switch SyncType(s) {
	case SyncTypeFull, SyncTypeDelta, SyncTypeEntities, SyncTypeRelationships:
		return SyncType(s), nil
	}
	return "", fmt.Errorf("%w: unknown sync type %q", graph.ErrInvalidInput, s)
}

// ChangeType classifies a single change record
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeUpdate ChangeType = "update"
	ChangeTypeDelete ChangeType = "delete"
)

// SyncChange is one unit of change on the wire. A delete always carries the
// full tombstone version in Entity so the receiver can apply the normal
// conflict rule without a second lookup.
type SyncChange struct {
	ChangeType    ChangeType           `json:"change_type"`
	Entity        *graph.Entity        `json:"entity,omitempty"`
	Relationships []graph.Relationship `json:"relationships,omitempty"`
}

// SyncFilters narrows the server-originated change stream
type SyncFilters struct {
	EntityTypes []graph.EntityType `json:"entity_types,omitempty"`
	Since       string             `json:"since,omitempty"`
	ModifiedBy  string             `json:"modified_by,omitempty"`
}

// SyncRequest is the client half of one sync round exchange
type SyncRequest struct {
	ProtocolVersion string       `json:"protocol_version"`
	DeviceID        string       `json:"device_id"`
	UserID          string       `json:"user_id"`
	SyncType        SyncType     `json:"sync_type"`
	VectorClock     VectorClock  `json:"vector_clock"`
	Changes         []SyncChange `json:"changes"`
	Cursor          string       `json:"cursor,omitempty"`
	Filters         *SyncFilters `json:"filters,omitempty"`
}

// Validate rejects requests the responder must not process
func (r *SyncRequest) Validate() error {
	if r.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: unsupported protocol version %q", graph.ErrInvalidInput, r.ProtocolVersion)
	}
	if r.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", graph.ErrInvalidInput)
	}
	if _, err := ParseSyncType(string(r.SyncType)); err != nil {
		return err
	}
	return nil
}

// ConflictInfo reports a conflict the receiver resolved (or rejected) while
// applying an inbound change
type ConflictInfo struct {
	EntityID        string `json:"entity_id"`
	LocalVersion    string `json:"local_version"`
	RemoteVersion   string `json:"remote_version"`
	Winner          Side   `json:"winner"`
	Reason          string `json:"reason"`
	TimestampDiffMs int64  `json:"timestamp_diff_ms"`
}

// SyncStats summarizes one sync round
type SyncStats struct {
	EntitiesSynced      int   `json:"entities_synced"`
	RelationshipsSynced int   `json:"relationships_synced"`
	ConflictsResolved   int   `json:"conflicts_resolved"`
	DurationMs          int64 `json:"duration_ms"`
}

// SyncResponse is the server half of one sync round exchange. A non-empty
// Cursor means more changes are pending for the same round and the client
// must immediately re-issue the request carrying it.
type SyncResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	SyncType        SyncType       `json:"sync_type"`
	Changes         []SyncChange   `json:"changes"`
	Conflicts       []ConflictInfo `json:"conflicts"`
	VectorClock     VectorClock    `json:"vector_clock"`
	Cursor          string         `json:"cursor,omitempty"`
	SyncStats       SyncStats      `json:"sync_stats"`
}
