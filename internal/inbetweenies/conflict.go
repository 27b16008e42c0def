package inbetweenies

import (
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
)

// Side names which replica's record won a conflict
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// tieThresholdMs is the window within which two timestamps are considered
// equal and the sync-id tiebreaker applies
const tieThresholdMs = 1000

// Record is the conflict-relevant projection of an entity version
type Record struct {
	EntityID  string
	Version   string
	SyncID    string
	UpdatedAt time.Time
}

// RecordOf projects an entity for conflict resolution. The version string is
// the sync id: it is globally unique and lexicographically time-ordered.
func RecordOf(e *graph.Entity) Record {
	return Record{
		EntityID:  e.ID,
		Version:   e.Version,
		SyncID:    e.Version,
		UpdatedAt: e.UpdatedAt,
	}
}

// ConflictResolution is the outcome of the deterministic last-write-wins rule
type ConflictResolution struct {
	Winner          Side   `json:"winner"`
	Loser           Side   `json:"loser"`
	Reason          string `json:"reason"`
	TimestampDiffMs int64  `json:"timestamp_diff_ms"`
}

// ResolveConflict applies deterministic last-write-wins with a sync-id
// tiebreaker. It is a pure function of its inputs: a difference of at least
// one second decides by timestamp, anything closer decides by lexicographic
// sync id. Missing sync ids compare as the empty string.
func ResolveConflict(local, remote Record) ConflictResolution {
	diff := remote.UpdatedAt.UTC().Sub(local.UpdatedAt.UTC()).Milliseconds()

	if diff >= tieThresholdMs {
		return ConflictResolution{
			Winner:          SideRemote,
			Loser:           SideLocal,
			Reason:          "remote has newer timestamp",
			TimestampDiffMs: diff,
		}
	}
	if diff <= -tieThresholdMs {
		return ConflictResolution{
			Winner:          SideLocal,
			Loser:           SideRemote,
			Reason:          "local has newer timestamp",
			TimestampDiffMs: diff,
		}
	}

	if remote.SyncID > local.SyncID {
		return ConflictResolution{
			Winner:          SideRemote,
			Loser:           SideLocal,
			Reason:          "timestamps equal, remote has higher sync_id",
			TimestampDiffMs: diff,
		}
	}
	return ConflictResolution{
		Winner:          SideLocal,
		Loser:           SideRemote,
		Reason:          "timestamps equal, local has higher sync_id",
		TimestampDiffMs: diff,
	}
}
