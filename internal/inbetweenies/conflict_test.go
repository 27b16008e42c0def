package inbetweenies

import (
	"testing"
	"time"
)

func TestResolveConflictNewerTimestamp(t *testing.T) {
	local := Record{
		EntityID:  "e1",
		SyncID:    "aaa",
		UpdatedAt: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	remote := Record{
		EntityID:  "e1",
		SyncID:    "bbb",
		UpdatedAt: time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC),
	}

	res := ResolveConflict(local, remote)

	if res.Winner != SideRemote {
		t.Errorf("winner = %s, want remote", res.Winner)
	}
	if res.Reason != "remote has newer timestamp" {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.TimestampDiffMs != 3_600_000 {
		t.Errorf("timestamp_diff_ms = %d, want 3600000", res.TimestampDiffMs)
	}
}

func TestResolveConflictSyncIDTiebreak(t *testing.T) {
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	local := Record{EntityID: "e1", SyncID: "mmm", UpdatedAt: at}
	remote := Record{EntityID: "e1", SyncID: "zzz", UpdatedAt: at}

	res := ResolveConflict(local, remote)

	if res.Winner != SideRemote {
		t.Errorf("winner = %s, want remote", res.Winner)
	}
	if res.Reason != "timestamps equal, remote has higher sync_id" {
		t.Errorf("reason = %q", res.Reason)
	}
	if res.TimestampDiffMs != 0 {
		t.Errorf("timestamp_diff_ms = %d, want 0", res.TimestampDiffMs)
	}
}

func TestResolveConflictTable(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		local      Record
		remote     Record
		wantWinner Side
		wantReason string
	}{
		{
			name:       "local newer by hours",
			local:      Record{SyncID: "a", UpdatedAt: base.Add(2 * time.Hour)},
			remote:     Record{SyncID: "z", UpdatedAt: base},
			wantWinner: SideLocal,
			wantReason: "local has newer timestamp",
		},
		{
			name:       "sub-second difference falls to tiebreaker",
			local:      Record{SyncID: "zzz", UpdatedAt: base},
			remote:     Record{SyncID: "aaa", UpdatedAt: base.Add(999 * time.Millisecond)},
			wantWinner: SideLocal,
			wantReason: "timestamps equal, local has higher sync_id",
		},
		{
			name:       "exactly one second decides by timestamp",
			local:      Record{SyncID: "zzz", UpdatedAt: base},
			remote:     Record{SyncID: "aaa", UpdatedAt: base.Add(time.Second)},
			wantWinner: SideRemote,
			wantReason: "remote has newer timestamp",
		},
		{
			name:       "missing sync_id treated as empty string",
			local:      Record{SyncID: "", UpdatedAt: base},
			remote:     Record{SyncID: "a", UpdatedAt: base},
			wantWinner: SideRemote,
			wantReason: "timestamps equal, remote has higher sync_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveConflict(tt.local, tt.remote)
			if res.Winner != tt.wantWinner {
				t.Errorf("winner = %s, want %s", res.Winner, tt.wantWinner)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

// Resolving from either replica's point of view must pick the same physical
// record; only the local/remote labels swap.
func TestResolveConflictSymmetry(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	pairs := []struct {
		name string
		a, b Record
	}{
		{"timestamp decided", Record{SyncID: "a", UpdatedAt: base}, Record{SyncID: "b", UpdatedAt: base.Add(time.Minute)}},
		{"sync_id decided", Record{SyncID: "aaa", UpdatedAt: base}, Record{SyncID: "bbb", UpdatedAt: base.Add(300 * time.Millisecond)}},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			fromA := ResolveConflict(tt.a, tt.b) // b is remote
			fromB := ResolveConflict(tt.b, tt.a) // a is remote

			// Same physical winner on both sides
			aWinsFromA := fromA.Winner == SideLocal
			aWinsFromB := fromB.Winner == SideRemote
			if aWinsFromA != aWinsFromB {
				t.Errorf("asymmetric resolution: fromA=%+v fromB=%+v", fromA, fromB)
			}
			if fromA.TimestampDiffMs != -fromB.TimestampDiffMs {
				t.Errorf("diff not mirrored: %d vs %d", fromA.TimestampDiffMs, fromB.TimestampDiffMs)
			}
		})
	}
}
