package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests need a live database:
//
//	TEST_DATABASE_URL=postgres://localhost/homegraph_test go test ./internal/store/postgres/
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	for _, table := range []string{"entities", "latest_version", "entity_relationships", "blobs", "sync_metadata"} {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncating %s: %v", table, err)
		}
	}
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestAppendLatestAndPaging(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	v1, err := graph.NewEntity("dev-1", graph.EntityTypeDevice, "Thermostat", nil, graph.SourceTypeManual, "u1", base)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StoreEntity(ctx, v1); err != nil {
		t.Fatalf("StoreEntity(v1) = %v", err)
	}
	if err := s.StoreEntity(ctx, v1); !errors.Is(err, graph.ErrDuplicateVersion) {
		t.Errorf("duplicate err = %v", err)
	}

	v2 := v1.NextVersion(map[string]any{"target": 21.5}, "u2", base.Add(time.Minute))
	if err := s.StoreEntity(ctx, v2); err != nil {
		t.Fatalf("StoreEntity(v2) = %v", err)
	}

	latest, err := s.GetLatestEntity(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != v2.Version {
		t.Errorf("latest = %s, want %s", latest.Version, v2.Version)
	}

	page, err := s.EntitiesUpdatedSince(ctx, store.ChangeQuery{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].Version != v2.Version {
		t.Errorf("delta page = %v", page)
	}
	after, err := s.EntitiesUpdatedSince(ctx, store.ChangeQuery{
		AfterMs: page[0].UpdatedAt.UnixMilli(), AfterID: page[0].ID, Limit: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 0 {
		t.Errorf("cursor boundary leaked %d entities", len(after))
	}
}

func TestRelationshipAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Now().UTC()
	dev, _ := graph.NewEntity("dev-1", graph.EntityTypeDevice, "TV", nil, graph.SourceTypeManual, "u1", now)
	room, _ := graph.NewEntity("room-1", graph.EntityTypeRoom, "Living Room", nil, graph.SourceTypeManual, "u1", now)
	for _, e := range []*graph.Entity{dev, room} {
		if err := s.StoreEntity(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	rel := &graph.Relationship{
		ID: "r1", FromEntityID: dev.ID, FromEntityVersion: dev.Version,
		ToEntityID: room.ID, ToEntityVersion: room.Version,
		RelationshipType: graph.RelLocatedIn, UserID: "u1",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.StoreRelationship(ctx, rel); err != nil {
		t.Fatalf("StoreRelationship() = %v", err)
	}
	got, err := s.GetRelationships(ctx, store.RelationshipQuery{FromID: "dev-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RelationshipType != graph.RelLocatedIn {
		t.Errorf("relationships = %v", got)
	}

	meta, err := s.GetSyncMetadata(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	meta.TotalSyncs = 2
	meta.VectorClock = map[string]int64{"server": 5}
	if err := s.PutSyncMetadata(ctx, meta); err != nil {
		t.Fatal(err)
	}
	back, err := s.GetSyncMetadata(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if back.TotalSyncs != 2 || back.VectorClock["server"] != 5 {
		t.Errorf("metadata round trip = %+v", back)
	}
}
