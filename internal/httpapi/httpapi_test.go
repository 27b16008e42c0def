package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inbetweenies/homegraph/internal/auth"
	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
	"github.com/inbetweenies/homegraph/internal/index"
	"github.com/inbetweenies/homegraph/internal/store/memory"
)

func newTestHandler(t *testing.T) (http.Handler, *Server) {
	t.Helper()
	st := memory.New()
	ix := index.New()
	srv := New(st, ix)
	h := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})
	return h, srv
}

// do issues an authenticated request against the router
func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Debug-Sub", "u1")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var m map[string]string
	decode(t, rec, &m)
	if m["status"] != "ok" {
		t.Errorf("body = %v", m)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/graph/statistics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestEntityLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/v1/graph/entities", map[string]any{
		"entity_type": "device",
		"name":        "Thermostat",
		"content":     map[string]any{"target": 21},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Entity graph.Entity `json:"entity"`
	}
	decode(t, rec, &created)
	id := created.Entity.ID
	if id == "" || created.Entity.UserID != "u1" {
		t.Fatalf("created = %+v", created.Entity)
	}

	rec = do(t, h, http.MethodPut, "/api/v1/graph/entities/"+id, map[string]any{
		"changes": map[string]any{"target": 19},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Entity graph.Entity `json:"entity"`
	}
	decode(t, rec, &updated)
	if updated.Entity.Version == created.Entity.Version {
		t.Error("update did not mint a new version")
	}
	if len(updated.Entity.ParentVersions) != 1 || updated.Entity.ParentVersions[0] != created.Entity.Version {
		t.Errorf("parents = %v", updated.Entity.ParentVersions)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/graph/entities/"+id+"/versions", nil)
	var versions struct {
		Count int `json:"count"`
	}
	decode(t, rec, &versions)
	if versions.Count != 2 {
		t.Errorf("version count = %d", versions.Count)
	}

	// Pinned fetch returns the first version
	rec = do(t, h, http.MethodGet, "/api/v1/graph/entities/"+id+"?version="+created.Entity.Version, nil)
	var pinned struct {
		Entity graph.Entity `json:"entity"`
	}
	decode(t, rec, &pinned)
	if pinned.Entity.Content["target"].(float64) != 21 {
		t.Errorf("pinned content = %v", pinned.Entity.Content)
	}

	rec = do(t, h, http.MethodDelete, "/api/v1/graph/entities/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	var deleted struct {
		Entity graph.Entity `json:"entity"`
	}
	decode(t, rec, &deleted)
	if !deleted.Entity.Deleted() {
		t.Error("delete did not produce a tombstone")
	}
}

func TestGetEntityNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/api/v1/graph/entities/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Error != "NOT_FOUND" {
		t.Errorf("error code = %q", body.Error)
	}
}

func TestListEntitiesTypeFilter(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, e := range []map[string]any{
		{"entity_type": "room", "name": "Kitchen"},
		{"entity_type": "room", "name": "Hall"},
		{"entity_type": "device", "name": "Lamp"},
	} {
		if rec := do(t, h, http.MethodPost, "/api/v1/graph/entities", e); rec.Code != http.StatusOK {
			t.Fatalf("seed failed: %s", rec.Body.String())
		}
	}

	rec := do(t, h, http.MethodGet, "/api/v1/graph/entities?type=room", nil)
	var listed struct {
		Count    int `json:"count"`
		Entities []graph.Entity
	}
	decode(t, rec, &listed)
	if listed.Count != 2 {
		t.Errorf("room count = %d", listed.Count)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/graph/entities?type=starship", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d", rec.Code)
	}
}

func TestParseLimitClamps(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", defaultListLimit},
		{"garbage", defaultListLimit},
		{"-5", defaultListLimit},
		{"25", 25},
		{"100", 100},
		{"500", 100},
	}
	for _, tc := range cases {
		if got := parseLimit(tc.in, defaultListLimit, maxListLimit); got != tc.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRelationshipEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	mk := func(typ, name string) string {
		rec := do(t, h, http.MethodPost, "/api/v1/graph/entities", map[string]any{
			"entity_type": typ, "name": name,
		})
		var created struct {
			Entity graph.Entity `json:"entity"`
		}
		decode(t, rec, &created)
		return created.Entity.ID
	}
	room := mk("room", "Living Room")
	lamp := mk("device", "Lamp")

	rec := do(t, h, http.MethodPost, "/api/v1/graph/relationships", map[string]any{
		"from_entity_id": lamp, "to_entity_id": room, "relationship_type": "located_in",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create relationship status = %d: %s", rec.Code, rec.Body.String())
	}

	// A room cannot control a device
	rec = do(t, h, http.MethodPost, "/api/v1/graph/relationships", map[string]any{
		"from_entity_id": room, "to_entity_id": lamp, "relationship_type": "controls",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("incompatible pair status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/graph/relationships?from="+lamp, nil)
	var listed struct {
		Count int `json:"count"`
	}
	decode(t, rec, &listed)
	if listed.Count != 1 {
		t.Errorf("relationship count = %d", listed.Count)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/graph/entities/"+lamp+"?include_relationships=true", nil)
	var full struct {
		Relationships []graph.Relationship `json:"relationships"`
	}
	decode(t, rec, &full)
	if len(full.Relationships) != 1 {
		t.Errorf("embedded relationships = %d", len(full.Relationships))
	}
}

func TestSearchAndPath(t *testing.T) {
	h, _ := newTestHandler(t)

	mk := func(typ, name string) string {
		rec := do(t, h, http.MethodPost, "/api/v1/graph/entities", map[string]any{
			"entity_type": typ, "name": name,
		})
		var created struct {
			Entity graph.Entity `json:"entity"`
		}
		decode(t, rec, &created)
		return created.Entity.ID
	}
	living := mk("room", "Living Room")
	kitchen := mk("room", "Kitchen")
	lamp := mk("device", "Reading Lamp")
	do(t, h, http.MethodPost, "/api/v1/graph/relationships", map[string]any{
		"from_entity_id": lamp, "to_entity_id": living, "relationship_type": "located_in",
	})
	do(t, h, http.MethodPost, "/api/v1/graph/relationships", map[string]any{
		"from_entity_id": living, "to_entity_id": kitchen, "relationship_type": "connects_to",
	})

	rec := do(t, h, http.MethodPost, "/api/v1/graph/search", map[string]any{"query": "lamp"})
	var search struct {
		Count int `json:"count"`
	}
	decode(t, rec, &search)
	if search.Count != 1 {
		t.Errorf("search count = %d", search.Count)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/graph/search", map[string]any{"query": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/graph/path", map[string]any{
		"from_entity_id": lamp, "to_entity_id": kitchen,
	})
	var path struct {
		Found bool `json:"found"`
		Hops  int  `json:"hops"`
	}
	decode(t, rec, &path)
	if !path.Found || path.Hops != 2 {
		t.Errorf("path = %+v", path)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/graph/entities/"+living+"/connected?direction=incoming", nil)
	var connected struct {
		Count int `json:"count"`
	}
	decode(t, rec, &connected)
	if connected.Count != 1 {
		t.Errorf("connected count = %d", connected.Count)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/graph/statistics", nil)
	var stats index.Stats
	decode(t, rec, &stats)
	if stats.TotalEntities != 3 || stats.TotalRelationships != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSimilarValidation(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/api/v1/graph/entities", map[string]any{
		"entity_type": "device", "name": "Fan",
	})
	var created struct {
		Entity graph.Entity `json:"entity"`
	}
	decode(t, rec, &created)

	rec = do(t, h, http.MethodGet, "/api/v1/graph/entities/"+created.Entity.ID+"/similar?threshold=2", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad threshold status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/v1/graph/entities/nope/similar", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing entity status = %d", rec.Code)
	}
}

func TestMCPEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/api/v1/mcp/tools", nil)
	var catalog struct {
		Count int `json:"count"`
	}
	decode(t, rec, &catalog)
	if catalog.Count != 12 {
		t.Errorf("tool count = %d", catalog.Count)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/mcp/tools/create_entity", map[string]any{
		"entity_type": "room", "name": "Attic",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d", rec.Code)
	}
	var env struct {
		Success bool `json:"success"`
	}
	decode(t, rec, &env)
	if !env.Success {
		t.Errorf("envelope = %s", rec.Body.String())
	}

	// Tool-level failure still travels as HTTP 200
	rec = do(t, h, http.MethodPost, "/api/v1/mcp/tools/get_devices_in_room", map[string]any{
		"room_name": "basement",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d", rec.Code)
	}
	decode(t, rec, &env)
	if env.Success {
		t.Error("missing room reported success")
	}
}

func TestBlobEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	payload := []byte("fake pdf bytes")

	rec := do(t, h, http.MethodPost, "/api/v1/blobs", map[string]any{
		"name": "manual.pdf", "blob_type": "pdf", "mime_type": "application/pdf", "data": payload,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create blob status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Blob graph.Blob `json:"blob"`
	}
	decode(t, rec, &created)
	id := created.Blob.ID
	if created.Blob.Checksum != graph.ChecksumOf(payload) {
		t.Errorf("checksum = %s", created.Blob.Checksum)
	}
	if created.Blob.SyncStatus != graph.BlobStatusUploaded {
		t.Errorf("status = %s", created.Blob.SyncStatus)
	}
	if len(created.Blob.Data) != 0 {
		t.Error("metadata response leaked payload bytes")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/blobs/"+id+"/data", nil)
	req.Header.Set("X-Debug-Sub", "u1")
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	if raw.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("content type = %q", raw.Header().Get("Content-Type"))
	}
	if !bytes.Equal(raw.Body.Bytes(), payload) {
		t.Error("data round trip mismatch")
	}

	replacement := []byte("second revision")
	req = httptest.NewRequest(http.MethodPut, "/api/v1/blobs/"+id+"/data", bytes.NewReader(replacement))
	req.Header.Set("X-Debug-Sub", "u1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("put data status = %d", rec.Code)
	}
	var updated struct {
		Blob graph.Blob `json:"blob"`
	}
	decode(t, rec, &updated)
	if updated.Blob.Checksum != graph.ChecksumOf(replacement) {
		t.Error("checksum not recomputed")
	}
	if updated.Blob.SyncStatus != graph.BlobStatusPendingUpload {
		t.Errorf("status after replace = %s", updated.Blob.SyncStatus)
	}
}

func TestSyncEndpoint(t *testing.T) {
	h, srv := newTestHandler(t)

	e, err := graph.NewEntity("dev-1", graph.EntityTypeDevice, "Sensor", nil, graph.SourceTypeManual, "u1", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	req := inbetweenies.SyncRequest{
		ProtocolVersion: inbetweenies.ProtocolVersion,
		DeviceID:        "client-a",
		SyncType:        inbetweenies.SyncTypeFull,
		VectorClock:     inbetweenies.VectorClock{"client-a": 1},
		Changes: []inbetweenies.SyncChange{
			{ChangeType: inbetweenies.ChangeTypeCreate, Entity: e},
		},
	}

	rec := do(t, h, http.MethodPost, "/api/v1/sync/", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp inbetweenies.SyncResponse
	decode(t, rec, &resp)
	if resp.ProtocolVersion != inbetweenies.ProtocolVersion {
		t.Errorf("protocol = %q", resp.ProtocolVersion)
	}
	if resp.VectorClock["server"] == 0 {
		t.Errorf("vector clock = %v", resp.VectorClock)
	}

	stored, err := srv.Store.GetLatestEntity(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("entity not stored: %v", err)
	}
	if stored.Version != e.Version {
		t.Errorf("stored version = %s", stored.Version)
	}

	// Bad protocol version maps to a 400
	req.ProtocolVersion = "inbetweenies-v1"
	rec = do(t, h, http.MethodPost, "/api/v1/sync/", req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad protocol status = %d", rec.Code)
	}
}
