package httpapi

import (
	"net/http"

	"github.com/inbetweenies/homegraph/internal/auth"
	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/store"
)

// CreateRelationship handles POST /api/v1/graph/relationships. The edge is
// pinned to the current latest versions of both endpoints.
func (s *Server) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	var p struct {
		FromEntityID     string         `json:"from_entity_id"`
		ToEntityID       string         `json:"to_entity_id"`
		RelationshipType string         `json:"relationship_type"`
		Properties       map[string]any `json:"properties"`
	}
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	t, err := graph.ParseRelationshipType(p.RelationshipType)
	if err != nil {
		writeError(w, err)
		return
	}

	writer := s.Graph.For(auth.UserID(r.Context()))
	rel, err := writer.CreateRelationship(r.Context(), p.FromEntityID, p.ToEntityID, t, p.Properties)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationship": rel})
}

// ListRelationships handles GET /api/v1/graph/relationships?from=&to=&type=
func (s *Server) ListRelationships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.RelationshipQuery{
		FromID: q.Get("from"),
		ToID:   q.Get("to"),
	}
	if typ := q.Get("type"); typ != "" {
		t, err := graph.ParseRelationshipType(typ)
		if err != nil {
			writeError(w, err)
			return
		}
		query.Type = t
	}
	if q.Get("all_versions") == "true" {
		query.IncludeAllVersions = true
	}

	rels, err := s.Store.GetRelationships(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	if rels == nil {
		rels = []*graph.Relationship{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"relationships": rels,
		"count":         len(rels),
	})
}
