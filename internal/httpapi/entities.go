package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inbetweenies/homegraph/internal/auth"
	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 100
)

// CreateEntity handles POST /api/v1/graph/entities
func (s *Server) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var p struct {
		ID         string         `json:"id"`
		EntityType string         `json:"entity_type"`
		Name       string         `json:"name"`
		Content    map[string]any `json:"content"`
		SourceType string         `json:"source_type"`
	}
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	t, err := graph.ParseEntityType(p.EntityType)
	if err != nil {
		writeError(w, err)
		return
	}
	source := graph.SourceTypeManual
	if p.SourceType != "" {
		if source, err = graph.ParseSourceType(p.SourceType); err != nil {
			writeError(w, err)
			return
		}
	}

	writer := s.Graph.For(auth.UserID(r.Context()))
	e, err := writer.CreateEntity(r.Context(), p.ID, t, p.Name, p.Content, source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": e})
}

// ListEntities handles GET /api/v1/graph/entities?type=&limit=&offset=
func (s *Server) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), defaultListLimit, maxListLimit)
	offset := parseOffset(q.Get("offset"))

	var (
		entities []*graph.Entity
		err      error
	)
	if typ := q.Get("type"); typ != "" {
		t, perr := graph.ParseEntityType(typ)
		if perr != nil {
			writeError(w, perr)
			return
		}
		entities, err = s.Store.GetEntitiesByType(r.Context(), t)
		if err == nil {
			// Typed listing pages in memory; the typed result set is small
			if offset >= len(entities) {
				entities = nil
			} else {
				entities = entities[offset:]
			}
			if len(entities) > limit {
				entities = entities[:limit]
			}
		}
	} else {
		entities, err = s.Store.ListEntities(r.Context(), limit, offset)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if entities == nil {
		entities = []*graph.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// GetEntity handles GET /api/v1/graph/entities/{id}?version=&include_relationships=
func (s *Server) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	var (
		e   *graph.Entity
		err error
	)
	if version := q.Get("version"); version != "" {
		e, err = s.Store.GetEntity(r.Context(), id, version)
	} else {
		e, err = s.Store.GetLatestEntity(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"entity": e}
	if q.Get("include_relationships") == "true" {
		rels, rerr := s.entityRelationships(r, id)
		if rerr != nil {
			writeError(w, rerr)
			return
		}
		resp["relationships"] = rels
	}
	writeJSON(w, http.StatusOK, resp)
}

// entityRelationships gathers the latest-pinned edges touching id in either
// direction, deduplicated
func (s *Server) entityRelationships(r *http.Request, id string) ([]*graph.Relationship, error) {
	out, err := s.Store.GetRelationships(r.Context(), store.RelationshipQuery{FromID: id})
	if err != nil {
		return nil, err
	}
	incoming, err := s.Store.GetRelationships(r.Context(), store.RelationshipQuery{ToID: id})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(out))
	for _, rel := range out {
		seen[rel.ID] = true
	}
	for _, rel := range incoming {
		if !seen[rel.ID] {
			out = append(out, rel)
		}
	}
	if out == nil {
		out = []*graph.Relationship{}
	}
	return out, nil
}

// UpdateEntity handles PUT /api/v1/graph/entities/{id}. The update creates a
// new version; the body carries only the changed content keys.
func (s *Server) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p struct {
		Changes map[string]any `json:"changes"`
	}
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if len(p.Changes) == 0 {
		writeError(w, fmt.Errorf("%w: changes must not be empty", graph.ErrInvalidInput))
		return
	}

	writer := s.Graph.For(auth.UserID(r.Context()))
	e, err := writer.UpdateEntity(r.Context(), id, p.Changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": e})
}

// DeleteEntity handles DELETE /api/v1/graph/entities/{id}. Deletion appends
// a tombstone version; history stays queryable.
func (s *Server) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	writer := s.Graph.For(auth.UserID(r.Context()))
	e, err := writer.DeleteEntity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": e})
}

// GetEntityVersions handles GET /api/v1/graph/entities/{id}/versions
func (s *Server) GetEntityVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	versions, err := s.Store.GetEntityVersions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"versions":  versions,
		"count":     len(versions),
	})
}
