package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/index"
	"github.com/inbetweenies/homegraph/internal/mcp"
)

const (
	defaultSearchLimit    = 10
	maxSearchLimit        = 50
	defaultConnectedDepth = 3
	maxConnectedDepth     = 10
	defaultPathDepth      = 10
	maxPathDepth          = 20
	defaultSimilarLimit   = 10
	maxSimilarLimit       = 50
)

// SearchEntities handles POST /api/v1/graph/search, substring-matching
// latest-version names through the store
func (s *Server) SearchEntities(w http.ResponseWriter, r *http.Request) {
	var p struct {
		Query       string   `json:"query"`
		EntityTypes []string `json:"entity_types"`
		Limit       int      `json:"limit"`
	}
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if p.Query == "" {
		writeError(w, fmt.Errorf("%w: query must not be empty", graph.ErrInvalidInput))
		return
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	var types []graph.EntityType
	for _, raw := range p.EntityTypes {
		t, err := graph.ParseEntityType(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		types = append(types, t)
	}

	entities, err := s.Store.SearchEntities(r.Context(), p.Query, types, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entities == nil {
		entities = []*graph.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": entities,
		"count":   len(entities),
	})
}

// FindPath handles POST /api/v1/graph/path over the in-memory index
func (s *Server) FindPath(w http.ResponseWriter, r *http.Request) {
	var p struct {
		FromEntityID string `json:"from_entity_id"`
		ToEntityID   string `json:"to_entity_id"`
		MaxDepth     int    `json:"max_depth"`
	}
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if p.FromEntityID == "" || p.ToEntityID == "" {
		writeError(w, fmt.Errorf("%w: from_entity_id and to_entity_id are required", graph.ErrInvalidInput))
		return
	}
	depth := p.MaxDepth
	if depth <= 0 {
		depth = defaultPathDepth
	}
	if depth > maxPathDepth {
		depth = maxPathDepth
	}

	ids := s.Index.FindPath(p.FromEntityID, p.ToEntityID, depth)
	if ids == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"found": false,
			"path":  []any{},
		})
		return
	}
	path := make([]*graph.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.Index.Entity(id); ok {
			path = append(path, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found": true,
		"path":  path,
		"hops":  len(ids) - 1,
	})
}

// GetConnected handles GET /api/v1/graph/entities/{id}/connected?type=&direction=&max_depth=
func (s *Server) GetConnected(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	dir, err := index.ParseDirection(q.Get("direction"))
	if err != nil {
		writeError(w, err)
		return
	}
	var typeFilter graph.EntityType
	if typ := q.Get("type"); typ != "" {
		if typeFilter, err = graph.ParseEntityType(typ); err != nil {
			writeError(w, err)
			return
		}
	}
	depth := parseLimit(q.Get("max_depth"), defaultConnectedDepth, maxConnectedDepth)

	if _, ok := s.Index.Entity(id); !ok {
		writeError(w, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id))
		return
	}
	conns := s.Index.ConnectedEntities(id, typeFilter, dir, depth)
	if conns == nil {
		conns = []index.Connection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"connected": conns,
		"count":     len(conns),
	})
}

// GetSimilar handles GET /api/v1/graph/entities/{id}/similar?threshold=&limit=
func (s *Server) GetSimilar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	threshold := 0.3
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			writeError(w, fmt.Errorf("%w: threshold must be between 0 and 1", graph.ErrInvalidInput))
			return
		}
		threshold = v
	}
	limit := parseLimit(q.Get("limit"), defaultSimilarLimit, maxSimilarLimit)

	ref, ok := s.Index.Entity(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: entity %s", graph.ErrNotFound, id))
		return
	}

	type match struct {
		Entity *graph.Entity `json:"entity"`
		Score  float64       `json:"score"`
	}
	var matches []match
	for _, e := range s.Index.AllEntities() {
		if e.ID == ref.ID || e.Deleted() {
			continue
		}
		if score := mcp.Similarity(ref, e); score >= threshold {
			matches = append(matches, match{Entity: e, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entity.ID < matches[j].Entity.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		matches = []match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference": ref,
		"similar":   matches,
		"count":     len(matches),
	})
}

// Statistics handles GET /api/v1/graph/statistics
func (s *Server) Statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Index.Statistics())
}
