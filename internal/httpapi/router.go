// Package httpapi is the HTTP surface of the authoritative server: sync
// exchange, graph CRUD, traversal queries, tool dispatch, and blob transfer.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/inbetweenies/homegraph/internal/auth"
	"github.com/inbetweenies/homegraph/internal/index"
	"github.com/inbetweenies/homegraph/internal/mcp"
	"github.com/inbetweenies/homegraph/internal/service/graphservice"
	"github.com/inbetweenies/homegraph/internal/service/syncservice"
	"github.com/inbetweenies/homegraph/internal/store"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Store store.Store
	Index *index.Index
	Sync  *syncservice.Service
	Graph *graphservice.Service
	Tools *mcp.Registry
}

// New wires a server over a store and its index
func New(st store.Store, ix *index.Index) *Server {
	return &Server{
		Store: st,
		Index: ix,
		Sync:  syncservice.New(st),
		Graph: graphservice.New(st, ix),
		Tools: mcp.DefaultRegistry(),
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// parseOffset parses a non-negative offset query param
func parseOffset(q string) int {
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Routes creates the HTTP router with all graph and sync endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	// Health check (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Everything else requires authentication
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		r.Post("/api/v1/sync/", s.HandleSync)

		r.Route("/api/v1/graph", func(r chi.Router) {
			r.Get("/entities", s.ListEntities)
			r.Post("/entities", s.CreateEntity)
			r.Get("/entities/{id}", s.GetEntity)
			r.Put("/entities/{id}", s.UpdateEntity)
			r.Delete("/entities/{id}", s.DeleteEntity)
			r.Get("/entities/{id}/versions", s.GetEntityVersions)
			r.Get("/entities/{id}/connected", s.GetConnected)
			r.Get("/entities/{id}/similar", s.GetSimilar)

			r.Post("/relationships", s.CreateRelationship)
			r.Get("/relationships", s.ListRelationships)

			r.Post("/search", s.SearchEntities)
			r.Post("/path", s.FindPath)
			r.Get("/statistics", s.Statistics)
		})

		r.Get("/api/v1/mcp/tools", s.ListTools)
		r.Post("/api/v1/mcp/tools/{name}", s.DispatchTool)

		r.Post("/api/v1/blobs", s.CreateBlob)
		r.Get("/api/v1/blobs/{id}", s.GetBlobMeta)
		r.Get("/api/v1/blobs/{id}/data", s.GetBlobData)
		r.Put("/api/v1/blobs/{id}/data", s.PutBlobData)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
