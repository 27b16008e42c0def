package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inbetweenies/homegraph/internal/auth"
	"github.com/inbetweenies/homegraph/internal/mcp"
)

// ListTools handles GET /api/v1/mcp/tools
func (s *Server) ListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.Tools.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
		"count": len(tools),
	})
}

// DispatchTool handles POST /api/v1/mcp/tools/{name}. Tool failures are
// reported inside the envelope, not through the HTTP status.
func (s *Server) DispatchTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	deps := &mcp.Deps{
		Store:  s.Store,
		Index:  s.Index,
		Writer: s.Graph.For(auth.UserID(r.Context())),
	}
	env := s.Tools.Dispatch(r.Context(), deps, name, json.RawMessage(body))
	writeJSON(w, http.StatusOK, env)
}
