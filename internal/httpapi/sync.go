package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/inbetweenies/homegraph/internal/auth"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
)

// HandleSync handles POST /api/v1/sync/, one round of the sync exchange.
// The authenticated subject overrides whatever user id the body claims.
func (s *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	var req inbetweenies.SyncRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.UserID = auth.UserID(r.Context())

	resp, err := s.Sync.HandleSync(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Debug().
		Str("device_id", req.DeviceID).
		Str("sync_type", string(req.SyncType)).
		Int("inbound", len(req.Changes)).
		Int("outbound", len(resp.Changes)).
		Msg("sync exchange served")
	writeJSON(w, http.StatusOK, resp)
}
