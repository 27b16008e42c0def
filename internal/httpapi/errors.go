package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/inbetweenies/homegraph/internal/graph"
)

// errorBody is the machine-readable failure envelope
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor translates core sentinel errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, graph.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrInvalidInput), errors.Is(err, graph.ErrInvalidRelationship):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrDuplicateVersion),
		errors.Is(err, graph.ErrConflictUnresolved),
		errors.Is(err, graph.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, graph.ErrNetworkUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorBody{Error: graph.ErrorCode(err), Message: err.Error()})
}

// decodeBody strictly decodes a JSON request body. An unreadable body maps
// to INVALID_INPUT rather than a storage error.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", graph.ErrInvalidInput, err)
	}
	return nil
}
