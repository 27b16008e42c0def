package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inbetweenies/homegraph/internal/auth"
	"github.com/inbetweenies/homegraph/internal/graph"
)

// maxBlobBytes caps an uploaded blob body at 32 MiB
const maxBlobBytes = 32 << 20

// CreateBlob handles POST /api/v1/blobs. The data field rides base64-encoded
// in the JSON body. A blob accepted by the server is marked uploaded.
func (s *Server) CreateBlob(w http.ResponseWriter, r *http.Request) {
	var p struct {
		ID       string         `json:"id"`
		Name     string         `json:"name"`
		BlobType string         `json:"blob_type"`
		MimeType string         `json:"mime_type"`
		Data     []byte         `json:"data"`
		Metadata map[string]any `json:"blob_metadata"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBlobBytes)
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	t, err := graph.ParseBlobType(p.BlobType)
	if err != nil {
		writeError(w, err)
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	b, err := graph.NewBlob(p.ID, p.Name, t, p.MimeType, p.Data, p.Metadata, auth.UserID(r.Context()), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	// The authoritative copy is the uploaded one
	b.SyncStatus = graph.BlobStatusUploaded
	if err := s.Store.PutBlob(r.Context(), b); err != nil {
		writeError(w, err)
		return
	}

	meta := *b
	meta.Data = nil
	writeJSON(w, http.StatusOK, map[string]any{"blob": &meta})
}

// GetBlobMeta handles GET /api/v1/blobs/{id}, returning metadata without
// the payload bytes
func (s *Server) GetBlobMeta(w http.ResponseWriter, r *http.Request) {
	b, err := s.Store.GetBlob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	meta := *b
	meta.Data = nil
	writeJSON(w, http.StatusOK, map[string]any{"blob": &meta})
}

// GetBlobData handles GET /api/v1/blobs/{id}/data, streaming the raw bytes
// under the stored MIME type
func (s *Server) GetBlobData(w http.ResponseWriter, r *http.Request) {
	b, err := s.Store.GetBlob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	mime := b.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", fmt.Sprint(len(b.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(b.Data)
}

// PutBlobData handles PUT /api/v1/blobs/{id}/data, replacing the payload
// with the raw request body
func (s *Server) PutBlobData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobBytes))
	if err != nil {
		writeError(w, fmt.Errorf("%w: reading blob body: %v", graph.ErrInvalidInput, err))
		return
	}
	if err := s.Store.UpdateBlobData(r.Context(), id, data); err != nil {
		writeError(w, err)
		return
	}
	b, err := s.Store.GetBlob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	meta := *b
	meta.Data = nil
	writeJSON(w, http.StatusOK, map[string]any{"blob": &meta})
}
