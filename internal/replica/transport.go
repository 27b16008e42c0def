package replica

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/inbetweenies"
)

// ErrUnauthorized reports that the server rejected the replica's credentials
var ErrUnauthorized = errors.New("server rejected credentials")

// SyncTransport carries sync rounds and blob transfers to the server. The
// in-process test transport and the HTTP transport both satisfy it.
type SyncTransport interface {
	// Exchange runs one request/response exchange of a sync round
	Exchange(ctx context.Context, req *inbetweenies.SyncRequest) (*inbetweenies.SyncResponse, error)

	// UploadBlob pushes a blob to the server and returns its server URL
	UploadBlob(ctx context.Context, b *graph.Blob) (string, error)

	// Health probes server reachability
	Health(ctx context.Context) error
}

const healthProbeTimeout = 5 * time.Second

// HTTPTransport speaks the sync protocol over the server's REST surface
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPTransport builds a transport for the given server base URL. An empty
// token sends no Authorization header.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	res, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graph.ErrNetworkUnavailable, err)
	}
	return res, nil
}

// Exchange posts one sync request and decodes the response
func (t *HTTPTransport) Exchange(ctx context.Context, req *inbetweenies.SyncRequest) (*inbetweenies.SyncResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding sync request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/sync/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	res, err := t.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: server returned %d", graph.ErrNetworkUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: server returned %d", graph.ErrInvalidInput, res.StatusCode)
	}

	var resp inbetweenies.SyncResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding sync response: %w", err)
	}
	return &resp, nil
}

// UploadBlob upserts the full blob record on the server
func (t *HTTPTransport) UploadBlob(ctx context.Context, b *graph.Blob) (string, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encoding blob: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/blobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	res, err := t.do(httpReq)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return "", ErrUnauthorized
	case res.StatusCode >= 500:
		return "", fmt.Errorf("%w: server returned %d", graph.ErrNetworkUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated:
		return "", fmt.Errorf("%w: server returned %d", graph.ErrInvalidInput, res.StatusCode)
	}
	return t.baseURL + "/api/v1/blobs/" + b.ID, nil
}

// Health probes the server's health endpoint with a short deadline
func (t *HTTPTransport) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := t.do(httpReq)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", graph.ErrNetworkUnavailable, res.StatusCode)
	}
	return nil
}
