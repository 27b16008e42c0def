package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Blob stores binary content (PDFs, photos) outside the entity content
// stream. Entities link to blobs through has_blob edges.
type Blob struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	BlobType     BlobType       `json:"blob_type"`
	MimeType     string         `json:"mime_type"`
	Size         int            `json:"size"`
	Data         []byte         `json:"data,omitempty"`
	BlobMetadata map[string]any `json:"blob_metadata"`
	Checksum     string         `json:"checksum"`
	SyncStatus   BlobStatus     `json:"sync_status"`
	ServerURL    string         `json:"server_url,omitempty"`
	LastSyncAt   *time.Time     `json:"last_sync_at,omitempty"`
	UserID       string         `json:"user_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ChecksumOf returns the SHA-256 hex digest of data
func ChecksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewBlob constructs a blob with its checksum and size derived from data.
// Fresh blobs start as pending_upload.
func NewBlob(id, name string, t BlobType, mime string, data []byte, metadata map[string]any, userID string, now time.Time) (*Blob, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: blob name must not be empty", ErrInvalidInput)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	now = now.UTC()
	return &Blob{
		ID:           id,
		Name:         name,
		BlobType:     t,
		MimeType:     mime,
		Size:         len(data),
		Data:         data,
		BlobMetadata: metadata,
		Checksum:     ChecksumOf(data),
		SyncStatus:   BlobStatusPendingUpload,
		UserID:       userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// SetData replaces the blob bytes, recomputes checksum and size, and resets
// the sync status to pending_upload
func (b *Blob) SetData(data []byte, now time.Time) {
	b.Data = data
	b.Size = len(data)
	b.Checksum = ChecksumOf(data)
	b.SyncStatus = BlobStatusPendingUpload
	b.UpdatedAt = now.UTC()
}

// Verify rechecks the checksum and size invariants against the stored bytes
func (b *Blob) Verify() error {
	if b.Size != len(b.Data) {
		return fmt.Errorf("%w: blob %s size %d does not match %d data bytes", ErrInvalidInput, b.ID, b.Size, len(b.Data))
	}
	if b.Checksum != ChecksumOf(b.Data) {
		return fmt.Errorf("%w: blob %s checksum mismatch", ErrInvalidInput, b.ID)
	}
	return nil
}
