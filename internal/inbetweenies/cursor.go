package inbetweenies

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor marks a position in the server's change stream.
// Format: base64("<updated_at_ms>|<entity_id>") for deterministic
// (updated_at, id) pagination.
type Cursor struct {
	Ms int64
	ID string
}

// EncodeCursor creates an opaque cursor string.
// Returns empty string for the zero-value cursor.
func EncodeCursor(c Cursor) string {
	if c.Ms == 0 && c.ID == "" {
		return ""
	}
	raw := fmt.Sprintf("%d|%s", c.Ms, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string.
// Returns zero-value cursor and false if invalid or empty.
func DecodeCursor(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}

	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, false
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, false
	}

	return Cursor{Ms: ms, ID: parts[1]}, true
}
