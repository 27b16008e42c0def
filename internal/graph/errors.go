package graph

import "errors"

// Sentinel errors for the core. Callers wrap with fmt.Errorf("...: %w") and
// test with errors.Is; the HTTP edge and the tool envelope translate them
// through ErrorCode.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidRelationship = errors.New("invalid relationship")
	ErrDuplicateVersion    = errors.New("duplicate version")
	ErrConflictUnresolved  = errors.New("conflict unresolved")
	ErrSyncInProgress      = errors.New("sync already in progress")
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrStorageError        = errors.New("storage error")
	ErrUnknownTool         = errors.New("unknown tool")
)

// ErrorCode maps an error to its machine-readable taxonomy code.
// Unrecognized errors map to STORAGE_ERROR so drivers never leak through.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrInvalidRelationship):
		return "INVALID_RELATIONSHIP"
	case errors.Is(err, ErrDuplicateVersion):
		return "DUPLICATE_VERSION"
	case errors.Is(err, ErrConflictUnresolved):
		return "CONFLICT_UNRESOLVED"
	case errors.Is(err, ErrSyncInProgress):
		return "SYNC_IN_PROGRESS"
	case errors.Is(err, ErrNetworkUnavailable):
		return "NETWORK_UNAVAILABLE"
	case errors.Is(err, ErrUnknownTool):
		return "UNKNOWN_TOOL"
	default:
		return "STORAGE_ERROR"
	}
}
