package graph

import "fmt"

// EntityType is the closed set of node kinds in the home graph
type EntityType string

const (
	EntityTypeHome       EntityType = "home"
	EntityTypeRoom       EntityType = "room"
	EntityTypeDevice     EntityType = "device"
	EntityTypeZone       EntityType = "zone"
	EntityTypeDoor       EntityType = "door"
	EntityTypeWindow     EntityType = "window"
	EntityTypeProcedure  EntityType = "procedure"
	EntityTypeManual     EntityType = "manual"
	EntityTypeNote       EntityType = "note"
	EntityTypeSchedule   EntityType = "schedule"
	EntityTypeAutomation EntityType = "automation"
	EntityTypeApp        EntityType = "app"
)

// EntityTypes lists every valid entity type in declaration order
var EntityTypes = []EntityType{
	EntityTypeHome, EntityTypeRoom, EntityTypeDevice, EntityTypeZone,
	EntityTypeDoor, EntityTypeWindow, EntityTypeProcedure, EntityTypeManual,
	EntityTypeNote, EntityTypeSchedule, EntityTypeAutomation, EntityTypeApp,
}

// ParseEntityType validates a wire string against the closed set
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, s)
}

// SourceType records the provenance of an entity version
type SourceType string

const (
	SourceTypeManual    SourceType = "manual"
	SourceTypeHomeKit   SourceType = "homekit"
	SourceTypeImported  SourceType = "imported"
	SourceTypeGenerated SourceType = "generated"
)

// SourceTypes lists every valid source type
var SourceTypes = []SourceType{
	SourceTypeManual, SourceTypeHomeKit, SourceTypeImported, SourceTypeGenerated,
}

// ParseSourceType validates a wire string against the closed set
func ParseSourceType(s string) (SourceType, error) {
	for _, t := range SourceTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, s)
}

// RelationshipType is the closed set of edge kinds
type RelationshipType string

const (
	RelLocatedIn       RelationshipType = "located_in"
	RelControls        RelationshipType = "controls"
	RelConnectsTo      RelationshipType = "connects_to"
	RelPartOf          RelationshipType = "part_of"
	RelManages         RelationshipType = "manages"
	RelDocumentedBy    RelationshipType = "documented_by"
	RelProcedureFor    RelationshipType = "procedure_for"
	RelTriggeredBy     RelationshipType = "triggered_by"
	RelDependsOn       RelationshipType = "depends_on"
	RelContainedIn     RelationshipType = "contained_in"
	RelMonitors        RelationshipType = "monitors"
	RelAutomates       RelationshipType = "automates"
	RelControlledByApp RelationshipType = "controlled_by_app"
	RelHasBlob         RelationshipType = "has_blob"
)

// RelationshipTypes lists every valid relationship type
var RelationshipTypes = []RelationshipType{
	RelLocatedIn, RelControls, RelConnectsTo, RelPartOf, RelManages,
	RelDocumentedBy, RelProcedureFor, RelTriggeredBy, RelDependsOn,
	RelContainedIn, RelMonitors, RelAutomates, RelControlledByApp, RelHasBlob,
}

// ParseRelationshipType validates a wire string against the closed set
func ParseRelationshipType(s string) (RelationshipType, error) {
	for _, t := range RelationshipTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown relationship type %q", ErrInvalidInput, s)
}

// BlobType identifies the payload format of a binary blob
type BlobType string

const (
	BlobTypePDF    BlobType = "pdf"
	BlobTypeJPEG   BlobType = "jpeg"
	BlobTypePNG    BlobType = "png"
	BlobTypeBinary BlobType = "binary"
)

// ParseBlobType validates a wire string against the closed set
func ParseBlobType(s string) (BlobType, error) {
	switch BlobType(s) {
	case BlobTypePDF, BlobTypeJPEG, BlobTypePNG, BlobTypeBinary:
		return BlobType(s), nil
	}
	return "", fmt.Errorf("%w: unknown blob type %q", ErrInvalidInput, s)
}

// BlobStatus tracks where a blob stands in the upload/download lifecycle
type BlobStatus string

const (
	BlobStatusPendingUpload BlobStatus = "pending_upload"
	BlobStatusUploaded      BlobStatus = "uploaded"
	BlobStatusDownloaded    BlobStatus = "downloaded"
	BlobStatusFailed        BlobStatus = "failed"
)

// ParseBlobStatus validates a wire string against the closed set
func ParseBlobStatus(s string) (BlobStatus, error) {
	switch BlobStatus(s) {
	case BlobStatusPendingUpload, BlobStatusUploaded, BlobStatusDownloaded, BlobStatusFailed:
		return BlobStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown blob status %q", ErrInvalidInput, s)
}
