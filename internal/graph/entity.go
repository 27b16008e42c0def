package graph

import (
	"fmt"
	"time"
)

// Entity is one immutable version of a node in the home graph.
// Identity is the (ID, Version) pair; an update appends a new version whose
// ParentVersions carries the prior latest.
type Entity struct {
	ID             string         `json:"id"`
	Version        string         `json:"version"`
	EntityType     EntityType     `json:"entity_type"`
	Name           string         `json:"name"`
	Content        map[string]any `json:"content"`
	SourceType     SourceType     `json:"source_type"`
	UserID         string         `json:"user_id"`
	ParentVersions []string       `json:"parent_versions"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewVersion builds a version string: "<RFC3339Nano UTC>-<user_id>".
// Sub-millisecond resolution plus the author suffix makes collisions
// practically impossible; the store's duplicate check is the backstop.
func NewVersion(now time.Time, userID string) string {
	return now.UTC().Format(time.RFC3339Nano) + "-" + userID
}

// NewEntity constructs version 1 of an entity
func NewEntity(id string, t EntityType, name string, content map[string]any, source SourceType, userID string, now time.Time) (*Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: entity name must not be empty", ErrInvalidInput)
	}
	if content == nil {
		content = map[string]any{}
	}
	now = now.UTC()
	return &Entity{
		ID:             id,
		Version:        NewVersion(now, userID),
		EntityType:     t,
		Name:           name,
		Content:        content,
		SourceType:     source,
		UserID:         userID,
		ParentVersions: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// NextVersion builds the successor of prev with changes merged into content.
// The previous latest becomes the sole parent.
func (e *Entity) NextVersion(changes map[string]any, userID string, now time.Time) *Entity {
	now = now.UTC()
	next := &Entity{
		ID:             e.ID,
		Version:        NewVersion(now, userID),
		EntityType:     e.EntityType,
		Name:           e.Name,
		Content:        MergeContent(e.Content, changes),
		SourceType:     e.SourceType,
		UserID:         userID,
		ParentVersions: []string{e.Version},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if name, ok := changes["name"].(string); ok && name != "" {
		next.Name = name
		delete(next.Content, "name")
	}
	return next
}

// Tombstone builds the deletion version: content carries deleted=true and
// the record participates in the normal conflict rule.
func Tombstone(prev *Entity, userID string, now time.Time) *Entity {
	t := prev.NextVersion(map[string]any{"deleted": true}, userID, now)
	return t
}

// Deleted reports whether this version is a tombstone
func (e *Entity) Deleted() bool {
	v, ok := e.Content["deleted"].(bool)
	return ok && v
}

// Validate checks the field invariants an entity must satisfy before storage
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity id must not be empty", ErrInvalidInput)
	}
	if e.Version == "" {
		return fmt.Errorf("%w: entity version must not be empty", ErrInvalidInput)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: entity name must not be empty", ErrInvalidInput)
	}
	if _, err := ParseEntityType(string(e.EntityType)); err != nil {
		return err
	}
	if _, err := ParseSourceType(string(e.SourceType)); err != nil {
		return err
	}
	return nil
}

// Newer reports whether a should be considered the latest over b:
// greatest created_at, ties broken by lexicographic version.
func Newer(a, b *Entity) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Version > b.Version
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Relationship is a typed directed edge pinned to specific entity versions
type Relationship struct {
	ID                string           `json:"id"`
	FromEntityID      string           `json:"from_entity_id"`
	FromEntityVersion string           `json:"from_entity_version"`
	ToEntityID        string           `json:"to_entity_id"`
	ToEntityVersion   string           `json:"to_entity_version"`
	RelationshipType  RelationshipType `json:"relationship_type"`
	Properties        map[string]any   `json:"properties"`
	UserID            string           `json:"user_id"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Validate checks the field invariants an edge must satisfy before storage
func (r *Relationship) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: relationship id must not be empty", ErrInvalidInput)
	}
	if r.FromEntityID == "" || r.ToEntityID == "" {
		return fmt.Errorf("%w: relationship endpoints must not be empty", ErrInvalidInput)
	}
	if _, err := ParseRelationshipType(string(r.RelationshipType)); err != nil {
		return err
	}
	return nil
}
