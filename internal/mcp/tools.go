package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/index"
)

// DefaultRegistry builds the registry with the full home graph tool catalog
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.MustRegister(ToolDefinition{
		Name:        "get_devices_in_room",
		Description: "List the devices located in a room, found by room id or name",
		InputSchema: buildSchema(map[string]any{
			"room_id":   stringSchema("Room entity id; takes precedence over room_name"),
			"room_name": stringSchema("Name of the room, case-insensitive"),
		}, nil),
	}, handleGetDevicesInRoom)

	r.MustRegister(ToolDefinition{
		Name:        "find_device_controls",
		Description: "Show what a device controls and the control-relevant fields of its content",
		InputSchema: buildSchema(map[string]any{
			"device_id":   stringSchema("Device entity id; takes precedence over device_name"),
			"device_name": stringSchema("Name of the device, case-insensitive"),
		}, nil),
	}, handleFindDeviceControls)

	r.MustRegister(ToolDefinition{
		Name:        "get_room_connections",
		Description: "List the rooms a room connects to, directly or through a door or window",
		InputSchema: buildSchema(map[string]any{
			"room_id":   stringSchema("Room entity id; takes precedence over room_name"),
			"room_name": stringSchema("Name of the room, case-insensitive"),
		}, nil),
	}, handleGetRoomConnections)

	r.MustRegister(ToolDefinition{
		Name:        "search_entities",
		Description: "Free-text search over entity names and content, ranked by relevance",
		InputSchema: buildSchema(map[string]any{
			"query":        stringSchema("Search text"),
			"entity_types": arraySchema("Restrict to these entity types", enumSchema("Entity type", entityTypeNames())),
			"limit":        integerSchema("Maximum results", 1, maxSearchLimit),
		}, []string{"query"}),
	}, handleSearchEntities)

	r.MustRegister(ToolDefinition{
		Name:        "create_entity",
		Description: "Create a new entity in the home graph",
		InputSchema: buildSchema(map[string]any{
			"entity_type": enumSchema("Entity type", entityTypeNames()),
			"name":        stringSchema("Human-readable entity name"),
			"content":     objectSchema("Arbitrary JSON content"),
			"source_type": enumSchema("Provenance of the entity", sourceTypeNames()),
		}, []string{"entity_type", "name"}),
	}, handleCreateEntity)

	r.MustRegister(ToolDefinition{
		Name:        "create_relationship",
		Description: "Connect two entities with a typed relationship",
		InputSchema: buildSchema(map[string]any{
			"from_entity_id":    stringSchema("Source entity id"),
			"to_entity_id":      stringSchema("Target entity id"),
			"relationship_type": enumSchema("Relationship type", relationshipTypeNames()),
			"properties":        objectSchema("Arbitrary JSON properties of the edge"),
		}, []string{"from_entity_id", "to_entity_id", "relationship_type"}),
	}, handleCreateRelationship)

	r.MustRegister(ToolDefinition{
		Name:        "find_path",
		Description: "Find the shortest directed path between two entities",
		InputSchema: buildSchema(map[string]any{
			"from_entity_id": stringSchema("Start entity id"),
			"to_entity_id":   stringSchema("Goal entity id"),
			"max_depth":      integerSchema("Maximum path length in hops", 1, maxPathDepth),
		}, []string{"from_entity_id", "to_entity_id"}),
	}, handleFindPath)

	r.MustRegister(ToolDefinition{
		Name:        "get_entity_details",
		Description: "Return an entity's latest version, version count, and its edges",
		InputSchema: buildSchema(map[string]any{
			"entity_id": stringSchema("Entity id"),
		}, []string{"entity_id"}),
	}, handleGetEntityDetails)

	r.MustRegister(ToolDefinition{
		Name:        "find_similar_entities",
		Description: "Find entities similar to a given one by type and token overlap",
		InputSchema: buildSchema(map[string]any{
			"entity_id": stringSchema("Reference entity id"),
			"threshold": numberSchema("Minimum similarity score", 0, 1),
			"limit":     integerSchema("Maximum results", 1, maxSimilarLimit),
		}, []string{"entity_id"}),
	}, handleFindSimilarEntities)

	r.MustRegister(ToolDefinition{
		Name:        "get_procedures_for_device",
		Description: "List procedures and manuals documenting a device",
		InputSchema: buildSchema(map[string]any{
			"device_id":   stringSchema("Device entity id; takes precedence over device_name"),
			"device_name": stringSchema("Name of the device, case-insensitive"),
		}, nil),
	}, handleGetProceduresForDevice)

	r.MustRegister(ToolDefinition{
		Name:        "get_automations_in_room",
		Description: "List automations acting on a room or the devices in it",
		InputSchema: buildSchema(map[string]any{
			"room_id":   stringSchema("Room entity id; takes precedence over room_name"),
			"room_name": stringSchema("Name of the room, case-insensitive"),
		}, nil),
	}, handleGetAutomationsInRoom)

	r.MustRegister(ToolDefinition{
		Name:        "update_entity",
		Description: "Append a new version of an entity with changes merged into its content",
		InputSchema: buildSchema(map[string]any{
			"entity_id": stringSchema("Entity id"),
			"changes":   objectSchema("Content keys to merge; a \"name\" key renames the entity"),
		}, []string{"entity_id", "changes"}),
	}, handleUpdateEntity)

	return r
}

func entityTypeNames() []string {
	out := make([]string, len(graph.EntityTypes))
	for i, t := range graph.EntityTypes {
		out[i] = string(t)
	}
	return out
}

func sourceTypeNames() []string {
	out := make([]string, len(graph.SourceTypes))
	for i, t := range graph.SourceTypes {
		out[i] = string(t)
	}
	return out
}

func relationshipTypeNames() []string {
	out := make([]string, len(graph.RelationshipTypes))
	for i, t := range graph.RelationshipTypes {
		out[i] = string(t)
	}
	return out
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing arguments", graph.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", graph.ErrInvalidInput, err)
	}
	return nil
}

// resolveEntity finds a live entity by id when one is given, by name
// otherwise. An id that exists but has the wrong type is an input error
// rather than a miss.
func resolveEntity(ix *index.Index, id, name string, t graph.EntityType) (*graph.Entity, error) {
	if id != "" {
		e, ok := ix.Entity(id)
		if !ok || e.Deleted() {
			return nil, fmt.Errorf("%w: no entity %s", graph.ErrNotFound, id)
		}
		if t != "" && e.EntityType != t {
			return nil, fmt.Errorf("%w: entity %s is a %s, not a %s", graph.ErrInvalidInput, id, e.EntityType, t)
		}
		return e, nil
	}
	if name == "" {
		return nil, fmt.Errorf("%w: an id or a name is required", graph.ErrInvalidInput)
	}
	return findOneByName(ix, name, t)
}

// findOneByName resolves a name to the best-matching live entity: exact
// match first, substring fallback
func findOneByName(ix *index.Index, name string, t graph.EntityType) (*graph.Entity, error) {
	candidates := ix.FindEntitiesByName(name, false)
	if len(candidates) == 0 {
		candidates = ix.FindEntitiesByName(name, true)
	}
	for _, e := range candidates {
		if e.Deleted() {
			continue
		}
		if t != "" && e.EntityType != t {
			continue
		}
		return e, nil
	}
	if t != "" {
		return nil, fmt.Errorf("%w: no %s named %q", graph.ErrNotFound, t, name)
	}
	return nil, fmt.Errorf("%w: no entity named %q", graph.ErrNotFound, name)
}
