package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/inbetweenies/homegraph/internal/graph"
)

func handleCreateEntity(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		EntityType string         `json:"entity_type"`
		Name       string         `json:"name"`
		Content    map[string]any `json:"content"`
		SourceType string         `json:"source_type"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	t, err := graph.ParseEntityType(p.EntityType)
	if err != nil {
		return nil, err
	}
	source := graph.SourceTypeManual
	if p.SourceType != "" {
		if source, err = graph.ParseSourceType(p.SourceType); err != nil {
			return nil, err
		}
	}
	e, err := deps.Writer.CreateEntity(ctx, "", t, p.Name, p.Content, source)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity": e}, nil
}

func handleCreateRelationship(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		FromEntityID     string         `json:"from_entity_id"`
		ToEntityID       string         `json:"to_entity_id"`
		RelationshipType string         `json:"relationship_type"`
		Properties       map[string]any `json:"properties"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	t, err := graph.ParseRelationshipType(p.RelationshipType)
	if err != nil {
		return nil, err
	}
	rel, err := deps.Writer.CreateRelationship(ctx, p.FromEntityID, p.ToEntityID, t, p.Properties)
	if err != nil {
		return nil, err
	}
	return map[string]any{"relationship": rel}, nil
}

func handleUpdateEntity(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		EntityID string         `json:"entity_id"`
		Changes  map[string]any `json:"changes"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	if len(p.Changes) == 0 {
		return nil, fmt.Errorf("%w: changes must not be empty", graph.ErrInvalidInput)
	}
	e, err := deps.Writer.UpdateEntity(ctx, p.EntityID, p.Changes)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity": e}, nil
}
