// Package mcp exposes the home graph to language-model agents as a catalog
// of typed tools. The same registry serves the server (over the
// authoritative store) and the agent (over the local replica).
package mcp

import (
	"context"
	"encoding/json"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/index"
	"github.com/inbetweenies/homegraph/internal/store"
)

// ToolDefinition describes one tool with its name, description, and input
// schema
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// GraphWriter is the write path tools mutate the graph through. The server
// binds it to the authoritative store, the agent to the local replica.
type GraphWriter interface {
	CreateEntity(ctx context.Context, id string, t graph.EntityType, name string, content map[string]any, source graph.SourceType) (*graph.Entity, error)
	UpdateEntity(ctx context.Context, id string, changes map[string]any) (*graph.Entity, error)
	CreateRelationship(ctx context.Context, fromID, toID string, t graph.RelationshipType, properties map[string]any) (*graph.Relationship, error)
}

// Deps carries what a tool handler may touch
type Deps struct {
	Store  store.Store
	Index  *index.Index
	Writer GraphWriter
}

// Handler processes one tool invocation
type Handler func(ctx context.Context, deps *Deps, args json.RawMessage) (any, error)

// Envelope is the uniform tool result. A failed call reports the error as
// data, never as a transport failure; unknown tools additionally carry the
// catalog so the caller can self-correct.
type Envelope struct {
	Success        bool     `json:"success"`
	Result         any      `json:"result,omitempty"`
	Error          string   `json:"error,omitempty"`
	AvailableTools []string `json:"available_tools,omitempty"`
}
