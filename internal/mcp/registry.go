package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds tool definitions and dispatches calls
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*toolEntry
	ordering []string // registration order keeps tools/list stable
}

type toolEntry struct {
	def     ToolDefinition
	handler Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*toolEntry)}
}

// Register adds a tool definition and handler
func (r *Registry) Register(def ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &toolEntry{def: def, handler: handler}
	r.ordering = append(r.ordering, def.Name)
	return nil
}

// MustRegister registers a tool or panics (for construction-time wiring)
func (r *Registry) MustRegister(def ToolDefinition, handler Handler) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

// List returns every registered definition in registration order
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.ordering))
	for _, name := range r.ordering {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Names returns the tool catalog in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.ordering...)
}

// Get retrieves a tool definition by name
func (r *Registry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.tools[name]
	if !exists {
		return nil, false
	}
	return &entry.def, true
}

// Dispatch executes a tool by name. Every outcome is an Envelope: handler
// errors and panics become data, an unknown name carries the catalog.
func (r *Registry) Dispatch(ctx context.Context, deps *Deps, name string, args json.RawMessage) (env Envelope) {
	r.mu.RLock()
	entry, exists := r.tools[name]
	r.mu.RUnlock()

	if !exists {
		return Envelope{
			Success:        false,
			Error:          fmt.Sprintf("unknown tool: %s", name),
			AvailableTools: r.Names(),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("tool", name).Interface("panic", rec).Msg("tool handler panicked")
			env = Envelope{Success: false, Error: fmt.Sprintf("internal error in tool %s", name)}
		}
	}()

	result, err := entry.handler(ctx, deps, args)
	if err != nil {
		return Envelope{Success: false, Error: err.Error()}
	}
	return Envelope{Success: true, Result: result}
}
