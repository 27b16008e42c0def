package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/index"
)

const (
	maxPathDepth     = 20
	defaultPathDepth = 10
	maxSimilarLimit  = 50
	defaultLimit     = 10
	maxSearchLimit   = 100
)

// containmentRels are the edge types that place something inside a room
var containmentRels = map[graph.RelationshipType]bool{
	graph.RelLocatedIn:   true,
	graph.RelContainedIn: true,
}

// devicesInRoom resolves the live devices attached to a room through
// containment edges
func devicesInRoom(ix *index.Index, roomID string) []*graph.Entity {
	var out []*graph.Entity
	for _, edge := range ix.EdgesTo(roomID) {
		if !containmentRels[edge.RelationshipType] {
			continue
		}
		e, ok := ix.Entity(edge.FromEntityID)
		if !ok || e.Deleted() || e.EntityType != graph.EntityTypeDevice {
			continue
		}
		out = append(out, e)
	}
	return out
}

func handleGetDevicesInRoom(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		RoomID   string `json:"room_id"`
		RoomName string `json:"room_name"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	room, err := resolveEntity(deps.Index, p.RoomID, p.RoomName, graph.EntityTypeRoom)
	if err != nil {
		return nil, err
	}
	devices := devicesInRoom(deps.Index, room.ID)
	return map[string]any{
		"room":    room,
		"devices": devices,
		"count":   len(devices),
	}, nil
}

func handleFindDeviceControls(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		DeviceID   string `json:"device_id"`
		DeviceName string `json:"device_name"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	device, err := resolveEntity(deps.Index, p.DeviceID, p.DeviceName, graph.EntityTypeDevice)
	if err != nil {
		return nil, err
	}

	var controls []*graph.Entity
	for _, edge := range deps.Index.EdgesFrom(device.ID) {
		if edge.RelationshipType != graph.RelControls {
			continue
		}
		if e, ok := deps.Index.Entity(edge.ToEntityID); ok && !e.Deleted() {
			controls = append(controls, e)
		}
	}
	var controllers []*graph.Entity
	for _, edge := range deps.Index.EdgesTo(device.ID) {
		if edge.RelationshipType != graph.RelControls && edge.RelationshipType != graph.RelManages {
			continue
		}
		if e, ok := deps.Index.Entity(edge.FromEntityID); ok && !e.Deleted() {
			controllers = append(controllers, e)
		}
	}
	return map[string]any{
		"device":        device,
		"controls":      controls,
		"controlled_by": controllers,
		"content":       device.Content,
	}, nil
}

// connectsToNeighbors lists the live entities one connects_to hop from id,
// in either edge direction
func connectsToNeighbors(ix *index.Index, id string) []neighborRef {
	var out []neighborRef
	for _, edge := range ix.EdgesFrom(id) {
		if edge.RelationshipType != graph.RelConnectsTo {
			continue
		}
		if e, ok := ix.Entity(edge.ToEntityID); ok && !e.Deleted() {
			out = append(out, neighborRef{entity: e, direction: "outgoing"})
		}
	}
	for _, edge := range ix.EdgesTo(id) {
		if edge.RelationshipType != graph.RelConnectsTo {
			continue
		}
		if e, ok := ix.Entity(edge.FromEntityID); ok && !e.Deleted() {
			out = append(out, neighborRef{entity: e, direction: "incoming"})
		}
	}
	return out
}

type neighborRef struct {
	entity    *graph.Entity
	direction string
}

func handleGetRoomConnections(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		RoomID   string `json:"room_id"`
		RoomName string `json:"room_name"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	room, err := resolveEntity(deps.Index, p.RoomID, p.RoomName, graph.EntityTypeRoom)
	if err != nil {
		return nil, err
	}

	type connection struct {
		Room      *graph.Entity `json:"room"`
		Via       *graph.Entity `json:"via,omitempty"`
		Direction string        `json:"direction"`
	}
	seen := map[string]bool{}
	var conns []connection
	add := func(target, via *graph.Entity, direction string) {
		key := target.ID
		if via != nil {
			key += "|" + via.ID
		}
		if seen[key] {
			return
		}
		seen[key] = true
		conns = append(conns, connection{Room: target, Via: via, Direction: direction})
	}
	for _, n := range connectsToNeighbors(deps.Index, room.ID) {
		switch n.entity.EntityType {
		case graph.EntityTypeRoom:
			add(n.entity, nil, n.direction)
		case graph.EntityTypeDoor, graph.EntityTypeWindow:
			// Doors and windows are passage nodes; the room on their far
			// side is the real connection
			for _, far := range connectsToNeighbors(deps.Index, n.entity.ID) {
				if far.entity.ID == room.ID || far.entity.EntityType != graph.EntityTypeRoom {
					continue
				}
				add(far.entity, n.entity, n.direction)
			}
		}
	}
	return map[string]any{
		"room":        room,
		"connections": conns,
	}, nil
}

func handleSearchEntities(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		Query       string   `json:"query"`
		EntityTypes []string `json:"entity_types"`
		Limit       int      `json:"limit"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", graph.ErrInvalidInput)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	typeFilter := map[graph.EntityType]bool{}
	for _, s := range p.EntityTypes {
		t, err := graph.ParseEntityType(s)
		if err != nil {
			return nil, err
		}
		typeFilter[t] = true
	}

	queryTokens := tokenize(p.Query)
	var results []scored
	for _, e := range deps.Index.AllEntities() {
		if e.Deleted() {
			continue
		}
		if len(typeFilter) > 0 && !typeFilter[e.EntityType] {
			continue
		}
		results = append(results, scored{Entity: e, Score: searchScore(e, p.Query, queryTokens)})
	}
	rank(results)
	if len(results) > limit {
		results = results[:limit]
	}

	type searchHit struct {
		Entity     *graph.Entity `json:"entity"`
		Score      float64       `json:"score"`
		Highlights []string      `json:"highlights"`
	}
	hits := make([]searchHit, len(results))
	for i, r := range results {
		hits[i] = searchHit{
			Entity:     r.Entity,
			Score:      r.Score,
			Highlights: searchHighlights(r.Entity, p.Query, queryTokens),
		}
	}
	return map[string]any{
		"results": hits,
		"count":   len(hits),
	}, nil
}

func handleFindPath(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		FromEntityID string `json:"from_entity_id"`
		ToEntityID   string `json:"to_entity_id"`
		MaxDepth     int    `json:"max_depth"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	depth := p.MaxDepth
	if depth <= 0 {
		depth = defaultPathDepth
	}
	if depth > maxPathDepth {
		depth = maxPathDepth
	}

	ids := deps.Index.FindPath(p.FromEntityID, p.ToEntityID, depth)
	if ids == nil {
		return map[string]any{
			"found": false,
			"path":  []any{},
		}, nil
	}
	path := make([]*graph.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := deps.Index.Entity(id); ok {
			path = append(path, e)
		}
	}
	return map[string]any{
		"found": true,
		"path":  path,
		"hops":  len(ids) - 1,
	}, nil
}

func handleGetEntityDetails(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		EntityID string `json:"entity_id"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	latest, err := deps.Store.GetLatestEntity(ctx, p.EntityID)
	if err != nil {
		return nil, err
	}
	versions, err := deps.Store.GetEntityVersions(ctx, p.EntityID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"entity":         latest,
		"version_count":  len(versions),
		"outgoing_edges": deps.Index.EdgesFrom(p.EntityID),
		"incoming_edges": deps.Index.EdgesTo(p.EntityID),
	}, nil
}

func handleFindSimilarEntities(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		EntityID  string   `json:"entity_id"`
		Threshold *float64 `json:"threshold"`
		Limit     int      `json:"limit"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	threshold := 0.3
	if p.Threshold != nil {
		threshold = *p.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be between 0 and 1", graph.ErrInvalidInput)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}

	ref, ok := deps.Index.Entity(p.EntityID)
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", graph.ErrNotFound, p.EntityID)
	}

	var results []scored
	for _, e := range deps.Index.AllEntities() {
		if e.ID == ref.ID || e.Deleted() {
			continue
		}
		if s := similarity(ref, e); s >= threshold {
			results = append(results, scored{Entity: e, Score: s})
		}
	}
	rank(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return map[string]any{
		"reference": ref,
		"similar":   results,
		"count":     len(results),
	}, nil
}

func handleGetProceduresForDevice(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		DeviceID   string `json:"device_id"`
		DeviceName string `json:"device_name"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	device, err := resolveEntity(deps.Index, p.DeviceID, p.DeviceName, graph.EntityTypeDevice)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var docs []*graph.Entity
	add := func(id string) {
		if seen[id] {
			return
		}
		e, ok := deps.Index.Entity(id)
		if !ok || e.Deleted() {
			return
		}
		switch e.EntityType {
		case graph.EntityTypeProcedure, graph.EntityTypeManual, graph.EntityTypeNote:
			seen[id] = true
			docs = append(docs, e)
		}
	}
	for _, edge := range deps.Index.EdgesTo(device.ID) {
		if edge.RelationshipType == graph.RelProcedureFor {
			add(edge.FromEntityID)
		}
	}
	for _, edge := range deps.Index.EdgesFrom(device.ID) {
		if edge.RelationshipType == graph.RelDocumentedBy {
			add(edge.ToEntityID)
		}
	}
	return map[string]any{
		"device":     device,
		"procedures": docs,
		"count":      len(docs),
	}, nil
}

// automationRels are the edge types through which an automation acts on
// something
var automationRels = map[graph.RelationshipType]bool{
	graph.RelControls:  true,
	graph.RelAutomates: true,
	graph.RelMonitors:  true,
	graph.RelManages:   true,
}

func handleGetAutomationsInRoom(ctx context.Context, deps *Deps, args json.RawMessage) (any, error) {
	var p struct {
		RoomID   string `json:"room_id"`
		RoomName string `json:"room_name"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return nil, err
	}
	room, err := resolveEntity(deps.Index, p.RoomID, p.RoomName, graph.EntityTypeRoom)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var automations []*graph.Entity
	collect := func(targetID string) {
		for _, edge := range deps.Index.EdgesTo(targetID) {
			if !automationRels[edge.RelationshipType] {
				continue
			}
			a, ok := deps.Index.Entity(edge.FromEntityID)
			if !ok || a.Deleted() || a.EntityType != graph.EntityTypeAutomation || seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			automations = append(automations, a)
		}
	}
	collect(room.ID)
	for _, d := range devicesInRoom(deps.Index, room.ID) {
		collect(d.ID)
	}
	return map[string]any{
		"room":        room,
		"automations": automations,
		"count":       len(automations),
	}, nil
}
