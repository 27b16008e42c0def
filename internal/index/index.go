// Package index holds the in-memory traversal and search structures over
// the latest-version graph. The index is a cached projection of the store:
// it is refreshed after L1 commits and can always be rebuilt from scratch.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/inbetweenies/homegraph/internal/graph"
	"github.com/inbetweenies/homegraph/internal/store"
	"github.com/rs/zerolog/log"
)

// Direction selects which edges a traversal follows
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// ParseDirection validates a wire string, defaulting empty to both
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return Direction(s), nil
	case "":
		return DirectionBoth, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", graph.ErrInvalidInput, s)
}

type edgeRef struct {
	rel      *graph.Relationship
	neighbor string
}

// node keeps adjacency in insertion order so BFS tie-breaking stays
// deterministic
type node struct {
	outgoing []edgeRef
	incoming []edgeRef
}

// Index is the process-wide graph index. Constructed explicitly and passed
// by dependency injection; all methods are safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	entities map[string]*graph.Entity
	nodes    map[string]*node
	bySource map[string][]*graph.Relationship
	byTarget map[string][]*graph.Relationship
	byRelTyp map[graph.RelationshipType][]*graph.Relationship
	byEntTyp map[graph.EntityType]map[string]bool
	byName   map[string]map[string]bool // lowercased name -> ids
}

// New creates an empty index
func New() *Index {
	return &Index{
		entities: make(map[string]*graph.Entity),
		nodes:    make(map[string]*node),
		bySource: make(map[string][]*graph.Relationship),
		byTarget: make(map[string][]*graph.Relationship),
		byRelTyp: make(map[graph.RelationshipType][]*graph.Relationship),
		byEntTyp: make(map[graph.EntityType]map[string]bool),
		byName:   make(map[string]map[string]bool),
	}
}

// Load rebuilds the index from the latest-version graph in the store
func (ix *Index) Load(ctx context.Context, st store.Store) error {
	entities, err := st.ListEntities(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}
	rels, err := st.GetRelationships(ctx, store.RelationshipQuery{})
	if err != nil {
		return fmt.Errorf("loading relationships: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.resetLocked()
	for _, e := range entities {
		ix.upsertEntityLocked(e)
	}
	for _, r := range rels {
		ix.insertRelationshipLocked(r)
	}

	log.Debug().Int("entities", len(entities)).Int("relationships", len(rels)).Msg("graph index loaded")
	return nil
}

func (ix *Index) resetLocked() {
	ix.entities = make(map[string]*graph.Entity)
	ix.nodes = make(map[string]*node)
	ix.bySource = make(map[string][]*graph.Relationship)
	ix.byTarget = make(map[string][]*graph.Relationship)
	ix.byRelTyp = make(map[graph.RelationshipType][]*graph.Relationship)
	ix.byEntTyp = make(map[graph.EntityType]map[string]bool)
	ix.byName = make(map[string]map[string]bool)
}

// UpsertEntity records a new latest version. Edges pinned to the superseded
// version are dropped so traversal only sees the latest-only graph.
func (ix *Index) UpsertEntity(e *graph.Entity) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.upsertEntityLocked(e)
}

func (ix *Index) upsertEntityLocked(e *graph.Entity) {
	if prev, ok := ix.entities[e.ID]; ok {
		delete(ix.byEntTyp[prev.EntityType], e.ID)
		ix.unindexNameLocked(prev)
		if prev.Version != e.Version {
			ix.dropStaleEdgesLocked(e.ID, e.Version)
		}
	}

	c := *e
	ix.entities[e.ID] = &c
	if _, ok := ix.nodes[e.ID]; !ok {
		ix.nodes[e.ID] = &node{}
	}
	if ix.byEntTyp[e.EntityType] == nil {
		ix.byEntTyp[e.EntityType] = make(map[string]bool)
	}
	ix.byEntTyp[e.EntityType][e.ID] = true

	key := strings.ToLower(e.Name)
	if ix.byName[key] == nil {
		ix.byName[key] = make(map[string]bool)
	}
	ix.byName[key][e.ID] = true
}

func (ix *Index) unindexNameLocked(e *graph.Entity) {
	key := strings.ToLower(e.Name)
	if ids, ok := ix.byName[key]; ok {
		delete(ids, e.ID)
		if len(ids) == 0 {
			delete(ix.byName, key)
		}
	}
}

// dropStaleEdgesLocked removes edges touching id whose pinned version no
// longer equals the current latest
func (ix *Index) dropStaleEdgesLocked(id, version string) {
	stale := func(r *graph.Relationship) bool {
		if r.FromEntityID == id && r.FromEntityVersion != version {
			return true
		}
		if r.ToEntityID == id && r.ToEntityVersion != version {
			return true
		}
		return false
	}

	keepEdges := func(refs []edgeRef) []edgeRef {
		out := refs[:0]
		for _, ref := range refs {
			if !stale(ref.rel) {
				out = append(out, ref)
			}
		}
		return out
	}
	for _, n := range ix.nodes {
		n.outgoing = keepEdges(n.outgoing)
		n.incoming = keepEdges(n.incoming)
	}

	keepRels := func(rels []*graph.Relationship) []*graph.Relationship {
		out := rels[:0]
		for _, r := range rels {
			if !stale(r) {
				out = append(out, r)
			}
		}
		return out
	}
	for k := range ix.bySource {
		ix.bySource[k] = keepRels(ix.bySource[k])
	}
	for k := range ix.byTarget {
		ix.byTarget[k] = keepRels(ix.byTarget[k])
	}
	for k := range ix.byRelTyp {
		ix.byRelTyp[k] = keepRels(ix.byRelTyp[k])
	}
}

// InsertRelationship adds an edge between currently indexed entities.
// Edges pinned to non-latest versions are ignored.
func (ix *Index) InsertRelationship(r *graph.Relationship) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.insertRelationshipLocked(r)
}

func (ix *Index) insertRelationshipLocked(r *graph.Relationship) {
	from, okF := ix.entities[r.FromEntityID]
	to, okT := ix.entities[r.ToEntityID]
	if !okF || !okT || from.Version != r.FromEntityVersion || to.Version != r.ToEntityVersion {
		return
	}

	c := *r
	ix.nodes[r.FromEntityID].outgoing = append(ix.nodes[r.FromEntityID].outgoing, edgeRef{rel: &c, neighbor: r.ToEntityID})
	ix.nodes[r.ToEntityID].incoming = append(ix.nodes[r.ToEntityID].incoming, edgeRef{rel: &c, neighbor: r.FromEntityID})
	ix.bySource[r.FromEntityID] = append(ix.bySource[r.FromEntityID], &c)
	ix.byTarget[r.ToEntityID] = append(ix.byTarget[r.ToEntityID], &c)
	ix.byRelTyp[r.RelationshipType] = append(ix.byRelTyp[r.RelationshipType], &c)
}

// RemoveEntity drops an entity and every edge touching it
func (ix *Index) RemoveEntity(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entities[id]
	if !ok {
		return
	}
	delete(ix.byEntTyp[e.EntityType], id)
	ix.unindexNameLocked(e)
	delete(ix.entities, id)
	delete(ix.nodes, id)

	touches := func(r *graph.Relationship) bool {
		return r.FromEntityID == id || r.ToEntityID == id
	}
	for _, n := range ix.nodes {
		out := n.outgoing[:0]
		for _, ref := range n.outgoing {
			if !touches(ref.rel) {
				out = append(out, ref)
			}
		}
		n.outgoing = out
		in := n.incoming[:0]
		for _, ref := range n.incoming {
			if !touches(ref.rel) {
				in = append(in, ref)
			}
		}
		n.incoming = in
	}
	for k := range ix.bySource {
		keep := ix.bySource[k][:0]
		for _, r := range ix.bySource[k] {
			if !touches(r) {
				keep = append(keep, r)
			}
		}
		ix.bySource[k] = keep
	}
	for k := range ix.byTarget {
		keep := ix.byTarget[k][:0]
		for _, r := range ix.byTarget[k] {
			if !touches(r) {
				keep = append(keep, r)
			}
		}
		ix.byTarget[k] = keep
	}
	for k := range ix.byRelTyp {
		keep := ix.byRelTyp[k][:0]
		for _, r := range ix.byRelTyp[k] {
			if !touches(r) {
				keep = append(keep, r)
			}
		}
		ix.byRelTyp[k] = keep
	}
	delete(ix.bySource, id)
	delete(ix.byTarget, id)
}

// Entity returns the indexed latest version of an entity
func (ix *Index) Entity(id string) (*graph.Entity, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.entities[id]
	if !ok {
		return nil, false
	}
	c := *e
	return &c, true
}

// AllEntities returns every indexed latest version, sorted by id
func (ix *Index) AllEntities() []*graph.Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]*graph.Entity, 0, len(ix.entities))
	for _, e := range ix.entities {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgesFrom returns the outgoing edges of an entity in insertion order
func (ix *Index) EdgesFrom(id string) []*graph.Relationship {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]*graph.Relationship(nil), ix.bySource[id]...)
}

// EdgesTo returns the incoming edges of an entity in insertion order
func (ix *Index) EdgesTo(id string) []*graph.Relationship {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]*graph.Relationship(nil), ix.byTarget[id]...)
}

// EntitiesByType returns indexed ids of a type, sorted for determinism
func (ix *Index) EntitiesByType(t graph.EntityType) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.byEntTyp[t]))
	for id := range ix.byEntTyp[t] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FindPath runs breadth-first search over outgoing edges and returns the
// first path found as an ordered id list, or nil when no path exists within
// maxDepth. Siblings are visited in edge insertion order.
func (ix *Index) FindPath(fromID, toID string, maxDepth int) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if _, ok := ix.entities[fromID]; !ok {
		return nil
	}
	if _, ok := ix.entities[toID]; !ok {
		return nil
	}
	if fromID == toID {
		return []string{fromID}
	}

	type step struct {
		id    string
		depth int
	}
	prev := map[string]string{fromID: ""}
	queue := []step{{fromID, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		n, ok := ix.nodes[cur.id]
		if !ok {
			continue
		}
		for _, ref := range n.outgoing {
			if _, seen := prev[ref.neighbor]; seen {
				continue
			}
			prev[ref.neighbor] = cur.id
			if ref.neighbor == toID {
				return rebuildPath(prev, fromID, toID)
			}
			queue = append(queue, step{ref.neighbor, cur.depth + 1})
		}
	}
	return nil
}

func rebuildPath(prev map[string]string, from, to string) []string {
	var path []string
	for id := to; id != ""; id = prev[id] {
		path = append(path, id)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	if len(path) == 0 || path[0] != from {
		return nil
	}
	return path
}

// Connection is one entity reached by a traversal, annotated with the edge
// it was first reached through
type Connection struct {
	Entity    *graph.Entity       `json:"entity"`
	Via       *graph.Relationship `json:"via"`
	Direction Direction           `json:"direction"`
	Distance  int                 `json:"distance"`
}

// ConnectedEntities yields each distinct entity reachable from id at its
// shortest observed distance
func (ix *Index) ConnectedEntities(id string, typeFilter graph.EntityType, dir Direction, maxDepth int) []Connection {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if _, ok := ix.entities[id]; !ok {
		return nil
	}

	type step struct {
		id    string
		depth int
	}
	visited := map[string]bool{id: true}
	queue := []step{{id, 0}}
	var out []Connection

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		n, ok := ix.nodes[cur.id]
		if !ok {
			continue
		}

		visit := func(ref edgeRef, d Direction) {
			if visited[ref.neighbor] {
				return
			}
			visited[ref.neighbor] = true
			e, ok := ix.entities[ref.neighbor]
			if !ok {
				return
			}
			if typeFilter == "" || e.EntityType == typeFilter {
				c := *e
				rel := *ref.rel
				out = append(out, Connection{Entity: &c, Via: &rel, Direction: d, Distance: cur.depth + 1})
			}
			queue = append(queue, step{ref.neighbor, cur.depth + 1})
		}

		if dir == DirectionOutgoing || dir == DirectionBoth {
			for _, ref := range n.outgoing {
				visit(ref, DirectionOutgoing)
			}
		}
		if dir == DirectionIncoming || dir == DirectionBoth {
			for _, ref := range n.incoming {
				visit(ref, DirectionIncoming)
			}
		}
	}
	return out
}

// FindEntitiesByName matches indexed names. Exact mode requires whole-name
// equality after lowercasing; fuzzy mode matches any name containing the
// lowercased query.
func (ix *Index) FindEntitiesByName(name string, fuzzy bool) []*graph.Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	needle := strings.ToLower(name)
	var ids []string
	if fuzzy {
		for key, set := range ix.byName {
			if strings.Contains(key, needle) {
				for id := range set {
					ids = append(ids, id)
				}
			}
		}
	} else {
		for id := range ix.byName[needle] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]*graph.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := ix.entities[id]; ok {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}

// Subgraph returns the induced subgraph over ids
func (ix *Index) Subgraph(ids []string, includeRelationships bool) ([]*graph.Entity, []*graph.Relationship) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	wanted := make(map[string]bool, len(ids))
	entities := make([]*graph.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := ix.entities[id]; ok {
			wanted[id] = true
			c := *e
			entities = append(entities, &c)
		}
	}

	if !includeRelationships {
		return entities, nil
	}

	var rels []*graph.Relationship
	seen := make(map[string]bool)
	for id := range wanted {
		for _, r := range ix.bySource[id] {
			if wanted[r.ToEntityID] && !seen[r.ID] {
				seen[r.ID] = true
				c := *r
				rels = append(rels, &c)
			}
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	return entities, rels
}

// Centrality reports degree counts for an entity
type Centrality struct {
	InDegree  int `json:"in_degree"`
	OutDegree int `json:"out_degree"`
	Degree    int `json:"degree"`
}

// CalculateCentrality returns degree counts for an entity
func (ix *Index) CalculateCentrality(id string) (Centrality, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n, ok := ix.nodes[id]
	if !ok {
		return Centrality{}, false
	}
	c := Centrality{InDegree: len(n.incoming), OutDegree: len(n.outgoing)}
	c.Degree = c.InDegree + c.OutDegree
	return c, true
}

// FindCycles returns all simple cycles through startID up to maxLength,
// found by depth-limited DFS over outgoing edges
func (ix *Index) FindCycles(startID string, maxLength int) [][]string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if _, ok := ix.entities[startID]; !ok {
		return nil
	}

	var cycles [][]string
	onPath := map[string]bool{}
	var path []string

	var dfs func(id string, depth int)
	dfs = func(id string, depth int) {
		path = append(path, id)
		onPath[id] = true
		defer func() {
			path = path[:len(path)-1]
			delete(onPath, id)
		}()

		n, ok := ix.nodes[id]
		if !ok {
			return
		}
		for _, ref := range n.outgoing {
			if ref.neighbor == startID {
				cycle := make([]string, len(path), len(path)+1)
				copy(cycle, path)
				cycle = append(cycle, startID)
				cycles = append(cycles, cycle)
				continue
			}
			if onPath[ref.neighbor] || depth+1 > maxLength {
				continue
			}
			dfs(ref.neighbor, depth+1)
		}
	}
	dfs(startID, 1)
	return cycles
}

// Stats summarizes the indexed graph
type Stats struct {
	TotalEntities      int                            `json:"total_entities"`
	TotalRelationships int                            `json:"total_relationships"`
	EntitiesByType     map[graph.EntityType]int       `json:"entities_by_type"`
	RelationshipsByType map[graph.RelationshipType]int `json:"relationships_by_type"`
	AverageDegree      float64                        `json:"average_degree"`
	IsolatedEntities   int                            `json:"isolated_entities"`
}

// Statistics computes counts and degree aggregates over the indexed graph
func (ix *Index) Statistics() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st := Stats{
		TotalEntities:       len(ix.entities),
		EntitiesByType:      make(map[graph.EntityType]int),
		RelationshipsByType: make(map[graph.RelationshipType]int),
	}
	for t, set := range ix.byEntTyp {
		if len(set) > 0 {
			st.EntitiesByType[t] = len(set)
		}
	}
	for t, rels := range ix.byRelTyp {
		if len(rels) > 0 {
			st.RelationshipsByType[t] = len(rels)
			st.TotalRelationships += len(rels)
		}
	}

	totalDegree := 0
	for _, n := range ix.nodes {
		d := len(n.incoming) + len(n.outgoing)
		totalDegree += d
		if d == 0 {
			st.IsolatedEntities++
		}
	}
	if len(ix.entities) > 0 {
		st.AverageDegree = float64(totalDegree) / float64(len(ix.entities))
	}
	return st
}

// Snapshot returns a deterministic rendering of the adjacency structure,
// used to check rebuild-equals-incremental equivalence
func (ix *Index) Snapshot() map[string][]string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make(map[string][]string, len(ix.nodes))
	for id, n := range ix.nodes {
		edges := make([]string, 0, len(n.outgoing))
		for _, ref := range n.outgoing {
			edges = append(edges, string(ref.rel.RelationshipType)+"->"+ref.neighbor)
		}
		out[id] = edges
	}
	return out
}
