package graph

import (
	"sort"
	"sync"
)

// memoryGraph is the adjacency-list core shared by both stores. All
// traversal runs against it; the stores differ only in persistence.
type memoryGraph struct {
	mu        sync.RWMutex
	entities  map[string]Entity
	triples   map[string]Triple
	adjacency map[string][]string // entity id -> incident triple keys
}

func newMemoryGraph() *memoryGraph {
	return &memoryGraph{
		entities:  map[string]Entity{},
		triples:   map[string]Triple{},
		adjacency: map[string][]string{},
	}
}

func (g *memoryGraph) addTriple(subject Entity, predicate string, object Entity, sourceChunkID string) {
	triple := Triple{
		Subject:       subject.ID,
		Predicate:     predicate,
		Object:        object.ID,
		SourceChunkID: sourceChunkID,
	}
	key := triple.Key()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.entities[subject.ID] = subject
	g.entities[object.ID] = object
	if _, exists := g.triples[key]; exists {
		return
	}
	g.triples[key] = triple
	g.adjacency[subject.ID] = append(g.adjacency[subject.ID], key)
	if object.ID != subject.ID {
		g.adjacency[object.ID] = append(g.adjacency[object.ID], key)
	}
}

func (g *memoryGraph) allEntities() []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entities := make([]Entity, 0, len(g.entities))
	for _, e := range g.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}

func (g *memoryGraph) allTriples() []Triple {
	g.mu.RLock()
	defer g.mu.RUnlock()
	triples := make([]Triple, 0, len(g.triples))
	for _, t := range g.triples {
		triples = append(triples, t)
	}
	sort.Slice(triples, func(i, j int) bool { return triples[i].Key() < triples[j].Key() })
	return triples
}

func (g *memoryGraph) neighbors(entityID string, depth int) []Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{entityID: true}
	frontier := []string{entityID}
	var result []Entity

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			for _, key := range g.sortedIncident(id) {
				other := g.otherEndpoint(g.triples[key], id)
				if visited[other] {
					continue
				}
				visited[other] = true
				result = append(result, g.entities[other])
				next = append(next, other)
			}
		}
		frontier = next
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (g *memoryGraph) subgraph(seedIDs []string, depth int) []TraversalTriple {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visitedEntities := map[string]bool{}
	visitedTriples := map[string]bool{}
	var frontier []string
	for _, id := range seedIDs {
		if _, ok := g.entities[id]; ok && !visitedEntities[id] {
			visitedEntities[id] = true
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	var result []TraversalTriple
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			for _, key := range g.sortedIncident(id) {
				if visitedTriples[key] {
					continue
				}
				visitedTriples[key] = true
				triple := g.triples[key]
				result = append(result, TraversalTriple{Triple: triple, Depth: level})

				other := g.otherEndpoint(triple, id)
				if !visitedEntities[other] {
					visitedEntities[other] = true
					next = append(next, other)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return result
}

// sortedIncident returns a copy so iteration order is stable without
// mutating shared state. Callers hold at least a read lock.
func (g *memoryGraph) sortedIncident(entityID string) []string {
	keys := g.adjacency[entityID]
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	return sorted
}

func (g *memoryGraph) otherEndpoint(t Triple, from string) string {
	if t.Subject == from {
		return t.Object
	}
	return t.Subject
}

func (g *memoryGraph) counts() (entities, triples int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities), len(g.triples)
}

func (g *memoryGraph) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities = map[string]Entity{}
	g.triples = map[string]Triple{}
	g.adjacency = map[string][]string{}
}

// replace swaps in a freshly loaded graph in one step.
func (g *memoryGraph) replace(entities []Entity, triples []Triple) {
	newEntities := make(map[string]Entity, len(entities))
	for _, e := range entities {
		newEntities[e.ID] = e
	}
	newTriples := make(map[string]Triple, len(triples))
	adjacency := map[string][]string{}
	for _, t := range triples {
		key := t.Key()
		if _, exists := newTriples[key]; exists {
			continue
		}
		newTriples[key] = t
		adjacency[t.Subject] = append(adjacency[t.Subject], key)
		if t.Object != t.Subject {
			adjacency[t.Object] = append(adjacency[t.Object], key)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities = newEntities
	g.triples = newTriples
	g.adjacency = adjacency
}
