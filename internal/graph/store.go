package graph

import (
	"log/slog"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
)

// Stats summarizes a store for status reporting.
type Stats struct {
	Entities  int    `json:"entities"`
	Triples   int    `json:"triples"`
	StoreType string `json:"store_type"`
}

// TraversalTriple is a triple annotated with the BFS depth at which
// traversal reached it. Depth 1 means incident to a seed entity.
type TraversalTriple struct {
	Triple
	Depth int
}

// Store holds the graph. One writer (the ingestion worker) and many
// readers; implementations synchronize internally.
type Store interface {
	// AddTriple records a fact with chunk provenance, creating the
	// endpoint entities as needed. Duplicate facts are idempotent.
	AddTriple(subject Entity, predicate string, object Entity, sourceChunkID string) error

	// Entities lists all entities, sorted by id.
	Entities() []Entity

	// Neighbors returns the entities reachable within depth hops,
	// excluding the start entity, sorted by id.
	Neighbors(entityID string, depth int) []Entity

	// Subgraph walks breadth-first from the seeds and returns every
	// triple crossed, annotated with the depth it was reached at.
	Subgraph(seedIDs []string, depth int) []TraversalTriple

	// Clear drops all entities and triples. Used by rebuild.
	Clear() error

	// Persist writes the graph to disk atomically.
	Persist() error

	// Load replaces in-memory state with the persisted graph. A
	// missing file loads an empty graph.
	Load() error

	Stats() Stats

	Close() error
}

// Open creates the configured store rooted at dir.
func Open(storeType, dir string, logger *slog.Logger) (Store, error) {
	switch storeType {
	case config.GraphStoreSimple, "":
		return NewSimpleStore(dir, logger), nil
	case config.GraphStoreBolt:
		return NewBoltStore(dir, logger)
	default:
		return nil, errors.Config("unknown graph store: " + storeType).
			WithSuggestion("set graph.store to simple or bolt")
	}
}
