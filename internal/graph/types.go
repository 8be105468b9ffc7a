// Package graph maintains the entity-relationship index: typed
// entities, provenance-carrying triples, two interchangeable stores,
// and the extractors and traversal that feed graph retrieval.
package graph

import "strings"

// Predicate vocabulary. Extraction output outside this set is dropped.
const (
	PredicateImports    = "imports"
	PredicateContains   = "contains"
	PredicateExtends    = "extends"
	PredicateCalls      = "calls"
	PredicateUses       = "uses"
	PredicateReferences = "references"
	PredicateDefinedIn  = "defined_in"
)

// Predicates is the closed vocabulary.
var Predicates = map[string]bool{
	PredicateImports:    true,
	PredicateContains:   true,
	PredicateExtends:    true,
	PredicateCalls:      true,
	PredicateUses:       true,
	PredicateReferences: true,
	PredicateDefinedIn:  true,
}

// Entity types. file and method extend the base vocabulary so code
// provenance and class membership keep their own node kinds.
const (
	EntityFile     = "file"
	EntityModule   = "module"
	EntityClass    = "class"
	EntityFunction = "function"
	EntityMethod   = "method"
	EntityVariable = "variable"
	EntityConcept  = "concept"
)

// EntityTypes is the closed vocabulary of node kinds.
var EntityTypes = map[string]bool{
	EntityFile:     true,
	EntityModule:   true,
	EntityClass:    true,
	EntityFunction: true,
	EntityMethod:   true,
	EntityVariable: true,
	EntityConcept:  true,
}

// Entity is a named node in the graph. The ID is derived from type and
// normalized name, so the same thing mentioned twice collapses into
// one node.
type Entity struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Triple is a directed labeled edge with provenance to the chunk it
// was extracted from.
type Triple struct {
	Subject       string `json:"subject"`
	Predicate     string `json:"predicate"`
	Object        string `json:"object"`
	SourceChunkID string `json:"source_chunk_id"`
}

// Key identifies a triple for dedup: the same fact from the same chunk
// is stored once.
func (t Triple) Key() string {
	return t.Subject + "|" + t.Predicate + "|" + t.Object + "|" + t.SourceChunkID
}

// Assertion is an extracted fact before it is bound to a source chunk
// and stored.
type Assertion struct {
	Subject   Entity
	Predicate string
	Object    Entity
}

// NormalizeName lowercases and collapses internal whitespace so entity
// identity survives formatting differences.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// EntityID builds the canonical id for a typed name.
func EntityID(entityType, name string) string {
	return entityType + ":" + NormalizeName(name)
}

// NewEntity creates an entity with its canonical id.
func NewEntity(entityType, name string) Entity {
	return Entity{ID: EntityID(entityType, name), Type: entityType, Name: name}
}
