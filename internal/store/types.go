// Package store is the persistence layer: an abstract Backend contract
// with two implementations, an embedded store (bleve keyword index,
// HNSW vector graph, SQLite document table) and PostgreSQL+pgvector.
package store

import (
	"context"
	"fmt"
)

// SourceType classifies the origin of a document.
type SourceType string

const (
	SourceTypeDoc  SourceType = "doc"
	SourceTypeCode SourceType = "code"
	SourceTypeTest SourceType = "test"
)

// SymbolKind classifies the code symbol a chunk centers on.
type SymbolKind string

const (
	SymbolKindModule   SymbolKind = "module"
	SymbolKindClass    SymbolKind = "class"
	SymbolKindFunction SymbolKind = "function"
	SymbolKindMethod   SymbolKind = "method"
)

// Document is the atomic indexable unit. The embedding is owned by and
// stored alongside the document.
type Document struct {
	// ChunkID is stable and content-addressed; upserts replace on it.
	ChunkID string `json:"chunk_id"`

	// Text is the chunk content.
	Text string `json:"text"`

	// SourcePath is the file the chunk came from, relative to the
	// indexed folder.
	SourcePath string `json:"source_path"`

	// SourceType is doc, code, or test.
	SourceType SourceType `json:"source_type"`

	// Language is the code language tag; empty for prose.
	Language string `json:"language,omitempty"`

	// SymbolName and SymbolKind describe the centered symbol (code).
	SymbolName string     `json:"symbol_name,omitempty"`
	SymbolKind SymbolKind `json:"symbol_kind,omitempty"`

	// StartLine and EndLine are 1-indexed, inclusive (code).
	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`

	// HeadingPath is the ancestor heading chain (prose).
	HeadingPath []string `json:"heading_path,omitempty"`

	// ChunkIndex and TotalChunks locate the chunk within its file.
	ChunkIndex  int `json:"chunk_index"`
	TotalChunks int `json:"total_chunks"`

	// Metadata is an opaque short-key mapping carried through storage.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Summary is an optional natural-language description.
	Summary string `json:"summary,omitempty"`

	// Embedding is the dense vector for the chunk.
	Embedding []float32 `json:"-"`
}

// SearchResult is one ranked hit from any retrieval mode.
type SearchResult struct {
	ChunkID  string
	Score    float64
	Document *Document
}

// Filters restricts retrieval to matching documents. Zero value means
// no restriction.
type Filters struct {
	// SourceTypes keeps only documents with one of these source types.
	SourceTypes []SourceType

	// Languages keeps only documents with one of these language tags.
	Languages []string
}

// Empty reports whether the filters restrict nothing.
func (f Filters) Empty() bool {
	return len(f.SourceTypes) == 0 && len(f.Languages) == 0
}

// Match evaluates the filters against a document; used by backends
// that cannot push the predicate down.
func (f Filters) Match(doc *Document) bool {
	if doc == nil {
		return false
	}
	if len(f.SourceTypes) > 0 {
		ok := false
		for _, st := range f.SourceTypes {
			if doc.SourceType == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Languages) > 0 {
		ok := false
		for _, lang := range f.Languages {
			if doc.Language == lang {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Counts summarizes the corpus size for the status surface.
type Counts struct {
	Total        int            `json:"total"`
	BySourceType map[string]int `json:"by_source_type"`
}

// PoolStatus reports connection pool health. The embedded backend
// reports a synthetic single-connection pool so the surface is uniform.
type PoolStatus struct {
	Status     string `json:"status"`
	PoolSize   int    `json:"pool_size"`
	CheckedIn  int    `json:"checked_in"`
	CheckedOut int    `json:"checked_out"`
	Overflow   int    `json:"overflow"`
	Total      int    `json:"total"`
}

// Backend is the storage contract shared by the embedded and
// PostgreSQL implementations. All mutating operations are
// all-or-nothing at the document level.
type Backend interface {
	// Initialize prepares the schema; idempotent.
	Initialize(ctx context.Context) error

	// UpsertDocuments writes documents with embeddings, replacing any
	// prior document with the same chunk_id. The first write fixes the
	// embedding dimension; later writes with a different dimension
	// fail without modifying stored data.
	UpsertDocuments(ctx context.Context, docs []*Document) error

	// Count returns corpus totals.
	Count(ctx context.Context) (Counts, error)

	// VectorSearch returns the k nearest documents by cosine
	// similarity, scores mapped to [0,1], descending with chunk_id
	// tie-break.
	VectorSearch(ctx context.Context, query []float32, k int, filters Filters) ([]SearchResult, error)

	// KeywordSearch returns the k best BM25 matches, unnormalized
	// scores descending with chunk_id tie-break. A query of only
	// stop-words returns an empty list.
	KeywordSearch(ctx context.Context, query string, k int, filters Filters) ([]SearchResult, error)

	// HybridSearch fuses vector and keyword rankings with RRF; alpha
	// is the vector weight, 1-alpha the keyword weight.
	HybridSearch(ctx context.Context, query []float32, text string, k int, alpha float64, filters Filters) ([]SearchResult, error)

	// Documents fetches stored documents by chunk_id. Missing ids are
	// simply absent from the returned map.
	Documents(ctx context.Context, ids []string) (map[string]*Document, error)

	// Dimension returns the recorded embedding dimension, 0 before the
	// first write.
	Dimension(ctx context.Context) (int, error)

	// Reset removes all documents and clears the dimension metadata.
	Reset(ctx context.Context) error

	// PoolStatus reports connection pool health.
	PoolStatus(ctx context.Context) (PoolStatus, error)

	// Close releases all resources.
	Close() error
}

// BM25 parameters used by the embedded keyword index.
const (
	BM25K1 = 1.5
	BM25B  = 0.75
)

// ErrDimensionMismatch indicates an embedding whose dimension differs
// from the one recorded at first write.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: index expects %d, got %d", e.Expected, e.Got)
}
