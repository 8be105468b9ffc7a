package store

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// Embedded is the in-process Backend: SQLite documents (source of
// record), bleve keyword index, HNSW vector index. The keyword and
// vector artifacts are derived data; on corruption they are cleared
// and rebuilt by reindexing while the document store stays intact.
type Embedded struct {
	docs    *DocumentStore
	keyword *KeywordIndex
	vector  *VectorIndex

	// vectorDir is where the ANN graph persists; empty means
	// in-memory only (tests).
	vectorDir string

	logger *slog.Logger
}

// EmbeddedOptions locates the embedded backend's artifacts. Zero
// value runs fully in memory.
type EmbeddedOptions struct {
	DocumentsDB string
	KeywordDir  string
	VectorDir   string
	Logger      *slog.Logger
}

// NewEmbedded opens the embedded backend.
func NewEmbedded(opts EmbeddedOptions) (*Embedded, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := NewDocumentStore(opts.DocumentsDB)
	if err != nil {
		return nil, err
	}
	keyword, err := NewKeywordIndex(opts.KeywordDir)
	if err != nil {
		_ = docs.Close()
		return nil, errors.BackendUnavailable("failed to open keyword index", err)
	}

	vector := NewVectorIndex()
	if opts.VectorDir != "" {
		if err := vector.Load(opts.VectorDir); err != nil {
			// Derived artifact: clear and continue, reindex restores.
			logger.Warn("vector index unreadable, starting empty",
				"dir", opts.VectorDir, "error", err)
			vector = NewVectorIndex()
		}
	}

	return &Embedded{
		docs:      docs,
		keyword:   keyword,
		vector:    vector,
		vectorDir: opts.VectorDir,
		logger:    logger.With("component", "store.embedded"),
	}, nil
}

// Initialize verifies the schema and cross-checks the recorded
// dimension against the loaded vector index.
func (e *Embedded) Initialize(ctx context.Context) error {
	dim, err := e.docs.Dimension(ctx)
	if err != nil {
		return err
	}
	if vdim := e.vector.Dimensions(); dim != 0 && vdim != 0 && vdim != dim {
		e.logger.Warn("vector index dimension disagrees with document store, clearing",
			"documents", dim, "vectors", vdim)
		e.vector.Reset()
	}
	return nil
}

// UpsertDocuments writes documents to all three indexes. The document
// transaction commits first; keyword and vector writes follow, with
// failures surfaced (derived indexes re-converge on reindex).
func (e *Embedded) UpsertDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := e.docs.Upsert(ctx, docs); err != nil {
		return err
	}
	if err := e.keyword.Index(ctx, docs); err != nil {
		return errors.BackendUnavailable("keyword index write failed", err)
	}

	ids := make([]string, len(docs))
	vectors := make([][]float32, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ChunkID
		vectors[i] = doc.Embedding
	}
	if err := e.vector.Add(ctx, ids, vectors); err != nil {
		if dimErr, ok := err.(ErrDimensionMismatch); ok {
			return errors.DimensionMismatch(dimErr.Expected, dimErr.Got).WithOp("store.upsert")
		}
		return errors.BackendUnavailable("vector index write failed", err)
	}
	if e.vectorDir != "" {
		if err := e.vector.Save(e.vectorDir); err != nil {
			return errors.BackendUnavailable("vector index save failed", err)
		}
	}
	return nil
}

// Count returns corpus totals from the document store.
func (e *Embedded) Count(ctx context.Context) (Counts, error) {
	return e.docs.Counts(ctx)
}

// Dimension returns the recorded embedding dimension.
func (e *Embedded) Dimension(ctx context.Context) (int, error) {
	return e.docs.Dimension(ctx)
}

// Documents fetches stored documents by chunk_id.
func (e *Embedded) Documents(ctx context.Context, ids []string) (map[string]*Document, error) {
	return e.docs.Get(ctx, ids)
}

// VectorSearch runs ANN search, attaches documents, and applies
// filters post-retrieval (the graph has no metadata), over-fetching to
// keep k results available after filtering.
func (e *Embedded) VectorSearch(ctx context.Context, query []float32, k int, filters Filters) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidArgument("top_k must be positive").WithOp("store.vector_search")
	}
	if dim, err := e.docs.Dimension(ctx); err != nil {
		return nil, err
	} else if dim != 0 && len(query) != dim {
		return nil, errors.DimensionMismatch(dim, len(query)).WithOp("store.vector_search")
	}

	fetch := k
	if !filters.Empty() {
		fetch = k * 4
	}
	hits, err := e.vector.Search(ctx, query, fetch)
	if err != nil {
		if dimErr, ok := err.(ErrDimensionMismatch); ok {
			return nil, errors.DimensionMismatch(dimErr.Expected, dimErr.Got).WithOp("store.vector_search")
		}
		return nil, errors.BackendUnavailable("vector search failed", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{ChunkID: h.ChunkID, Score: h.Score})
	}
	results, err = e.attach(ctx, results, filters)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// KeywordSearch runs BM25 search with filters pushed into the index.
func (e *Embedded) KeywordSearch(ctx context.Context, query string, k int, filters Filters) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidArgument("top_k must be positive").WithOp("store.keyword_search")
	}
	hits, err := e.keyword.Search(ctx, query, k, filters)
	if err != nil {
		return nil, errors.BackendUnavailable("keyword search failed", err)
	}
	return e.attach(ctx, hits, Filters{}) // pushed down already
}

// HybridSearch runs vector and keyword retrieval concurrently and
// fuses them with RRF; alpha weights the vector ranking.
func (e *Embedded) HybridSearch(ctx context.Context, query []float32, text string, k int, alpha float64, filters Filters) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidArgument("top_k must be positive").WithOp("store.hybrid_search")
	}

	var vectorResults, keywordResults []SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = e.VectorSearch(gctx, query, overFetch(k), filters)
		return err
	})
	g.Go(func() error {
		var err error
		keywordResults, err = e.KeywordSearch(gctx, text, overFetch(k), filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := FuseRRF([]Ranking{
		{Weight: alpha, Results: vectorResults},
		{Weight: 1 - alpha, Results: keywordResults},
	}, k, RRFConstant)
	return e.attach(ctx, fused, Filters{})
}

// Reset clears all three indexes and the dimension metadata.
func (e *Embedded) Reset(ctx context.Context) error {
	if err := e.docs.Reset(ctx); err != nil {
		return err
	}
	if err := e.keyword.Reset(); err != nil {
		return errors.BackendUnavailable("failed to reset keyword index", err)
	}
	e.vector.Reset()
	if e.vectorDir != "" {
		if err := e.vector.Save(e.vectorDir); err != nil {
			return errors.BackendUnavailable("failed to persist vector reset", err)
		}
	}
	return nil
}

// PoolStatus reports a synthetic single-connection pool so the status
// surface is uniform across backends.
func (e *Embedded) PoolStatus(ctx context.Context) (PoolStatus, error) {
	return PoolStatus{
		Status:     "ok",
		PoolSize:   1,
		CheckedIn:  1,
		CheckedOut: 0,
		Overflow:   0,
		Total:      1,
	}, nil
}

// Close releases all resources.
func (e *Embedded) Close() error {
	var firstErr error
	if err := e.keyword.Close(); err != nil {
		firstErr = err
	}
	if err := e.vector.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.docs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// attach loads documents for results, dropping hits whose document no
// longer exists and any filtered out, preserving order.
func (e *Embedded) attach(ctx context.Context, results []SearchResult, filters Filters) ([]SearchResult, error) {
	if len(results) == 0 {
		return []SearchResult{}, nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	docs, err := e.docs.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		doc, ok := docs[r.ChunkID]
		if !ok {
			continue
		}
		if !filters.Empty() && !filters.Match(doc) {
			continue
		}
		r.Document = doc
		out = append(out, r)
	}
	return out, nil
}

var _ Backend = (*Embedded)(nil)
