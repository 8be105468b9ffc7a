// Package search answers retrieval queries across five modes: pure
// vector similarity, BM25 keyword ranking, their RRF fusion, graph
// traversal, and a tri-modal fusion of all three.
package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/provider"
	"github.com/agentbrain/agentbrain/internal/store"
	"github.com/agentbrain/agentbrain/internal/telemetry"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeBM25   Mode = "bm25"
	ModeHybrid Mode = "hybrid"
	ModeGraph  Mode = "graph"
	ModeMulti  Mode = "multi"
)

// ParseMode validates a mode string; empty defaults to hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeVector, ModeBM25, ModeHybrid, ModeGraph, ModeMulti:
		return Mode(s), nil
	default:
		return "", errors.InvalidArgument("unknown search mode: " + s).
			WithSuggestion("use vector, bm25, hybrid, graph, or multi")
	}
}

// Weights distributes RRF rank contributions in multi mode.
type Weights struct {
	Vector  float64
	Keyword float64
	Graph   float64
}

// Options tunes a single query. Zero values fall back to the
// configured defaults.
type Options struct {
	Mode Mode

	// TopK caps the result count; <= 0 uses the configured default.
	TopK int

	// Threshold drops vector-ranked results scoring below it in
	// vector and hybrid modes. Nil uses the configured default.
	Threshold *float64

	// Alpha is the hybrid vector weight. Nil uses the default.
	Alpha *float64

	// Weights reassigns the multi-mode ranking weights.
	Weights *Weights

	SourceTypes []store.SourceType
	Languages   []string

	// TraversalDepth bounds graph walks; <= 0 uses the default.
	TraversalDepth int
}

// ModeScores carries per-ranking contributions for one result.
type ModeScores struct {
	Vector  float64 `json:"vector,omitempty"`
	Keyword float64 `json:"keyword,omitempty"`
	Graph   float64 `json:"graph,omitempty"`
}

// Result is one ranked answer.
type Result struct {
	ChunkID    string         `json:"chunk_id"`
	Text       string         `json:"text"`
	Source     string         `json:"source"`
	SourceType string         `json:"source_type"`
	Language   string         `json:"language,omitempty"`
	Score      float64        `json:"score"`
	Scores     ModeScores     `json:"scores"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	Document *store.Document `json:"-"`
}

// Engine orchestrates retrieval over the backend, the embedding
// provider, and the optional graph store.
type Engine struct {
	cfg      *config.Config
	backend  store.Backend
	provider provider.Provider
	graph    graph.Store
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewEngine(cfg *config.Config, backend store.Backend, p provider.Provider, g graph.Store, metrics *telemetry.Metrics, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.InvalidArgument("config is required")
	}
	if backend == nil {
		return nil, errors.InvalidArgument("backend is required")
	}
	if p == nil {
		return nil, errors.InvalidArgument("provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		backend:  backend,
		provider: p,
		graph:    g,
		metrics:  metrics,
		logger:   logger.With("component", "search"),
	}, nil
}

// Search runs one query. Results are ordered by score descending with
// chunk_id breaking ties, so identical queries return identical lists.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.InvalidArgument("query must not be empty")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	opts = e.applyDefaults(opts)

	var (
		results []Result
		err     error
	)
	switch mode {
	case ModeVector:
		results, err = e.vectorSearch(ctx, query, opts)
	case ModeBM25:
		results, err = e.keywordSearch(ctx, query, opts)
	case ModeHybrid:
		results, err = e.hybridSearch(ctx, query, opts)
	case ModeGraph:
		results, err = e.graphSearch(ctx, query, opts)
	case ModeMulti:
		results, err = e.multiSearch(ctx, query, opts)
	default:
		return nil, errors.InvalidArgument("unknown search mode: " + string(mode))
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	e.metrics.ObserveQuery(string(mode), len(results), elapsed)
	e.logger.Info("query served",
		"mode", mode, "results", len(results), "top_k", opts.TopK,
		"elapsed_ms", elapsed.Milliseconds())
	return results, nil
}

func (e *Engine) applyDefaults(opts Options) Options {
	if opts.TopK <= 0 {
		opts.TopK = e.cfg.Search.TopK
	}
	if opts.Threshold == nil {
		t := e.cfg.Search.Threshold
		opts.Threshold = &t
	}
	if opts.Alpha == nil {
		a := e.cfg.Search.Alpha
		opts.Alpha = &a
	}
	if opts.Weights == nil {
		opts.Weights = &Weights{
			Vector:  e.cfg.Search.VectorWeight,
			Keyword: e.cfg.Search.KeywordWeight,
			Graph:   e.cfg.Search.GraphWeight,
		}
	}
	if opts.TraversalDepth <= 0 {
		opts.TraversalDepth = e.cfg.Graph.TraversalDepth
	}
	return opts
}

func (e *Engine) filters(opts Options) store.Filters {
	return store.Filters{SourceTypes: opts.SourceTypes, Languages: opts.Languages}
}

// embedQuery embeds the query text through the provider.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// vectorRanking returns the threshold-filtered vector ranking.
func (e *Engine) vectorRanking(ctx context.Context, query string, k int, threshold float64, opts Options) ([]store.SearchResult, error) {
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.backend.VectorSearch(ctx, vec, k, e.filters(opts))
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return hits, nil
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= threshold {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

func (e *Engine) vectorSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	hits, err := e.vectorRanking(ctx, query, opts.TopK, *opts.Threshold, opts)
	if err != nil {
		return nil, err
	}
	return toResults(hits, func(r *Result, s store.SearchResult) {
		r.Scores.Vector = s.Score
	}), nil
}

func (e *Engine) keywordSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	hits, err := e.backend.KeywordSearch(ctx, query, opts.TopK, e.filters(opts))
	if err != nil {
		return nil, err
	}
	return toResults(hits, func(r *Result, s store.SearchResult) {
		r.Scores.Keyword = s.Score
	}), nil
}

// hybridSearch fuses the vector and keyword rankings with RRF. The
// fusion runs here rather than through the backend so the similarity
// threshold can prune the vector leg before ranks are assigned.
func (e *Engine) hybridSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	var vectorHits, keywordHits []store.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorHits, err = e.vectorRanking(gctx, query, fetchSize(opts.TopK), *opts.Threshold, opts)
		return err
	})
	g.Go(func() error {
		var err error
		keywordHits, err = e.backend.KeywordSearch(gctx, query, fetchSize(opts.TopK), e.filters(opts))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := store.FuseRRF([]store.Ranking{
		{Weight: *opts.Alpha, Results: vectorHits},
		{Weight: 1 - *opts.Alpha, Results: keywordHits},
	}, opts.TopK, e.cfg.Search.RRFConstant)

	vectorScores := scoreIndex(vectorHits)
	keywordScores := scoreIndex(keywordHits)
	return toResults(fused, func(r *Result, s store.SearchResult) {
		r.Scores.Vector = vectorScores[s.ChunkID]
		r.Scores.Keyword = keywordScores[s.ChunkID]
	}), nil
}

// graphSearch seeds entities from the query, walks the graph, and
// returns the provenance chunks ranked by traversal score.
func (e *Engine) graphSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	hits, err := e.graphRanking(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return toResults(hits, func(r *Result, s store.SearchResult) {
		r.Scores.Graph = s.Score
	}), nil
}

// graphRanking runs the traversal twice: a first pass collects the
// candidate chunks, a batched existence check marks orphans, and the
// second pass scores with orphaned provenance at half weight. Chunks
// no longer in the store are dropped from the ranking itself.
func (e *Engine) graphRanking(ctx context.Context, query string, opts Options) ([]store.SearchResult, error) {
	if e.graph == nil || !e.cfg.Graph.Enabled {
		return nil, errors.GraphDisabled()
	}

	probe := graph.Query(e.graph, query, graph.QueryOptions{Depth: opts.TraversalDepth})
	if len(probe) == 0 {
		return []store.SearchResult{}, nil
	}
	ids := make([]string, len(probe))
	for i, r := range probe {
		ids[i] = r.ChunkID
	}
	docs, err := e.backend.Documents(ctx, ids)
	if err != nil {
		return nil, err
	}

	ranked := graph.Query(e.graph, query, graph.QueryOptions{
		Depth:  opts.TraversalDepth,
		IsLive: func(chunkID string) bool { _, ok := docs[chunkID]; return ok },
	})

	filters := e.filters(opts)
	results := make([]store.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		doc, ok := docs[r.ChunkID]
		if !ok {
			continue
		}
		if !filters.Empty() && !filters.Match(doc) {
			continue
		}
		results = append(results, store.SearchResult{ChunkID: r.ChunkID, Score: r.Score, Document: doc})
	}
	return results, nil
}

// multiSearch runs the vector, keyword, and graph rankings
// concurrently and fuses all three with RRF.
func (e *Engine) multiSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	if e.graph == nil || !e.cfg.Graph.Enabled {
		return nil, errors.GraphDisabled()
	}

	var vectorHits, keywordHits, graphHits []store.SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorHits, err = e.vectorRanking(gctx, query, fetchSize(opts.TopK), 0, opts)
		return err
	})
	g.Go(func() error {
		var err error
		keywordHits, err = e.backend.KeywordSearch(gctx, query, fetchSize(opts.TopK), e.filters(opts))
		return err
	})
	g.Go(func() error {
		var err error
		graphHits, err = e.graphRanking(gctx, query, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := store.FuseRRF([]store.Ranking{
		{Weight: opts.Weights.Vector, Results: vectorHits},
		{Weight: opts.Weights.Keyword, Results: keywordHits},
		{Weight: opts.Weights.Graph, Results: graphHits},
	}, opts.TopK, e.cfg.Search.RRFConstant)

	vectorScores := scoreIndex(vectorHits)
	keywordScores := scoreIndex(keywordHits)
	graphScores := scoreIndex(graphHits)
	return toResults(fused, func(r *Result, s store.SearchResult) {
		r.Scores.Vector = vectorScores[s.ChunkID]
		r.Scores.Keyword = keywordScores[s.ChunkID]
		r.Scores.Graph = graphScores[s.ChunkID]
	}), nil
}

// fetchSize over-fetches each ranking so fusion has candidates beyond
// the final cut.
func fetchSize(k int) int {
	return k * 2
}

func scoreIndex(hits []store.SearchResult) map[string]float64 {
	idx := make(map[string]float64, len(hits))
	for _, h := range hits {
		idx[h.ChunkID] = h.Score
	}
	return idx
}

func toResults(hits []store.SearchResult, annotate func(*Result, store.SearchResult)) []Result {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{ChunkID: h.ChunkID, Score: h.Score, Document: h.Document}
		if h.Document != nil {
			r.Text = h.Document.Text
			r.Source = h.Document.SourcePath
			r.SourceType = string(h.Document.SourceType)
			r.Language = h.Document.Language
			r.Metadata = h.Document.Metadata
		}
		annotate(&r, h)
		results = append(results, r)
	}
	return results
}
