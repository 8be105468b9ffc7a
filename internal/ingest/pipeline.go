// Package ingest runs the indexing pipeline: discover files, chunk
// them, embed the chunks, upsert into the storage backend, and extend
// the graph index. A Pipeline executes inside the job queue's worker
// goroutine, reporting through jobs.Progress.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/agentbrain/agentbrain/internal/chunk"
	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/jobs"
	"github.com/agentbrain/agentbrain/internal/provider"
	"github.com/agentbrain/agentbrain/internal/scanner"
	"github.com/agentbrain/agentbrain/internal/store"
)

const upsertBatchSize = 128

// Summarizer produces a short natural-language description of a chunk.
// provider.Provider satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Dependencies wires a Pipeline. Config, Provider and Backend are
// required; Graph, Generator and Summarizer are optional features.
type Dependencies struct {
	Config   *config.Config
	Scanner  *scanner.Scanner
	Code     chunk.Chunker
	Markdown chunk.Chunker
	Provider provider.Provider
	Backend  store.Backend

	// Graph receives extracted triples; nil disables the graph stage.
	Graph graph.Store

	// Generator enables LLM triple extraction for prose chunks.
	Generator graph.Generator

	// Summarizer fills Document.Summary for prose chunks.
	Summarizer Summarizer

	Logger *slog.Logger
}

// Pipeline executes ingestion jobs.
type Pipeline struct {
	cfg        *config.Config
	scanner    *scanner.Scanner
	code       chunk.Chunker
	markdown   chunk.Chunker
	provider   provider.Provider
	backend    store.Backend
	graph      graph.Store
	ast        *graph.ASTExtractor
	llm        *graph.LLMExtractor
	summarizer Summarizer
	logger     *slog.Logger
}

func New(deps Dependencies) (*Pipeline, error) {
	if deps.Config == nil {
		return nil, errors.New(errors.KindInvalidArgument, "config is required")
	}
	if deps.Provider == nil {
		return nil, errors.New(errors.KindInvalidArgument, "provider is required")
	}
	if deps.Backend == nil {
		return nil, errors.New(errors.KindInvalidArgument, "backend is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		cfg:        deps.Config,
		scanner:    deps.Scanner,
		code:       deps.Code,
		markdown:   deps.Markdown,
		provider:   deps.Provider,
		backend:    deps.Backend,
		graph:      deps.Graph,
		ast:        graph.NewASTExtractor(),
		summarizer: deps.Summarizer,
		logger:     logger,
	}
	if p.scanner == nil {
		p.scanner = scanner.New(logger)
	}
	if p.code == nil {
		p.code = chunk.NewCodeChunker()
	}
	if p.markdown == nil {
		p.markdown = chunk.NewMarkdownChunker()
	}
	if deps.Graph != nil && deps.Generator != nil {
		p.llm = graph.NewLLMExtractor(deps.Generator, deps.Config.Graph.MaxTripletsPerChunk, logger)
	}
	return p, nil
}

type closer interface{ Close() }

// Close releases chunker resources.
func (p *Pipeline) Close() error {
	if c, ok := p.code.(closer); ok {
		c.Close()
	}
	if c, ok := p.markdown.(closer); ok {
		c.Close()
	}
	return nil
}

// Runner adapts the pipeline to the job queue.
func (p *Pipeline) Runner() jobs.Runner {
	return func(ctx context.Context, job jobs.Job, progress *jobs.Progress) error {
		return p.Run(ctx, job.Request, progress)
	}
}

// item carries a chunk with its originating file until it becomes a
// stored document.
type item struct {
	chunk     *chunk.Chunk
	file      scanner.File
	embedding []float32
	summary   string
}

type stageTiming struct {
	discover time.Duration
	chunk    time.Duration
	embed    time.Duration
	upsert   time.Duration
	graph    time.Duration
}

// Run executes one ingestion request through all stages. Backend
// failures abort the job; embedding failures drop individual chunks
// after retries.
func (p *Pipeline) Run(ctx context.Context, req jobs.Request, progress *jobs.Progress) error {
	start := time.Now()
	var timing stageTiming

	progress.SetStage(jobs.StageDiscover)
	discoverStart := time.Now()
	files, err := p.discover(ctx, req)
	if err != nil {
		return err
	}
	timing.discover = time.Since(discoverStart)
	progress.SetFiles(0, len(files))
	p.logger.Info("ingest discover complete", "folder", req.Folder, "files", len(files))

	if err := p.resetForRebuild(ctx, req); err != nil {
		return err
	}

	progress.SetStage(jobs.StageChunk)
	chunkStart := time.Now()
	items, err := p.chunkFiles(ctx, files, progress)
	if err != nil {
		return err
	}
	timing.chunk = time.Since(chunkStart)
	p.logger.Info("ingest chunking complete", "chunks", len(items))

	progress.SetStage(jobs.StageEmbed)
	embedStart := time.Now()
	items, err = p.embed(ctx, items, progress)
	if err != nil {
		return err
	}
	p.summarize(ctx, items)
	timing.embed = time.Since(embedStart)

	progress.SetStage(jobs.StageUpsert)
	upsertStart := time.Now()
	if err := p.upsert(ctx, items, progress); err != nil {
		return err
	}
	timing.upsert = time.Since(upsertStart)

	if p.graph != nil && p.cfg.Graph.Enabled {
		progress.SetStage(jobs.StageGraph)
		graphStart := time.Now()
		if err := p.extendGraph(ctx, items); err != nil {
			return err
		}
		timing.graph = time.Since(graphStart)
	}

	progress.SetStage(jobs.StageFinalize)
	snapshot := progress.Snapshot()
	p.logger.Info("ingest complete",
		"folder", req.Folder,
		"files", len(files),
		"chunks", len(items),
		"dropped", snapshot.Dropped,
		"duration_ms", time.Since(start).Milliseconds(),
		"discover_ms", timing.discover.Milliseconds(),
		"chunk_ms", timing.chunk.Milliseconds(),
		"embed_ms", timing.embed.Milliseconds(),
		"upsert_ms", timing.upsert.Milliseconds(),
		"graph_ms", timing.graph.Milliseconds(),
	)
	return nil
}

func (p *Pipeline) discover(ctx context.Context, req jobs.Request) ([]scanner.File, error) {
	excludes := append([]string{}, p.cfg.Exclude...)
	excludes = append(excludes, req.Excludes...)
	return p.scanner.Scan(ctx, scanner.Options{
		Root:             req.Folder,
		IncludeCode:      req.IncludeCode,
		Languages:        req.Languages,
		Excludes:         excludes,
		RespectGitignore: true,
	})
}

func (p *Pipeline) resetForRebuild(ctx context.Context, req jobs.Request) error {
	if req.Rebuild {
		p.logger.Info("rebuild requested, resetting backend")
		if err := p.backend.Reset(ctx); err != nil {
			return err
		}
	}
	if p.graph != nil && (req.Rebuild || req.RebuildGraph) {
		p.logger.Info("rebuilding graph index")
		if err := p.graph.Clear(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) chunkFiles(ctx context.Context, files []scanner.File, progress *jobs.Progress) ([]item, error) {
	var items []item
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, errors.FromContext(ctx, "chunk files")
		}

		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			p.logger.Warn("skipping unreadable file", "path", f.Path, "error", err)
			progress.SetFiles(i+1, len(files))
			continue
		}

		input := &chunk.FileInput{Path: f.Path, Content: content, Language: f.Language}
		var chunks []*chunk.Chunk
		if f.SourceType == scanner.SourceTypeDoc {
			chunks, err = p.markdown.Chunk(ctx, input)
		} else {
			chunks, err = p.code.Chunk(ctx, input)
		}
		if err != nil {
			p.logger.Warn("chunking failed", "path", f.Path, "error", err)
			progress.SetFiles(i+1, len(files))
			continue
		}

		for _, c := range chunks {
			items = append(items, item{chunk: c, file: f})
		}
		progress.SetFiles(i+1, len(files))
	}
	return items, nil
}

// embed fills chunk embeddings in batches. A failed batch falls back to
// one request per chunk; chunks that still fail are dropped with a
// warning so one bad input cannot sink the job.
func (p *Pipeline) embed(ctx context.Context, items []item, progress *jobs.Progress) ([]item, error) {
	batchSize := p.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = provider.DefaultBatchSize
	}

	total := len(items)
	embeddings := make([][]float32, total)
	survivors := make([]item, 0, total)
	done := 0

	for batchStart := 0; batchStart < total; batchStart += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.FromContext(ctx, "embed chunks")
		}
		batchEnd := batchStart + batchSize
		if batchEnd > total {
			batchEnd = total
		}
		batch := items[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, it := range batch {
			texts[i] = it.chunk.Text
		}

		vectors, err := p.provider.Embed(ctx, texts)
		if err == nil {
			copy(embeddings[batchStart:batchEnd], vectors)
			done += len(batch)
			progress.SetChunks(done, total)
			continue
		}
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx, "embed chunks")
		}
		p.logger.Warn("embedding batch failed, retrying chunks individually",
			"batch_start", batchStart, "size", len(batch), "error", err)

		for i, it := range batch {
			vecs, err := p.provider.Embed(ctx, []string{it.chunk.Text})
			if err != nil {
				if ctx.Err() != nil {
					return nil, errors.FromContext(ctx, "embed chunks")
				}
				p.logger.Warn("dropping chunk after embedding retries",
					"chunk_id", it.chunk.ID, "path", it.chunk.SourcePath, "error", err)
				progress.AddDropped(1)
				continue
			}
			embeddings[batchStart+i] = vecs[0]
			done++
			progress.SetChunks(done, total)
		}
	}

	for i := range items {
		if embeddings[i] == nil {
			continue
		}
		it := items[i]
		it.embedding = embeddings[i]
		survivors = append(survivors, it)
	}
	return survivors, nil
}

// summarize attaches provider summaries to prose chunks. Failures are
// logged and skipped; summaries are enrichment, not a requirement.
func (p *Pipeline) summarize(ctx context.Context, items []item) {
	if p.summarizer == nil || p.cfg.Summarization.Provider == "" {
		return
	}
	failures := 0
	for i := range items {
		if items[i].file.SourceType != scanner.SourceTypeDoc {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		summary, err := p.summarizer.Summarize(ctx, items[i].chunk.Text)
		if err != nil {
			failures++
			continue
		}
		items[i].summary = summary
	}
	if failures > 0 {
		p.logger.Warn("summaries skipped for some chunks", "failed", failures)
	}
}

func (p *Pipeline) upsert(ctx context.Context, items []item, progress *jobs.Progress) error {
	total := len(items)
	for batchStart := 0; batchStart < total; batchStart += upsertBatchSize {
		if err := ctx.Err(); err != nil {
			return errors.FromContext(ctx, "upsert documents")
		}
		batchEnd := batchStart + upsertBatchSize
		if batchEnd > total {
			batchEnd = total
		}

		docs := make([]*store.Document, 0, batchEnd-batchStart)
		for _, it := range items[batchStart:batchEnd] {
			docs = append(docs, toDocument(it))
		}
		if err := p.backend.UpsertDocuments(ctx, docs); err != nil {
			return err
		}
		progress.SetChunks(batchEnd, total)
	}
	return nil
}

// extendGraph extracts triples from the ingested chunks and persists
// the graph once at the end of the stage.
func (p *Pipeline) extendGraph(ctx context.Context, items []item) error {
	added := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return errors.FromContext(ctx, "extend graph")
		}

		var assertions []graph.Assertion
		if it.file.SourceType == scanner.SourceTypeDoc {
			if p.llm != nil {
				assertions = p.llm.Extract(ctx, it.chunk.Text)
			}
		} else {
			assertions = p.ast.Extract(it.chunk)
		}

		for _, a := range assertions {
			if err := p.graph.AddTriple(a.Subject, a.Predicate, a.Object, it.chunk.ID); err != nil {
				p.logger.Warn("dropping invalid triple", "predicate", a.Predicate, "error", err)
				continue
			}
			added++
		}
	}
	if err := p.graph.Persist(); err != nil {
		return err
	}
	stats := p.graph.Stats()
	p.logger.Info("graph stage complete",
		"triples_added", added, "entities", stats.Entities, "triples", stats.Triples)
	return nil
}

func toDocument(it item) *store.Document {
	c := it.chunk
	var metadata map[string]any
	if len(c.Metadata) > 0 {
		metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			metadata[k] = v
		}
	}
	return &store.Document{
		ChunkID:     c.ID,
		Text:        c.Text,
		SourcePath:  c.SourcePath,
		SourceType:  store.SourceType(it.file.SourceType),
		Language:    c.Language,
		SymbolName:  c.SymbolName,
		SymbolKind:  store.SymbolKind(c.SymbolKind),
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		HeadingPath: c.HeadingPath,
		ChunkIndex:  c.ChunkIndex,
		TotalChunks: c.TotalChunks,
		Metadata:    metadata,
		Summary:     it.summary,
		Embedding:   it.embedding,
	}
}
