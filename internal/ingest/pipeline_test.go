package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/jobs"
	"github.com/agentbrain/agentbrain/internal/provider"
	"github.com/agentbrain/agentbrain/internal/store"
)

// fakeBackend records upserts in memory.
type fakeBackend struct {
	mu        sync.Mutex
	docs      map[string]*store.Document
	resets    int
	upsertErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{docs: map[string]*store.Document{}}
}

func (b *fakeBackend) Initialize(ctx context.Context) error { return nil }

func (b *fakeBackend) UpsertDocuments(ctx context.Context, docs []*store.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.upsertErr != nil {
		return b.upsertErr
	}
	for _, d := range docs {
		b.docs[d.ChunkID] = d
	}
	return nil
}

func (b *fakeBackend) Count(ctx context.Context) (store.Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return store.Counts{Total: len(b.docs)}, nil
}

func (b *fakeBackend) VectorSearch(ctx context.Context, query []float32, k int, filters store.Filters) ([]store.SearchResult, error) {
	return nil, nil
}

func (b *fakeBackend) KeywordSearch(ctx context.Context, query string, k int, filters store.Filters) ([]store.SearchResult, error) {
	return nil, nil
}

func (b *fakeBackend) HybridSearch(ctx context.Context, query []float32, text string, k int, alpha float64, filters store.Filters) ([]store.SearchResult, error) {
	return nil, nil
}

func (b *fakeBackend) Dimension(ctx context.Context) (int, error) { return 0, nil }

func (b *fakeBackend) Documents(ctx context.Context, ids []string) (map[string]*store.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]*store.Document{}
	for _, id := range ids {
		if d, ok := b.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (b *fakeBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
	b.docs = map[string]*store.Document{}
	return nil
}

func (b *fakeBackend) PoolStatus(ctx context.Context) (store.PoolStatus, error) {
	return store.PoolStatus{Status: "ok"}, nil
}

func (b *fakeBackend) Close() error { return nil }

var _ store.Backend = (*fakeBackend)(nil)

// flakyProvider wraps the static provider and fails texts containing a
// marker.
type flakyProvider struct {
	provider.Provider
	marker string
}

func (f *flakyProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, f.marker) {
			return nil, errors.ProviderUnavailable("embedding failed", nil)
		}
	}
	return f.Provider.Embed(ctx, texts)
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newPipeline(t *testing.T, cfg *config.Config, deps Dependencies) *Pipeline {
	t.Helper()
	if cfg == nil {
		cfg = config.New()
	}
	deps.Config = cfg
	if deps.Provider == nil {
		deps.Provider = provider.NewStatic(64)
	}
	p, err := New(deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestRun_IndexesDocsAndCode(t *testing.T) {
	root := writeTree(t, map[string]string{
		"README.md": "# Project\n\nThis service indexes project files for retrieval.\n",
		"main.go":   "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
	})

	backend := newFakeBackend()
	p := newPipeline(t, nil, Dependencies{Backend: backend})

	progress := jobs.NewProgress()
	req := jobs.Request{Folder: root, IncludeCode: true}
	require.NoError(t, p.Run(context.Background(), req, progress))

	require.NotEmpty(t, backend.docs)
	var sawDoc, sawCode bool
	for _, d := range backend.docs {
		assert.NotEmpty(t, d.Embedding, "every stored document carries its vector")
		assert.NotEmpty(t, d.Text)
		switch d.SourceType {
		case store.SourceTypeDoc:
			sawDoc = true
			assert.Equal(t, "README.md", d.SourcePath)
		case store.SourceTypeCode:
			sawCode = true
			assert.Equal(t, "go", d.Language)
		}
	}
	assert.True(t, sawDoc)
	assert.True(t, sawCode)

	snap := progress.Snapshot()
	assert.Equal(t, string(jobs.StageFinalize), snap.Stage)
	assert.Equal(t, 2, snap.FilesTotal)
	assert.Equal(t, 2, snap.FilesProcessed)
	assert.Zero(t, snap.Dropped)
}

func TestRun_DocsOnlyWithoutIncludeCode(t *testing.T) {
	root := writeTree(t, map[string]string{
		"notes.md": "some notes about the design\n",
		"main.go":  "package main\n",
	})

	backend := newFakeBackend()
	p := newPipeline(t, nil, Dependencies{Backend: backend})

	require.NoError(t, p.Run(context.Background(), jobs.Request{Folder: root}, jobs.NewProgress()))

	for _, d := range backend.docs {
		assert.Equal(t, store.SourceTypeDoc, d.SourceType)
	}
	assert.NotEmpty(t, backend.docs)
}

func TestRun_RebuildResetsBackend(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "content\n"})

	backend := newFakeBackend()
	p := newPipeline(t, nil, Dependencies{Backend: backend})

	require.NoError(t, p.Run(context.Background(), jobs.Request{Folder: root, Rebuild: true}, jobs.NewProgress()))
	assert.Equal(t, 1, backend.resets)

	require.NoError(t, p.Run(context.Background(), jobs.Request{Folder: root}, jobs.NewProgress()))
	assert.Equal(t, 1, backend.resets, "plain reindex does not reset")
}

func TestRun_DropsChunksThatFailEmbedding(t *testing.T) {
	root := writeTree(t, map[string]string{
		"good.md": "a perfectly ordinary document\n",
		"bad.md":  "POISON this chunk cannot be embedded\n",
	})

	backend := newFakeBackend()
	flaky := &flakyProvider{Provider: provider.NewStatic(64), marker: "POISON"}
	p := newPipeline(t, nil, Dependencies{Backend: backend, Provider: flaky})

	progress := jobs.NewProgress()
	require.NoError(t, p.Run(context.Background(), jobs.Request{Folder: root}, progress))

	require.Len(t, backend.docs, 1)
	for _, d := range backend.docs {
		assert.Equal(t, "good.md", d.SourcePath)
	}
	assert.Equal(t, 1, progress.Snapshot().Dropped)
}

func TestRun_BackendFailureIsFatal(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "content\n"})

	backend := newFakeBackend()
	backend.upsertErr = errors.BackendUnavailable("database write failed", nil)
	p := newPipeline(t, nil, Dependencies{Backend: backend})

	err := p.Run(context.Background(), jobs.Request{Folder: root}, jobs.NewProgress())
	require.Error(t, err)
	assert.Equal(t, errors.KindBackendUnavailable, errors.KindOf(err))
}

func TestRun_GraphStagePersistsTriples(t *testing.T) {
	root := writeTree(t, map[string]string{
		"pets.py": "class Animal:\n    pass\n\nclass Dog(Animal):\n    def bark(self):\n        return \"woof\"\n",
	})

	cfg := config.New()
	cfg.Graph.Enabled = true
	dir := t.TempDir()
	gs := graph.NewSimpleStore(dir, nil)
	t.Cleanup(func() { _ = gs.Close() })

	backend := newFakeBackend()
	p := newPipeline(t, cfg, Dependencies{Backend: backend, Graph: gs})

	require.NoError(t, p.Run(context.Background(), jobs.Request{Folder: root, IncludeCode: true}, jobs.NewProgress()))

	stats := gs.Stats()
	assert.Greater(t, stats.Triples, 0, "class declarations produce triples")
	assert.FileExists(t, filepath.Join(dir, "graph.json"))
}

func TestRun_RebuildGraphClearsStore(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "content\n"})

	cfg := config.New()
	cfg.Graph.Enabled = true
	gs := graph.NewSimpleStore(t.TempDir(), nil)
	t.Cleanup(func() { _ = gs.Close() })
	require.NoError(t, gs.AddTriple(
		graph.NewEntity(graph.EntityConcept, "stale"),
		graph.PredicateReferences,
		graph.NewEntity(graph.EntityConcept, "fact"),
		"old-chunk",
	))

	backend := newFakeBackend()
	p := newPipeline(t, cfg, Dependencies{Backend: backend, Graph: gs})

	require.NoError(t, p.Run(context.Background(), jobs.Request{Folder: root, RebuildGraph: true}, jobs.NewProgress()))
	assert.Zero(t, gs.Stats().Triples, "rebuild_graph drops prior facts")
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "summary of chunk", nil
}

func TestRun_SummarizesProseChunks(t *testing.T) {
	root := writeTree(t, map[string]string{
		"notes.md": "design notes for the retrieval engine\n",
		"main.go":  "package main\n",
	})

	cfg := config.New()
	cfg.Summarization.Provider = "ollama"
	backend := newFakeBackend()
	summarizer := &fakeSummarizer{}
	p := newPipeline(t, cfg, Dependencies{Backend: backend, Summarizer: summarizer})

	require.NoError(t, p.Run(context.Background(), jobs.Request{Folder: root, IncludeCode: true}, jobs.NewProgress()))

	assert.Greater(t, summarizer.calls, 0)
	for _, d := range backend.docs {
		if d.SourceType == store.SourceTypeDoc {
			assert.Equal(t, "summary of chunk", d.Summary)
		} else {
			assert.Empty(t, d.Summary, "code chunks are not summarized")
		}
	}
}

func TestRun_CancelledContext(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "content\n"})

	backend := newFakeBackend()
	p := newPipeline(t, nil, Dependencies{Backend: backend})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx, jobs.Request{Folder: root}, jobs.NewProgress())
	require.Error(t, err)
	assert.Equal(t, errors.KindCancelled, errors.KindOf(err))
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(Dependencies{Config: config.New(), Provider: provider.NewStatic(0)})
	assert.Error(t, err, "backend is required")

	_, err = New(Dependencies{Config: config.New(), Backend: newFakeBackend()})
	assert.Error(t, err, "provider is required")
}
