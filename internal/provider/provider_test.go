package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
)

// fakeProvider counts calls and can be scripted to fail.
type fakeProvider struct {
	embedCalls   atomic.Int64
	failuresLeft atomic.Int64
	failWith     error
	dims         int
}

func (f *fakeProvider) Name() string    { return "fake" }
func (f *fakeProvider) Dimensions() int { return f.dims }

func (f *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.embedCalls.Add(1)
	if f.failuresLeft.Load() > 0 {
		f.failuresLeft.Add(-1)
		return nil, f.failWith
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dims)
		vec[len(text)%f.dims] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *fakeProvider) Summarize(context.Context, string) (string, error) { return "summary", nil }
func (f *fakeProvider) Health(context.Context) error                      { return nil }

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "gpt-web-scale"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding provider")
}

func TestNames_IncludesBuiltins(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "ollama")
	assert.Contains(t, names, "static")
}

func TestOpen_StaticStack(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Provider = "static"

	p, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = Close(p) }()

	assert.Equal(t, "static", p.Name())
	assert.Equal(t, DefaultStaticDimensions, p.Dimensions())

	vecs, err := p.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.InDelta(t, 1.0, vectorNorm(vecs[0]), 1e-5)
}

func TestStatic_Deterministic(t *testing.T) {
	s := NewStatic(0)

	a, err := s.Embed(context.Background(), []string{"parseConfigFile handles YAML"})
	require.NoError(t, err)
	b, err := s.Embed(context.Background(), []string{"parseConfigFile handles YAML"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := s.Embed(context.Background(), []string{"entirely different content"})
	require.NoError(t, err)
	assert.NotEqual(t, a[0], c[0])
}

func TestStatic_BlankTextIsZeroVector(t *testing.T) {
	s := NewStatic(32)

	vecs, err := s.Embed(context.Background(), []string{"   ", "real text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, make([]float32, 32), vecs[0])
	assert.InDelta(t, 1.0, vectorNorm(vecs[1]), 1e-5)
}

func TestStatic_SimilarIdentifiersOverlap(t *testing.T) {
	s := NewStatic(0)

	vecs, err := s.Embed(context.Background(), []string{
		"loadUserProfile", "load_user_profile", "renderHTMLTable",
	})
	require.NoError(t, err)

	dot := func(a, b []float32) float64 {
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum
	}
	// camelCase and snake_case tokenize identically.
	assert.InDelta(t, 1.0, dot(vecs[0], vecs[1]), 1e-5)
	assert.Less(t, dot(vecs[0], vecs[2]), 0.9)
}

func TestStatic_SummarizeDeterministic(t *testing.T) {
	s := NewStatic(0)

	a, err := s.Summarize(context.Background(), "First line.\nSecond line.")
	require.NoError(t, err)
	b, err := s.Summarize(context.Background(), "First line.\nSecond line.")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "First line.")
	assert.NotContains(t, a, "Second line.")
}

func TestCached_ServesRepeatsFromCache(t *testing.T) {
	fake := &fakeProvider{dims: 8}
	cached := NewCached(fake, 100)

	first, err := cached.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.embedCalls.Load())

	second, err := cached.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.embedCalls.Load(), "repeat should not hit the provider")
	assert.Equal(t, first, second)
}

func TestCached_EmbedsOnlyMisses(t *testing.T) {
	fake := &fakeProvider{dims: 8}
	cached := NewCached(fake, 100)

	_, err := cached.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	vecs, err := cached.Embed(context.Background(), []string{"alpha", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, int64(2), fake.embedCalls.Load())
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	fake := &fakeProvider{dims: 8, failWith: errors.ProviderUnavailable("flaky", nil)}
	fake.failuresLeft.Store(2)

	r := NewResilient(fake, nil)
	r.retry.InitialDelay = 0 // keep the test fast

	vecs, err := r.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, int64(3), fake.embedCalls.Load())
}

func TestResilient_DoesNotRetryFatalErrors(t *testing.T) {
	fake := &fakeProvider{dims: 8, failWith: errors.Config("bad model name")}
	fake.failuresLeft.Store(10)

	r := NewResilient(fake, nil)
	r.retry.InitialDelay = 0

	_, err := r.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, int64(1), fake.embedCalls.Load(), "config errors are not retryable")
}

func TestOllama_EmbedAndDimensionDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "nomic-embed-text", req["model"])

			count := 1
			if arr, ok := req["input"].([]any); ok {
				count = len(arr)
			}
			embeddings := make([][]float64, count)
			for i := range embeddings {
				embeddings[i] = []float64{3, 4, 0}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Endpoint = srv.URL

	o, err := NewOllama(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	assert.Equal(t, 0, o.Dimensions(), "dimensions unknown before first embed")

	vecs, err := o.Embed(context.Background(), []string{"one", "", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 3, o.Dimensions())

	// Returned vectors are unit-normalized.
	assert.InDelta(t, 0.6, float64(vecs[0][0]), 1e-5)
	assert.InDelta(t, 0.8, float64(vecs[0][1]), 1e-5)
	// The blank text becomes a zero vector of the detected width.
	assert.Equal(t, make([]float32, 3), vecs[1])
}

func TestOllama_HealthMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "llama3:8b"}},
		})
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Embedding.Endpoint = srv.URL
	cfg.Embedding.Model = "nomic-embed-text"

	o, err := NewOllama(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	err = o.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindProviderUnavailable, errors.KindOf(err))
	assert.Contains(t, err.Error(), "nomic-embed-text")
}

func TestOllama_HealthMatchesModelTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "nomic-embed-text:latest"}},
		})
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Embedding.Endpoint = srv.URL
	cfg.Embedding.Model = "nomic-embed-text"

	o, err := NewOllama(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	assert.NoError(t, o.Health(context.Background()))
}

func TestOllama_ServerDown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Embedding.Endpoint = "http://127.0.0.1:1" // nothing listens here

	o, err := NewOllama(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	err = o.Health(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindProviderUnavailable, errors.KindOf(err))
}

func TestOllama_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3:8b", req["model"])
		assert.Equal(t, false, req["stream"])
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "  A short summary.\n"})
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Embedding.Endpoint = srv.URL
	cfg.Summarization.Model = "llama3:8b"

	o, err := NewOllama(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	summary, err := o.Summarize(context.Background(), "lots of text")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", summary)
}

func TestOllama_SummarizeWithoutModel(t *testing.T) {
	cfg := &config.Config{}
	o, err := NewOllama(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = o.Close() }()

	_, err = o.Summarize(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summarization model")
}

func TestNormalizeVector(t *testing.T) {
	v := normalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := normalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
