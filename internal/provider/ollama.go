package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
)

const (
	// DefaultOllamaHost is the local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the embedding model used when none is
	// configured.
	DefaultOllamaModel = "nomic-embed-text"

	// ollamaRequestTimeout bounds each HTTP call.
	ollamaRequestTimeout = 30 * time.Second

	// ollamaPoolSize sizes the idle connection pool.
	ollamaPoolSize = 4
)

// Ollama talks to a local Ollama server: /api/embed for embeddings,
// /api/generate for summaries. No API key is involved.
type Ollama struct {
	client       *http.Client
	transport    *http.Transport
	host         string
	embedModel   string
	summaryModel string
	batchSize    int
	logger       *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllama creates an Ollama provider from configuration. The server
// is not contacted until Health or Embed is called.
func NewOllama(cfg *config.Config, logger *slog.Logger) (*Ollama, error) {
	host := cfg.Embedding.Endpoint
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Embedding.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	batchSize := cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Short idle timeout: connections should not linger after a CLI
	// invocation finishes.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	return &Ollama{
		client:       &http.Client{Transport: transport},
		transport:    transport,
		host:         strings.TrimRight(host, "/"),
		embedModel:   model,
		summaryModel: cfg.Summarization.Model,
		batchSize:    batchSize,
		logger:       logger,
		dims:         cfg.Embedding.Dimensions,
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

// Dimensions returns the detected vector width, or 0 before the first
// successful embedding.
func (o *Ollama) Dimensions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dims
}

// Health checks that the server responds and the embedding model is
// pulled.
func (o *Ollama) Health(ctx context.Context) error {
	if err := o.checkClosed(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, ollamaRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return errors.Internal("build ollama request", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return errors.ProviderUnavailable("cannot reach ollama at "+o.host, err).
			WithSuggestion("start ollama or point embedding.endpoint at a running server")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.ProviderUnavailable("ollama returned status "+resp.Status+": "+string(body), nil)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return errors.ProviderUnavailable("decode ollama model list", err)
	}

	want := strings.ToLower(o.embedModel)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return nil
		}
	}
	return errors.ProviderUnavailable("embedding model "+o.embedModel+" not available", nil).
		WithSuggestion("run: ollama pull " + o.embedModel)
}

// Embed returns one unit-norm vector per text. Blank texts map to zero
// vectors. Requests are sliced into batches of the configured size.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := o.checkClosed(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue // filled in once dimensions are known
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.FromContext(ctx, "embed")
		}
		end := start + o.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		embeddings, err := o.embedBatch(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(batch) {
			return nil, errors.ProviderUnavailable("ollama returned a short embedding batch", nil)
		}
		for i, vec := range embeddings {
			results[batch[i]] = vec
		}
	}

	dims := o.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	return results, nil
}

func (o *Ollama) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.embedModel, Input: input})
	if err != nil {
		return nil, errors.Internal("marshal embed request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ollamaRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Internal("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Timeout("embed")
		}
		return nil, errors.ProviderUnavailable("ollama embed request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.ProviderUnavailable("ollama embed returned "+resp.Status+": "+string(respBody), nil)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.ProviderUnavailable("decode embed response", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.ProviderUnavailable("ollama returned no embeddings", nil)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		embeddings[i] = normalizeVector(vec)
	}

	o.recordDimensions(len(embeddings[0]))
	return embeddings, nil
}

// recordDimensions captures the width of the first embedding; later
// widths must agree or something is misconfigured server-side.
func (o *Ollama) recordDimensions(dims int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dims == 0 {
		o.dims = dims
		o.logger.Debug("detected embedding dimensions", "provider", "ollama", "dims", dims)
	}
}

// Summarize generates a one-paragraph description via /api/generate.
// It requires a configured summarization model.
func (o *Ollama) Summarize(ctx context.Context, text string) (string, error) {
	prompt := "Summarize the following content in one or two sentences. " +
		"Describe what it does, not how it is written.\n\n" + text
	return o.Generate(ctx, prompt)
}

// Generate runs a raw prompt through /api/generate and returns the
// completion. Callers that need structured output build their own
// prompts on top of this.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	if err := o.checkClosed(); err != nil {
		return "", err
	}
	if o.summaryModel == "" {
		return "", errors.ProviderUnavailable("no summarization model configured", nil).
			WithSuggestion("set summarization.model to enable summaries")
	}

	body, err := json.Marshal(ollamaGenerateRequest{Model: o.summaryModel, Prompt: prompt})
	if err != nil {
		return "", errors.Internal("marshal generate request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ollamaRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errors.Internal("build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Timeout("summarize")
		}
		return "", errors.ProviderUnavailable("ollama generate request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", errors.ProviderUnavailable("ollama generate returned "+resp.Status+": "+string(respBody), nil)
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.ProviderUnavailable("decode generate response", err)
	}
	return strings.TrimSpace(result.Response), nil
}

func (o *Ollama) checkClosed() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return errors.Internal("provider is closed", nil)
	}
	return nil
}

var _ Provider = (*Ollama)(nil)

// Close releases idle connections.
func (o *Ollama) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.transport.CloseIdleConnections()
	return nil
}
