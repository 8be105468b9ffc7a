package provider

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
)

const (
	// DefaultBatchSize is the number of texts per embedding request.
	DefaultBatchSize = 64

	// DefaultStaticDimensions is the vector width of the static provider.
	DefaultStaticDimensions = 256

	// DefaultCacheSize bounds the embedding LRU of the cached decorator.
	DefaultCacheSize = 1000
)

// Provider generates embeddings and optional summaries for text.
type Provider interface {
	Name() string

	// Dimensions returns the vector width, or 0 before auto-detection.
	Dimensions() int

	// Embed returns one unit-norm vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Summarize produces a short natural-language description of text.
	Summarize(ctx context.Context, text string) (string, error)

	// Health reports whether the provider can serve requests.
	Health(ctx context.Context) error
}

// Factory builds a provider from configuration.
type Factory func(cfg *config.Config, logger *slog.Logger) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named provider factory. Later registrations replace
// earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names lists the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the bare provider named by cfg.Embedding.Provider. An
// unknown name is a configuration error.
func New(cfg *config.Config, logger *slog.Logger) (Provider, error) {
	name := cfg.Embedding.Provider
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Config("unknown embedding provider: " + name).
			WithSuggestion("set embedding.provider to one of: ollama, static")
	}
	return factory(cfg, logger)
}

// Open builds the configured provider wrapped with the standard
// decorators: retry + circuit breaker inside, LRU cache outside.
func Open(cfg *config.Config, logger *slog.Logger) (Provider, error) {
	base, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewCached(NewResilient(base, logger), DefaultCacheSize), nil
}

// Close releases provider resources when the implementation holds any.
func Close(p Provider) error {
	if closer, ok := p.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Unwrap strips decorators and returns the innermost provider. Useful
// for reaching capabilities outside the Provider interface, like raw
// prompt generation.
func Unwrap(p Provider) Provider {
	for {
		wrapper, ok := p.(interface{ Inner() Provider })
		if !ok {
			return p
		}
		p = wrapper.Inner()
	}
}

func init() {
	Register("ollama", func(cfg *config.Config, logger *slog.Logger) (Provider, error) {
		return NewOllama(cfg, logger)
	})
	Register("static", func(cfg *config.Config, logger *slog.Logger) (Provider, error) {
		return NewStatic(cfg.Embedding.Dimensions), nil
	})
}

// normalizeVector scales a vector to unit length. Zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
