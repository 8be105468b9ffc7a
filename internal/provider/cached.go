package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a provider with an LRU over embeddings. Repeated query
// text skips the round trip to the model entirely.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCached creates a caching decorator. size <= 0 selects the default
// cache size.
func NewCached(inner Provider, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

// cacheKey includes the provider name so switching providers never
// serves stale vectors.
func (c *Cached) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.inner.Name()))
	return hex.EncodeToString(hash[:])
}

// Embed serves each text from cache when possible and embeds only the
// misses, in a single inner call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	embeddings, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIndices {
		results[idx] = embeddings[j]
		c.cache.Add(c.cacheKey(texts[idx]), embeddings[j])
	}
	return results, nil
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Summarize(ctx context.Context, text string) (string, error) {
	return c.inner.Summarize(ctx, text)
}

func (c *Cached) Health(ctx context.Context) error { return c.inner.Health(ctx) }

// Inner exposes the wrapped provider.
func (c *Cached) Inner() Provider { return c.inner }

func (c *Cached) Close() error { return Close(c.inner) }

var _ Provider = (*Cached)(nil)
