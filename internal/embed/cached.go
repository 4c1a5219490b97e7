package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize is the default number of query embeddings to cache.
// At 768 dimensions * 4 bytes * 512 entries ≈ 1.5MB memory.
const DefaultQueryCacheSize = 512

// CachedProvider wraps a Provider with LRU caching of query embeddings.
// Repeated query variants (common across retrieval calls) skip the network.
// Document embeddings are not cached; the semantic index persists those.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCached creates a cached provider. cacheSize <= 0 uses the default.
func NewCached(inner Provider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{inner: inner, cache: cache}
}

// cacheKey hashes text and model into a fixed-length key.
func (c *CachedProvider) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// EmbedQuery returns a cached embedding if available, otherwise computes
// and caches it.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedDocuments delegates to the inner provider uncached.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedDocuments(ctx, texts)
}

// Dimensions returns the embedding dimension (passthrough).
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the model identifier (passthrough).
func (c *CachedProvider) ModelName() string { return c.inner.ModelName() }

// Close closes the inner provider.
func (c *CachedProvider) Close() error { return c.inner.Close() }

// Verify interface implementation
var _ Provider = (*CachedProvider)(nil)
