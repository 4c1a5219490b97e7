package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// StaticDimensions is the embedding dimension for the static provider.
const StaticDimensions = 256

// Weights for static vector generation.
const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// staticTokenPattern matches alphanumeric sequences.
var staticTokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticProvider generates embeddings using a hash-based approach. It works
// without external dependencies (no network, no model download) and is
// deterministic, at the cost of semantic quality. Used as an offline
// fallback and in tests.
type StaticProvider struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticProvider creates a static embedding provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// EmbedDocuments generates embeddings for document texts.
func (p *StaticProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vec, err := p.embed(text)
		if err != nil {
			return nil, err
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// EmbedQuery generates an embedding for a search query.
func (p *StaticProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text)
}

// embed hashes tokens and character n-grams into a fixed-size vector.
func (p *StaticProvider) embed(text string) ([]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	vec := make([]float32, StaticDimensions)

	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return vec, nil
	}

	for _, token := range staticTokenPattern.FindAllString(trimmed, -1) {
		vec[hashBucket(token)] += staticTokenWeight

		// Character n-grams bridge morphological variants.
		runes := []rune(token)
		for i := 0; i+staticNgramSize <= len(runes); i++ {
			ngram := string(runes[i : i+staticNgramSize])
			vec[hashBucket(ngram)] += staticNgramWeight
		}
	}

	return normalizeVector(vec), nil
}

// hashBucket maps a token to a vector index.
func hashBucket(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % StaticDimensions)
}

// Dimensions returns the embedding dimension.
func (p *StaticProvider) Dimensions() int { return StaticDimensions }

// ModelName returns the model identifier.
func (p *StaticProvider) ModelName() string { return "static-fnv" }

// Close marks the provider closed.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Verify interface implementation
var _ Provider = (*StaticProvider)(nil)
