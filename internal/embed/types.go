// Package embed provides embedding providers for the semantic index.
//
// All providers implement Provider; callers compose the concrete provider
// with NewLimited (shared requests-per-minute throttling) and NewCached
// (query embedding LRU) as needed. Every embedding call the engine makes
// must pass through one shared RateLimiter.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultRequestsPerMinute is the default embedding call ceiling.
	DefaultRequestsPerMinute = 300

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3
)

// Provider generates vector embeddings for documents and queries.
type Provider interface {
	// EmbedDocuments generates embeddings for document texts, one vector
	// per input in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
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
