package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Ollama API constants.
const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model for notes.
	DefaultOllamaModel = "nomic-embed-text"

	// ollamaPoolSize for the HTTP connection pool.
	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedding provider.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model to use.
	Model string

	// Dimensions can be set to override auto-detection (0 = auto-detect).
	Dimensions int

	// Timeout bounds each embedding request (default: 60s).
	Timeout time.Duration

	// Retry configures backoff for transient failures.
	Retry RetryConfig

	// SkipHealthCheck skips the startup probe (testing).
	SkipHealthCheck bool
}

// OllamaProvider generates embeddings using Ollama's HTTP API.
type OllamaProvider struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

// Verify interface implementation at compile time
var _ Provider = (*OllamaProvider)(nil)

// ollamaEmbedRequest is the /api/embed request body.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaProvider creates an Ollama embedding provider.
// Unless SkipHealthCheck is set, it probes the endpoint and detects the
// embedding dimension from a sample request.
func NewOllamaProvider(ctx context.Context, cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout: per-request context timeouts govern.
	p := &OllamaProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck && p.dims == 0 {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		vecs, err := p.embed(probeCtx, []string{"dimension probe"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to probe Ollama embedding model %s: %w", cfg.Model, err)
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("ollama model %s returned empty embedding", cfg.Model)
		}
		p.dims = len(vecs[0])
	}

	return p, nil
}

// EmbedDocuments generates embeddings for document texts.
func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return p.embedWithRetry(ctx, texts)
}

// EmbedQuery generates an embedding for a search query.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// embedWithRetry wraps embed with exponential backoff.
func (p *OllamaProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := WithRetry(ctx, p.config.Retry, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		vecs, err := p.embed(reqCtx, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// embed performs one /api/embed call.
func (p *OllamaProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed returned %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Embeddings))
	}

	for i, v := range out.Embeddings {
		out.Embeddings[i] = normalizeVector(v)
	}
	return out.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (p *OllamaProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dims
}

// ModelName returns the model identifier.
func (p *OllamaProvider) ModelName() string {
	return "ollama:" + p.config.Model
}

// Close releases HTTP resources.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}
