// Package llm provides the optional chat-model client used by query
// expansion. The retrieval pipeline only ever calls Complete with a
// deadline-bearing context and treats every failure as "no expansion".
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the chat-model contract consumed by the query expander.
type Client interface {
	// Complete returns the model's completion for a prompt. Callers bound
	// the call with a context deadline; implementations must honor it.
	Complete(ctx context.Context, prompt string) (string, error)
}

// OllamaConfig configures the Ollama chat client.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the chat model to use (default: llama3.2).
	Model string
}

// OllamaClient implements Client against Ollama's generate API.
type OllamaClient struct {
	client *http.Client
	config OllamaConfig
}

// NewOllamaClient creates an Ollama chat client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	return &OllamaClient{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     10 * time.Second,
		}},
		config: cfg,
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// Complete performs one non-streaming generate call.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama generate returned %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return out.Response, nil
}

// Verify interface implementation
var _ Client = (*OllamaClient)(nil)
