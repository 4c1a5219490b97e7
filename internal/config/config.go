// Package config loads and validates vaultsearch configuration.
//
// Configuration is resolved in priority order:
//  1. Environment variables (VAULTSEARCH_*) - highest priority
//  2. Config file (.vaultsearch.yaml in the vault root)
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-vault configuration file name.
const ConfigFileName = ".vaultsearch.yaml"

// Config represents the complete vaultsearch configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Vault      VaultConfig      `yaml:"vault" json:"vault"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Expansion  ExpansionConfig  `yaml:"expansion" json:"expansion"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// VaultConfig configures the note vault location and index placement.
type VaultConfig struct {
	// Path is the vault root directory containing the notes.
	Path string `yaml:"path" json:"path"`

	// IndexPath is where the semantic index (JSON-lines) is persisted.
	// Defaults to <vault>/.vaultsearch/embeddings.jsonl.
	IndexPath string `yaml:"index_path" json:"index_path"`

	// Extensions are the note file extensions considered part of the vault.
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// SearchConfig configures hybrid retrieval parameters.
type SearchConfig struct {
	// SemanticWeight is the weight for semantic similarity (0.0-1.0).
	// The lexical weight is 1 - SemanticWeight.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MaxResults caps the number of results returned per retrieval.
	MaxResults int `yaml:"max_results" json:"max_results"`

	// CandidateLimit caps the number of candidate documents per retrieval.
	CandidateLimit int `yaml:"candidate_limit" json:"candidate_limit"`

	// EnableLexicalBoosts toggles folder-cohesion and link-graph boosts.
	EnableLexicalBoosts *bool `yaml:"enable_lexical_boosts" json:"enable_lexical_boosts"`
}

// ChunkingConfig configures note chunking.
type ChunkingConfig struct {
	// MaxChars is the maximum characters per chunk.
	MaxChars int `yaml:"max_chars" json:"max_chars"`

	// Overlap is the character overlap between split fragments.
	Overlap int `yaml:"overlap" json:"overlap"`

	// CacheBudgetBytes bounds the in-memory chunk cache.
	CacheBudgetBytes int64 `yaml:"cache_budget_bytes" json:"cache_budget_bytes"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Dimensions is the embedding vector dimension.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize is the number of texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// RequestsPerMinute throttles embedding calls to respect provider quotas.
	// Updatable at runtime; all embedding callers share one limiter.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// ExpansionConfig configures LLM-backed query expansion.
type ExpansionConfig struct {
	// Enabled toggles LLM paraphrase and HyDE generation.
	// When disabled the expander falls back to heuristic term extraction.
	Enabled bool `yaml:"enabled" json:"enabled"`

	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Timeout bounds each LLM call. Default: 5s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Default returns the default configuration for a vault at the given path.
func Default(vaultPath string) *Config {
	enableBoosts := true
	return &Config{
		Version: 1,
		Vault: VaultConfig{
			Path:       vaultPath,
			IndexPath:  filepath.Join(vaultPath, ".vaultsearch", "embeddings.jsonl"),
			Extensions: []string{".md", ".markdown", ".txt"},
		},
		Search: SearchConfig{
			SemanticWeight:      0.6,
			RRFConstant:         60,
			MaxResults:          10,
			CandidateLimit:      500,
			EnableLexicalBoosts: &enableBoosts,
		},
		Chunking: ChunkingConfig{
			MaxChars:         4000,
			Overlap:          0,
			CacheBudgetBytes: 64 * 1024 * 1024,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "ollama",
			Model:             "nomic-embed-text",
			Endpoint:          "http://localhost:11434",
			Dimensions:        768,
			BatchSize:         32,
			RequestsPerMinute: 300,
		},
		Expansion: ExpansionConfig{
			Enabled:  false,
			Model:    "llama3.2",
			Endpoint: "http://localhost:11434",
			Timeout:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration for a vault, merging file and env overrides
// over defaults. A missing config file is not an error.
func Load(vaultPath string) (*Config, error) {
	cfg := Default(vaultPath)

	path := filepath.Join(vaultPath, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies VAULTSEARCH_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VAULTSEARCH_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("VAULTSEARCH_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("VAULTSEARCH_EMBED_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("VAULTSEARCH_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("VAULTSEARCH_EMBED_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embeddings.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("VAULTSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks and clamps configuration values into their legal ranges.
func (c *Config) Validate() error {
	if c.Vault.Path == "" {
		return fmt.Errorf("vault path is required")
	}

	if c.Search.SemanticWeight < 0 {
		c.Search.SemanticWeight = 0
	}
	if c.Search.SemanticWeight > 1 {
		c.Search.SemanticWeight = 1
	}
	if c.Search.RRFConstant < 1 {
		c.Search.RRFConstant = 1
	}
	if c.Search.RRFConstant > 100 {
		c.Search.RRFConstant = 100
	}
	if c.Search.MaxResults < 1 {
		c.Search.MaxResults = 1
	}
	if c.Search.MaxResults > 100 {
		c.Search.MaxResults = 100
	}
	if c.Search.CandidateLimit < 10 {
		c.Search.CandidateLimit = 10
	}
	if c.Search.CandidateLimit > 1000 {
		c.Search.CandidateLimit = 1000
	}

	if c.Chunking.MaxChars <= 0 {
		c.Chunking.MaxChars = 4000
	}
	if c.Chunking.Overlap < 0 {
		c.Chunking.Overlap = 0
	}
	if c.Chunking.Overlap >= c.Chunking.MaxChars {
		c.Chunking.Overlap = 0
	}

	if c.Embeddings.BatchSize <= 0 {
		c.Embeddings.BatchSize = 32
	}
	if c.Embeddings.RequestsPerMinute <= 0 {
		c.Embeddings.RequestsPerMinute = 300
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	if c.Expansion.Timeout <= 0 {
		c.Expansion.Timeout = 5 * time.Second
	}

	return nil
}

// Save writes the configuration to the vault's config file.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(c.Vault.Path, ConfigFileName)
	return os.WriteFile(path, data, 0o644)
}
