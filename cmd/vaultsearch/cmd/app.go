package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/vaultsearch/internal/chunk"
	"github.com/Aman-CERP/vaultsearch/internal/config"
	"github.com/Aman-CERP/vaultsearch/internal/embed"
	"github.com/Aman-CERP/vaultsearch/internal/expand"
	"github.com/Aman-CERP/vaultsearch/internal/llm"
	"github.com/Aman-CERP/vaultsearch/internal/scan"
	"github.com/Aman-CERP/vaultsearch/internal/search"
	"github.com/Aman-CERP/vaultsearch/internal/semantic"
	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

// app is the wired retrieval pipeline for one vault.
type app struct {
	cfg       *config.Config
	vault     *vault.FSVault
	chunker   *chunk.Chunker
	scanner   *scan.Scanner
	expander  *expand.Expander
	limiter   *embed.RateLimiter
	provider  embed.Provider
	manager   *semantic.Manager
	retriever *search.Retriever
}

// newApp builds the pipeline from the vault's configuration. offline
// swaps the Ollama embedder for deterministic static embeddings.
func newApp(ctx context.Context, offline bool, progress func(completed, total int)) (*app, error) {
	vaultPath, err := filepath.Abs(vaultDir)
	if err != nil {
		return nil, fmt.Errorf("resolve vault path: %w", err)
	}
	if info, err := os.Stat(vaultPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("vault directory not found: %s", vaultPath)
	}

	cfg, err := config.Load(vaultPath)
	if err != nil {
		return nil, err
	}

	store, err := vault.NewFSVault(cfg.Vault.Path, cfg.Vault.Extensions)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	chunker := chunk.NewChunker(store, chunk.Options{
		MaxChars:         cfg.Chunking.MaxChars,
		Overlap:          cfg.Chunking.Overlap,
		CacheBudgetBytes: cfg.Chunking.CacheBudgetBytes,
	})

	provider, limiter, err := buildProvider(ctx, cfg, offline)
	if err != nil {
		return nil, err
	}

	var llmClient llm.Client
	if cfg.Expansion.Enabled {
		llmClient = llm.NewOllamaClient(llm.OllamaConfig{
			Host:  cfg.Expansion.Endpoint,
			Model: cfg.Expansion.Model,
		})
	}
	expander := expand.NewExpander(llmClient, cfg.Expansion.Timeout)

	if err := os.MkdirAll(filepath.Dir(cfg.Vault.IndexPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	manager := semantic.NewManager(store, chunker, provider, semantic.Options{
		IndexPath: cfg.Vault.IndexPath,
		BatchSize: cfg.Embeddings.BatchSize,
		Progress:  progress,
	})

	scanner := scan.NewScanner(store, scan.DefaultScanWidth)
	retriever := search.NewRetriever(store, scanner, expander, chunker, manager)

	return &app{
		cfg:       cfg,
		vault:     store,
		chunker:   chunker,
		scanner:   scanner,
		expander:  expander,
		limiter:   limiter,
		provider:  provider,
		manager:   manager,
		retriever: retriever,
	}, nil
}

// buildProvider assembles the embedding chain: base provider, shared
// rate limiter, then a query-embedding cache on the outside so cache
// hits never spend limiter budget.
func buildProvider(ctx context.Context, cfg *config.Config, offline bool) (embed.Provider, *embed.RateLimiter, error) {
	limiter := embed.NewRateLimiter(cfg.Embeddings.RequestsPerMinute)

	var base embed.Provider
	if offline {
		base = embed.NewStaticProvider()
		slog.Info("embeddings_offline_mode")
	} else {
		provider, err := embed.NewOllamaProvider(ctx, embed.OllamaConfig{
			Host:       cfg.Embeddings.Endpoint,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("embedding provider unavailable (try --offline): %w", err)
		}
		base = provider
	}

	limited := embed.NewLimited(base, limiter)
	cached := embed.NewCached(limited, embed.DefaultQueryCacheSize)
	return cached, limiter, nil
}

// close releases the app's resources.
func (a *app) close() {
	if a.manager != nil {
		_ = a.manager.Close()
	}
	if a.provider != nil {
		_ = a.provider.Close()
	}
}

// searchOptions maps vault configuration onto retrieval options.
func (a *app) searchOptions() search.Options {
	opts := search.DefaultOptions()
	opts.MaxResults = a.cfg.Search.MaxResults
	opts.SemanticWeight = a.cfg.Search.SemanticWeight
	opts.CandidateLimit = a.cfg.Search.CandidateLimit
	opts.RRFConstant = a.cfg.Search.RRFConstant
	if a.cfg.Search.EnableLexicalBoosts != nil {
		opts.DisableLexicalBoosts = !*a.cfg.Search.EnableLexicalBoosts
	}
	return opts
}
