package search

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/vaultsearch/internal/chunk"
	"github.com/Aman-CERP/vaultsearch/internal/expand"
	"github.com/Aman-CERP/vaultsearch/internal/lexical"
	"github.com/Aman-CERP/vaultsearch/internal/scan"
	"github.com/Aman-CERP/vaultsearch/internal/semantic"
	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

// maxQueryChars truncates oversized queries instead of rejecting them.
const maxQueryChars = 1000

// Retriever is the retrieval entry point coordinating expansion,
// candidate scanning, both engines, and fusion. The lexical index is
// built fresh per call and discarded before the call returns, so calls
// never contaminate each other.
type Retriever struct {
	store    vault.Store
	scanner  *scan.Scanner
	expander *expand.Expander
	chunker  *chunk.Chunker
	semantic *semantic.Manager
}

// NewRetriever wires the retrieval pipeline. semantic may be nil, which
// forces lexical-only retrieval.
func NewRetriever(store vault.Store, scanner *scan.Scanner, expander *expand.Expander, chunker *chunk.Chunker, sem *semantic.Manager) *Retriever {
	return &Retriever{
		store:    store,
		scanner:  scanner,
		expander: expander,
		chunker:  chunker,
		semantic: sem,
	}
}

// Retrieve runs the full hybrid pipeline and returns up to
// opts.MaxResults ranked chunks. It never returns an error: a failed
// sub-path degrades to an empty list for that path, and an unexpected
// panic anywhere in the pipeline falls back to a plain keyword scan.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (results []RankedResult) {
	opts.Clamp()
	if len(query) > maxQueryChars {
		query = query[:maxQueryChars]
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("retrieve_panic_fallback",
				slog.String("query", query),
				slog.Any("panic", rec))
			results = r.grepFallback(ctx, query, opts.MaxResults)
		}
	}()

	start := time.Now()
	results = r.retrieve(ctx, query, opts)
	slog.Info("retrieve_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results
}

func (r *Retriever) retrieve(ctx context.Context, query string, opts Options) []RankedResult {
	exp := r.expander.Expand(ctx, query)
	if exp.OriginalQuery == "" {
		return []RankedResult{}
	}

	scanTerms := append([]string{exp.OriginalQuery}, exp.ExpandedTerms...)
	scanTerms = append(scanTerms, exp.SalientTerms...)
	candidates, err := r.scanner.Scan(ctx, scanTerms, opts.CandidateLimit)
	if err != nil {
		slog.Warn("retrieve_scan_failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return r.grepFallback(ctx, query, opts.MaxResults)
	}
	if len(candidates) == 0 {
		slog.Debug("retrieve_no_candidates", slog.String("query", query))
		return []RankedResult{}
	}

	docs := make([]vault.DocumentInfo, len(candidates))
	candidateSet := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		docs[i] = c.DocumentInfo
		candidateSet[c.Path] = struct{}{}
	}

	chunks, err := r.chunker.GetChunks(ctx, docs)
	if err != nil {
		slog.Warn("retrieve_chunking_failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return r.grepFallback(ctx, query, opts.MaxResults)
	}

	chunkPaths := make(map[string]string, len(chunks))
	for _, c := range chunks {
		chunkPaths[c.ID] = c.DocumentPath
	}

	semanticEnabled := !opts.DisableSemantic && r.semantic != nil && opts.SemanticWeight > 0
	lexicalEnabled := opts.SemanticWeight < 1 || !semanticEnabled

	// Both engines over the same candidate universe; run concurrently
	// and join. Either path failing degrades to an empty list for that
	// path rather than failing the call.
	var lexicalResults, semanticResults []RankedResult
	g, gctx := errgroup.WithContext(ctx)

	if lexicalEnabled {
		g.Go(func() error {
			lexicalResults = r.searchLexical(gctx, chunks, chunkPaths, exp, opts)
			return nil
		})
	}
	if semanticEnabled {
		g.Go(func() error {
			semanticResults = r.searchSemantic(gctx, exp, opts, candidateSet, chunkPaths)
			return nil
		})
	}
	_ = g.Wait()

	if !opts.DisableLexicalBoosts && len(lexicalResults) > 0 {
		ApplyBoosts(ctx, r.store, lexicalResults)
	}

	var fused []RankedResult
	switch {
	case !semanticEnabled:
		fused = lexicalResults
	case !lexicalEnabled:
		fused = semanticResults
	default:
		fused = WeightedRRF(lexicalResults, semanticResults, opts.SemanticWeight, opts.RRFConstant)
	}

	if len(fused) == 0 {
		slog.Info("retrieve_empty",
			slog.String("query", query),
			slog.Int("candidates", len(candidates)),
			slog.Int("chunks", len(chunks)))
		return []RankedResult{}
	}

	NormalizeScores(fused)
	return SelectDiverseTopK(fused, opts.MaxResults)
}

// searchLexical builds the ephemeral full-text index over the candidate
// chunks, searches it, and discards it. Scores are min-max normalized so
// they are comparable with the semantic list at fusion time.
func (r *Retriever) searchLexical(ctx context.Context, chunks []chunk.Chunk, chunkPaths map[string]string, exp expand.Expansion, opts Options) []RankedResult {
	engine := lexical.NewEngine()
	defer engine.Clear()

	if _, err := engine.BuildFromChunks(chunks); err != nil {
		slog.Warn("lexical_build_failed", slog.String("error", err.Error()))
		return nil
	}

	recallQueries := append([]string{}, exp.Queries...)
	for _, t := range exp.ExpandedTerms {
		recallQueries = append(recallQueries, t)
	}
	salient := append([]string{}, exp.SalientTerms...)
	salient = append(salient, opts.SalientTerms...)

	hits, err := engine.Search(ctx, recallQueries, opts.MaxResults*5, salient, exp.OriginalQuery)
	if err != nil {
		slog.Warn("lexical_search_failed", slog.String("error", err.Error()))
		return nil
	}

	results := make([]RankedResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, RankedResult{
			ID:           h.ID,
			DocumentPath: chunkPaths[h.ID],
			Score:        h.Score,
			Engine:       EngineLexical,
		})
	}
	normalizePerEngine(results)
	return results
}

// searchSemantic runs the vector search over the query variants, scoped
// to the candidate set or the whole index per the configured mode.
func (r *Retriever) searchSemantic(ctx context.Context, exp expand.Expansion, opts Options, candidates map[string]struct{}, chunkPaths map[string]string) []RankedResult {
	queries := append([]string{}, exp.Queries...)
	if hyde, ok := r.expander.HyDE(ctx, exp.OriginalQuery); ok {
		queries = append(queries, hyde)
	}

	scope := candidates
	if opts.SemanticMode == SemanticFull {
		scope = nil
	}

	hits, err := r.semantic.Search(ctx, queries, opts.MaxResults*5, scope)
	if err != nil {
		slog.Warn("semantic_search_degraded", slog.String("error", err.Error()))
		return nil
	}

	results := make([]RankedResult, 0, len(hits))
	for _, h := range hits {
		docPath, ok := chunkPaths[h.ID]
		if !ok {
			// Full-index hits can reference documents outside the
			// candidate chunk set; recover the path from the ID.
			docPath, _, _ = chunk.ParseID(h.ID)
		}
		results = append(results, RankedResult{
			ID:           h.ID,
			DocumentPath: docPath,
			Score:        h.Score,
			Engine:       EngineSemantic,
		})
	}
	return results
}

// normalizePerEngine min-max normalizes raw engine scores into [0, 1]
// ahead of fusion. Rank order is unchanged.
func normalizePerEngine(results []RankedResult) {
	if len(results) == 0 {
		return
	}
	minScore, maxScore := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < minScore {
			minScore = r.Score
		}
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	span := maxScore - minScore
	if span < fusionEpsilon {
		return
	}
	for i := range results {
		results[i].Score = (results[i].Score - minScore) / span
	}
}

// grepFallback is the last-resort retrieval path: a raw keyword scan
// ranked by inverse match position. Used when the pipeline itself fails.
func (r *Retriever) grepFallback(ctx context.Context, query string, limit int) []RankedResult {
	hits := r.scanner.Grep(ctx, query, limit)
	results := make([]RankedResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, RankedResult{
			ID:           chunk.ID(h.Doc.Path, 0),
			DocumentPath: h.Doc.Path,
			Score:        1.0 / float64(1+h.Position),
			Engine:       EngineGrep,
			Explanation:  "keyword scan fallback",
		})
	}
	NormalizeScores(results)
	return results
}
