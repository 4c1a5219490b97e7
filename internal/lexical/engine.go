// Package lexical builds an ephemeral in-memory full-text index over the
// chunks of one query's candidate documents and scores recall queries
// against it. The index never covers the whole vault and never outlives a
// retrieval call: Clear discards it, bounding memory to one candidate set.
package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/vaultsearch/internal/chunk"
)

// Boosts applied when assembling the recall query.
const (
	// salientTermBoost weights high-signal terms above plain recall terms.
	salientTermBoost = 2.0

	// exactPhraseBoost weights exact-phrase matches of the original query.
	exactPhraseBoost = 3.0
)

// Result is a scored chunk hit from the lexical index.
type Result struct {
	// ID is the chunk identifier.
	ID string

	// Score is the raw bleve score; comparable only within one search.
	Score float64
}

// chunkDocument is the bleve document shape for one chunk.
type chunkDocument struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Heading string `json:"heading"`
}

// Engine is the ephemeral lexical index for a single retrieval call.
type Engine struct {
	mu    sync.Mutex
	index bleve.Index
	order map[string]int // chunk id -> insertion order, for tie-breaks
	count int
}

// NewEngine creates an empty lexical engine.
func NewEngine() *Engine {
	return &Engine{}
}

// BuildFromChunks indexes the given chunks, replacing any prior index.
// Returns the number of chunks indexed.
func (e *Engine) BuildFromChunks(chunks []chunk.Chunk) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index != nil {
		_ = e.index.Close()
		e.index = nil
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return 0, fmt.Errorf("create in-memory index: %w", err)
	}

	batch := idx.NewBatch()
	order := make(map[string]int, len(chunks))
	for i, c := range chunks {
		if _, dup := order[c.ID]; dup {
			continue
		}
		order[c.ID] = i
		if err := batch.Index(c.ID, chunkDocument{
			Content: c.Content,
			Title:   c.Title,
			Heading: c.Heading,
		}); err != nil {
			_ = idx.Close()
			return 0, fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return 0, fmt.Errorf("commit index batch: %w", err)
	}

	e.index = idx
	e.order = order
	e.count = len(order)

	slog.Debug("lexical_index_built", slog.Int("chunks", e.count))
	return e.count, nil
}

// Count returns the number of indexed chunks.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Search scores the recall queries against the index. Salient terms and
// exact-phrase matches of the original query receive higher weight.
// Results are ordered by score descending, ties broken by the original
// candidate (insertion) order.
func (e *Engine) Search(ctx context.Context, queries []string, limit int, salientTerms []string, originalQuery string) ([]Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index == nil || e.count == 0 {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	q := buildQuery(queries, salientTerms, originalQuery)

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, Result{ID: hit.ID, Score: hit.Score})
	}

	order := e.order
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return order[results[i].ID] < order[results[j].ID]
	})

	return results, nil
}

// buildQuery assembles one disjunction over recall queries, salient terms
// and the exact original phrase.
func buildQuery(queries []string, salientTerms []string, originalQuery string) bquery.Query {
	var parts []bquery.Query

	for _, qs := range queries {
		qs = strings.TrimSpace(qs)
		if qs == "" {
			continue
		}
		mq := bleve.NewMatchQuery(qs)
		parts = append(parts, mq)
	}

	for _, term := range salientTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		tq := bleve.NewMatchQuery(term)
		tq.SetBoost(salientTermBoost)
		parts = append(parts, tq)
	}

	if phrase := strings.TrimSpace(originalQuery); phrase != "" && strings.Contains(phrase, " ") {
		pq := bleve.NewMatchPhraseQuery(phrase)
		pq.SetBoost(exactPhraseBoost)
		parts = append(parts, pq)
	}

	if len(parts) == 0 {
		return bleve.NewMatchNoneQuery()
	}
	return bleve.NewDisjunctionQuery(parts...)
}

// Clear discards the index. The engine is reusable after Clear.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index != nil {
		_ = e.index.Close()
		e.index = nil
	}
	e.order = nil
	e.count = 0
}
