// Package semantic owns the persistent chunk-embedding index: building and
// loading it, similarity search over it, and full and incremental
// re-indexing with rate-limited batched embedding calls.
//
// The Manager is an explicitly constructed, dependency-injected service
// owned by the host process (no hidden singleton); its lifecycle is
// Open/Close. Concurrent IndexVault* calls are not supported and must be
// serialized by the caller; Search is safe concurrently with itself.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/vaultsearch/internal/chunk"
	"github.com/Aman-CERP/vaultsearch/internal/embed"
	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

// State is the manager's lifecycle state.
type State int

const (
	// StateUnloaded means the persisted index has not been read yet.
	StateUnloaded State = iota
	// StateLoading means the persisted index is being read.
	StateLoading
	// StateEmpty means the index loaded with zero records.
	StateEmpty
	// StateReady means the index is loaded and searchable.
	StateReady
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	// insertBatchSize bounds peak memory while rebuilding the vector
	// store from persisted records.
	insertBatchSize = 1000

	// searchFloorK is the minimum per-variant neighbor count.
	searchFloorK = 100

	// topScoresPerChunk is how many per-variant scores are averaged into
	// a chunk's aggregate score.
	topScoresPerChunk = 3

	// normalizeEpsilon guards min-max normalization against a
	// divide-by-near-zero score range.
	normalizeEpsilon = 1e-9
)

// Options configures the Manager.
type Options struct {
	// IndexPath is the JSON-lines index file location.
	IndexPath string

	// BatchSize is the number of chunk texts per embedding call.
	BatchSize int

	// Progress, when set, receives coarse indexing progress.
	Progress func(completed, total int)
}

// Stats describes the loaded index.
type Stats struct {
	State      State
	Records    int
	Documents  int
	Dimensions int
}

// Manager owns the persistent semantic index for one vault.
type Manager struct {
	store    vault.Store
	chunker  *chunk.Chunker
	provider embed.Provider
	opts     Options

	gate *gate

	mu       sync.RWMutex
	state    State
	loadDone chan struct{}
	records  []ChunkRecord
	vectors  *vectorStore
}

// NewManager creates a semantic index manager. The provider is expected to
// already be wrapped with the shared rate limiter.
func NewManager(store vault.Store, chunker *chunk.Chunker, provider embed.Provider, opts Options) *Manager {
	if opts.BatchSize <= 0 {
		opts.BatchSize = embed.DefaultBatchSize
	}
	if opts.BatchSize > embed.MaxBatchSize {
		opts.BatchSize = embed.MaxBatchSize
	}
	return &Manager{
		store:    store,
		chunker:  chunker,
		provider: provider,
		opts:     opts,
		gate:     newGate(),
		state:    StateUnloaded,
	}
}

// Open loads the persisted index. Equivalent to EnsureLoaded.
func (m *Manager) Open(ctx context.Context) error {
	return m.EnsureLoaded(ctx)
}

// Close releases in-memory state. The persisted index remains on disk.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.vectors = nil
	m.state = StateUnloaded
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns index statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make(map[string]struct{})
	for i := range m.records {
		docs[m.records[i].Path] = struct{}{}
	}
	return Stats{
		State:      m.state,
		Records:    len(m.records),
		Documents:  len(docs),
		Dimensions: m.provider.Dimensions(),
	}
}

// EnsureLoaded reads the persisted records and builds the in-memory vector
// store, inserting in fixed-size batches to bound peak memory. A missing
// or unreadable index file yields an empty index, never an error to the
// caller. Concurrent callers during the initial load block until the
// loading caller finishes rather than observing a half-built index.
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateLoading {
		done := m.loadDone
		m.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.state != StateUnloaded {
		m.mu.Unlock()
		return nil
	}
	m.state = StateLoading
	done := make(chan struct{})
	m.loadDone = done
	m.mu.Unlock()

	start := time.Now()
	records := loadRecords(m.opts.IndexPath)
	vectors, kept := m.buildVectors(ctx, records)

	m.mu.Lock()
	m.records = kept
	m.vectors = vectors
	if len(kept) == 0 {
		m.state = StateEmpty
	} else {
		m.state = StateReady
	}
	state := m.state
	close(done)
	m.mu.Unlock()

	slog.Info("semantic_index_loaded",
		slog.String("path", m.opts.IndexPath),
		slog.Int("records", len(kept)),
		slog.String("state", state.String()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// buildVectors constructs a vector store from records, dropping records
// whose dimension doesn't match the provider (stale index after a model
// change).
func (m *Manager) buildVectors(ctx context.Context, records []ChunkRecord) (*vectorStore, []ChunkRecord) {
	dims := m.provider.Dimensions()
	vectors := newVectorStore(dims)

	kept := make([]ChunkRecord, 0, len(records))
	ids := make([]string, 0, insertBatchSize)
	vecs := make([][]float32, 0, insertBatchSize)

	flush := func() {
		if len(ids) == 0 {
			return
		}
		if err := vectors.Add(ids, vecs); err != nil {
			slog.Warn("semantic_index_insert_failed", slog.String("error", err.Error()))
		}
		ids = ids[:0]
		vecs = vecs[:0]
	}

	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		if len(rec.Embedding) != dims {
			slog.Debug("semantic_index_dimension_skip",
				slog.String("id", rec.ID),
				slog.Int("got", len(rec.Embedding)),
				slog.Int("want", dims))
			continue
		}
		kept = append(kept, *rec)
		ids = append(ids, rec.ID)
		vecs = append(vecs, rec.Embedding)
		if len(ids) >= insertBatchSize {
			flush()
		}
	}
	flush()

	return vectors, kept
}

// Search embeds each query variant, runs similarity search per variant,
// aggregates multiple hits for the same chunk by averaging its top-3
// scores across variants, min-max normalizes the aggregate scores, and
// returns the top topK hits.
//
// candidates, when non-nil, restricts hits to chunks of those document
// paths (candidate-restricted mode); nil searches the whole persistent
// index (independent mode).
func (m *Manager) Search(ctx context.Context, queries []string, topK int, candidates map[string]struct{}) ([]VectorHit, error) {
	if err := m.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []VectorHit{}, nil
	}

	m.mu.RLock()
	vectors := m.vectors
	m.mu.RUnlock()

	if vectors == nil {
		return []VectorHit{}, nil
	}
	total := vectors.Count()
	if total == 0 {
		return []VectorHit{}, nil
	}

	k := topK * 3
	if k < searchFloorK {
		k = searchFloorK
	}
	if k > total {
		k = total
	}

	perChunk := make(map[string][]float64)
	for _, q := range queries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vec, err := m.provider.EmbedQuery(ctx, q)
		if err != nil {
			slog.Debug("semantic_query_embed_failed",
				slog.String("query", q),
				slog.String("error", err.Error()))
			continue
		}
		hits, err := vectors.Search(vec, k)
		if err != nil {
			slog.Debug("semantic_search_failed", slog.String("error", err.Error()))
			continue
		}
		for _, hit := range hits {
			if candidates != nil {
				docPath, _, ok := chunk.ParseID(hit.ID)
				if !ok {
					continue
				}
				if _, in := candidates[docPath]; !in {
					continue
				}
			}
			perChunk[hit.ID] = append(perChunk[hit.ID], hit.Score)
		}
	}

	results := aggregateScores(perChunk)
	normalizeScores(results)

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// aggregateScores averages each chunk's top-3 scores and sorts the result
// set descending by score, ties broken by chunk ID for determinism.
func aggregateScores(perChunk map[string][]float64) []VectorHit {
	results := make([]VectorHit, 0, len(perChunk))
	for id, scores := range perChunk {
		sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
		n := len(scores)
		if n > topScoresPerChunk {
			n = topScoresPerChunk
		}
		var sum float64
		for _, s := range scores[:n] {
			sum += s
		}
		results = append(results, VectorHit{ID: id, Score: sum / float64(n)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// normalizeScores min-max normalizes aggregate scores across the whole
// result set. Skipped when the score range is below epsilon to avoid a
// divide-by-near-zero.
func normalizeScores(results []VectorHit) {
	if len(results) == 0 {
		return
	}
	minScore, maxScore := math.Inf(1), math.Inf(-1)
	for _, r := range results {
		minScore = math.Min(minScore, r.Score)
		maxScore = math.Max(maxScore, r.Score)
	}
	if maxScore-minScore < normalizeEpsilon {
		return
	}
	for i := range results {
		results[i].Score = (results[i].Score - minScore) / (maxScore - minScore)
	}
}

// Pause blocks indexing at the next batch boundary until Resume.
func (m *Manager) Pause() { m.gate.pause() }

// Resume releases a paused indexing run.
func (m *Manager) Resume() { m.gate.resume() }

// IndexVault rebuilds the whole semantic index: every chunk of every
// document is embedded. Batches already written survive cancellation
// (at-least-once semantics); the index file is reset at the start.
// Returns the number of chunks indexed.
func (m *Manager) IndexVault(ctx context.Context) (int, error) {
	if err := m.EnsureLoaded(ctx); err != nil {
		return 0, err
	}

	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		slog.Error("index_vault_list_failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("list documents: %w", err)
	}

	// Reset the on-disk index; batches are appended as they complete.
	if err := saveRecords(m.opts.IndexPath, nil); err != nil {
		slog.Error("index_vault_reset_failed", slog.String("error", err.Error()))
		return 0, err
	}

	var all []ChunkRecord
	total := len(docs)
	for i, doc := range docs {
		if err := m.checkpoint(ctx); err != nil {
			m.install(all)
			return len(all), err
		}

		records, err := m.embedDocument(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				m.install(all)
				return len(all), ctx.Err()
			}
			slog.Warn("index_vault_document_failed",
				slog.String("path", doc.Path),
				slog.String("error", err.Error()))
			continue
		}
		if len(records) > 0 {
			if err := appendRecords(m.opts.IndexPath, records); err != nil {
				slog.Error("index_vault_persist_failed",
					slog.String("path", doc.Path),
					slog.String("error", err.Error()))
				m.install(all)
				return len(all), err
			}
			all = append(all, records...)
		}
		m.reportProgress(i+1, total)
	}

	m.install(all)
	slog.Info("index_vault_complete",
		slog.Int("documents", total),
		slog.Int("chunks", len(all)))
	return len(all), nil
}

// IndexVaultIncremental diffs the current document set against the last
// indexed state: new and materially modified documents are re-embedded,
// removed documents' records are dropped, everything else is kept
// verbatim. An unchanged vault performs zero embedding calls. Returns the
// resulting chunk count.
func (m *Manager) IndexVaultIncremental(ctx context.Context) (int, error) {
	if err := m.EnsureLoaded(ctx); err != nil {
		return 0, err
	}

	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		slog.Error("index_incremental_list_failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("list documents: %w", err)
	}

	m.mu.RLock()
	indexedMTime := make(map[string]int64)
	byPath := make(map[string][]ChunkRecord)
	for i := range m.records {
		rec := m.records[i]
		byPath[rec.Path] = append(byPath[rec.Path], rec)
		if rec.MTime > indexedMTime[rec.Path] {
			indexedMTime[rec.Path] = rec.MTime
		}
	}
	m.mu.RUnlock()

	current := make(map[string]struct{}, len(docs))
	var stale []vault.DocumentInfo
	for _, doc := range docs {
		current[doc.Path] = struct{}{}
		prev, indexed := indexedMTime[doc.Path]
		// Persisted mtimes carry Unix-second granularity; compare at
		// the same resolution.
		if !indexed || doc.MTime.Unix() > prev {
			stale = append(stale, doc)
		}
	}

	removed := 0
	for path := range byPath {
		if _, ok := current[path]; !ok {
			removed++
		}
	}

	if len(stale) == 0 && removed == 0 {
		m.mu.RLock()
		count := len(m.records)
		m.mu.RUnlock()
		slog.Info("index_incremental_no_changes", slog.Int("chunks", count))
		return count, nil
	}

	// Keep verbatim records of unchanged, still-present documents.
	staleSet := make(map[string]struct{}, len(stale))
	for _, doc := range stale {
		staleSet[doc.Path] = struct{}{}
	}
	var merged []ChunkRecord
	for path, recs := range byPath {
		if _, gone := current[path]; !gone {
			continue
		}
		if _, isStale := staleSet[path]; isStale {
			continue
		}
		merged = append(merged, recs...)
	}

	total := len(stale)
	embedded := 0
	for i, doc := range stale {
		if err := m.checkpoint(ctx); err != nil {
			return 0, err
		}
		records, err := m.embedDocument(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			slog.Warn("index_incremental_document_failed",
				slog.String("path", doc.Path),
				slog.String("error", err.Error()))
			// Keep the prior records for this document rather than
			// losing it from the index entirely.
			merged = append(merged, byPath[doc.Path]...)
			continue
		}
		merged = append(merged, records...)
		embedded++
		m.reportProgress(i+1, total)
	}

	sortRecords(merged)
	if err := saveRecords(m.opts.IndexPath, merged); err != nil {
		slog.Error("index_incremental_persist_failed", slog.String("error", err.Error()))
		return 0, err
	}
	m.install(merged)

	slog.Info("index_incremental_complete",
		slog.Int("reembedded_documents", embedded),
		slog.Int("removed_documents", removed),
		slog.Int("chunks", len(merged)))
	return len(merged), nil
}

// ReindexDocument replaces a single document's records. A document no
// longer present in the vault simply has its records dropped.
func (m *Manager) ReindexDocument(ctx context.Context, path string) error {
	if err := m.EnsureLoaded(ctx); err != nil {
		return err
	}

	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	var target *vault.DocumentInfo
	for i := range docs {
		if docs[i].Path == path {
			target = &docs[i]
			break
		}
	}

	var fresh []ChunkRecord
	if target != nil {
		fresh, err = m.embedDocument(ctx, *target)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", path, err)
		}
	}

	m.mu.RLock()
	merged := make([]ChunkRecord, 0, len(m.records)+len(fresh))
	for i := range m.records {
		if m.records[i].Path != path {
			merged = append(merged, m.records[i])
		}
	}
	m.mu.RUnlock()
	merged = append(merged, fresh...)

	sortRecords(merged)
	if err := saveRecords(m.opts.IndexPath, merged); err != nil {
		return err
	}
	m.install(merged)

	slog.Info("reindex_document_complete",
		slog.String("path", path),
		slog.Int("chunks", len(fresh)))
	return nil
}

// embedDocument chunks one document and embeds its chunks in batches.
func (m *Manager) embedDocument(ctx context.Context, doc vault.DocumentInfo) ([]ChunkRecord, error) {
	chunks := m.chunker.ChunkDocument(ctx, doc)
	if len(chunks) == 0 {
		return nil, nil
	}

	now := time.Now().Unix()
	records := make([]ChunkRecord, 0, len(chunks))

	for start := 0; start < len(chunks); start += m.opts.BatchSize {
		if err := m.checkpoint(ctx); err != nil {
			return nil, err
		}
		end := start + m.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vecs, err := m.provider.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vecs))
		}

		for i, c := range batch {
			records = append(records, ChunkRecord{
				ID:        c.ID,
				Path:      c.DocumentPath,
				Title:     c.Title,
				MTime:     c.MTime.Unix(),
				CTime:     now,
				Embedding: vecs[i],
			})
		}
	}

	return records, nil
}

// checkpoint is the cooperative cancellation and pause point between
// batches: a pause blocks here on the gate, a cancel returns the context
// error.
func (m *Manager) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.gate.wait(ctx)
}

// install swaps the in-memory record set and vector store.
func (m *Manager) install(records []ChunkRecord) {
	vectors, kept := m.buildVectors(context.Background(), records)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = kept
	m.vectors = vectors
	if len(kept) == 0 {
		m.state = StateEmpty
	} else {
		m.state = StateReady
	}
}

// reportProgress invokes the progress callback when configured.
func (m *Manager) reportProgress(completed, total int) {
	if m.opts.Progress != nil {
		m.opts.Progress(completed, total)
	}
}

// sortRecords orders records by path then chunk index for stable files.
func sortRecords(records []ChunkRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Path != records[j].Path {
			return records[i].Path < records[j].Path
		}
		_, ii, _ := chunk.ParseID(records[i].ID)
		_, ij, _ := chunk.ParseID(records[j].ID)
		return ii < ij
	})
}
