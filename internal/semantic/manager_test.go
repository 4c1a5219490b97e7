package semantic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultsearch/internal/chunk"
	"github.com/Aman-CERP/vaultsearch/internal/embed"
	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

// countingProvider counts embedding calls on top of a real provider.
type countingProvider struct {
	inner embed.Provider
	calls atomic.Int64
}

func (p *countingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	return p.inner.EmbedDocuments(ctx, texts)
}

func (p *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	return p.inner.EmbedQuery(ctx, text)
}

func (p *countingProvider) Dimensions() int   { return p.inner.Dimensions() }
func (p *countingProvider) ModelName() string { return p.inner.ModelName() }
func (p *countingProvider) Close() error      { return p.inner.Close() }

var _ embed.Provider = (*countingProvider)(nil)

// testVault is a mutable in-memory vault with controllable mtimes.
type testVault struct {
	docs   map[string]string
	mtimes map[string]time.Time
}

func newTestVault() *testVault {
	return &testVault{docs: map[string]string{}, mtimes: map[string]time.Time{}}
}

func (v *testVault) put(path, content string, mtime time.Time) {
	v.docs[path] = content
	v.mtimes[path] = mtime
}

func (v *testVault) remove(path string) {
	delete(v.docs, path)
	delete(v.mtimes, path)
}

func (v *testVault) ListDocuments(context.Context) ([]vault.DocumentInfo, error) {
	var infos []vault.DocumentInfo
	for path := range v.docs {
		infos = append(infos, vault.DocumentInfo{Path: path, MTime: v.mtimes[path]})
	}
	return infos, nil
}

func (v *testVault) ReadDocument(_ context.Context, path string) (string, error) {
	content, ok := v.docs[path]
	if !ok {
		return "", errors.New("not found")
	}
	return content, nil
}

func (v *testVault) GetHeadings(context.Context, string) ([]vault.Heading, error) {
	return nil, nil
}
func (v *testVault) GetOutgoingLinks(context.Context, string) ([]string, error) { return nil, nil }
func (v *testVault) GetBacklinks(context.Context, string) ([]string, error)     { return nil, nil }

var _ vault.Store = (*testVault)(nil)

func newTestManager(t *testing.T, v *testVault) (*Manager, *countingProvider) {
	t.Helper()
	provider := &countingProvider{inner: embed.NewStaticProvider()}
	chunker := chunk.NewChunker(v, chunk.Options{MaxChars: 400})
	manager := NewManager(v, chunker, provider, Options{
		IndexPath: filepath.Join(t.TempDir(), "embeddings.jsonl"),
	})
	return manager, provider
}

func TestManager_StateTransitions(t *testing.T) {
	v := newTestVault()
	manager, _ := newTestManager(t, v)

	assert.Equal(t, StateUnloaded, manager.State())

	require.NoError(t, manager.Open(context.Background()))
	assert.Equal(t, StateEmpty, manager.State())

	v.put("note.md", "some content worth indexing", time.Unix(1000, 0))
	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, manager.State())

	require.NoError(t, manager.Close())
	assert.Equal(t, StateUnloaded, manager.State())
}

func TestManager_IndexVaultPersistsAndReloads(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "kubernetes deployment rollout automation", time.Unix(1000, 0))
	v.put("b.md", "sourdough bread hydration ratios", time.Unix(1000, 0))

	provider := &countingProvider{inner: embed.NewStaticProvider()}
	chunker := chunk.NewChunker(v, chunk.Options{MaxChars: 400})
	indexPath := filepath.Join(t.TempDir(), "embeddings.jsonl")
	manager := NewManager(v, chunker, provider, Options{IndexPath: indexPath})

	count, err := manager.IndexVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A fresh manager over the same file loads the persisted records.
	reloaded := NewManager(v, chunker, provider, Options{IndexPath: indexPath})
	require.NoError(t, reloaded.Open(context.Background()))
	stats := reloaded.Stats()
	assert.Equal(t, StateReady, stats.State)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.Documents)
}

func TestManager_IncrementalUnchangedVaultZeroEmbedCalls(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "first note content", time.Unix(1000, 0))
	v.put("b.md", "second note content", time.Unix(1000, 0))
	manager, provider := newTestManager(t, v)

	count, err := manager.IndexVault(context.Background())
	require.NoError(t, err)
	callsAfterFull := provider.calls.Load()

	// When: re-running incrementally over an unchanged vault
	again, err := manager.IndexVaultIncremental(context.Background())
	require.NoError(t, err)

	// Then: same chunk count, zero additional embedding calls
	assert.Equal(t, count, again)
	assert.Equal(t, callsAfterFull, provider.calls.Load())
}

func TestManager_IncrementalReembedsModifiedDocuments(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "original content", time.Unix(1000, 0))
	v.put("b.md", "untouched content", time.Unix(1000, 0))
	manager, provider := newTestManager(t, v)

	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)
	callsAfterFull := provider.calls.Load()

	v.put("a.md", "rewritten content entirely", time.Unix(2000, 0))

	count, err := manager.IndexVaultIncremental(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	// Exactly one document re-embedded.
	assert.Equal(t, callsAfterFull+1, provider.calls.Load())
}

func TestManager_IncrementalDropsRemovedDocuments(t *testing.T) {
	v := newTestVault()
	v.put("keep.md", "this one stays", time.Unix(1000, 0))
	v.put("gone.md", "this one goes away", time.Unix(1000, 0))
	manager, _ := newTestManager(t, v)

	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)

	v.remove("gone.md")

	count, err := manager.IndexVaultIncremental(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, count)
	stats := manager.Stats()
	assert.Equal(t, 1, stats.Documents)
}

func TestManager_ReindexDocumentReplacesOnlyThatDocument(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "alpha content", time.Unix(1000, 0))
	v.put("b.md", "beta content", time.Unix(1000, 0))
	manager, provider := newTestManager(t, v)

	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)
	callsAfterFull := provider.calls.Load()

	v.put("a.md", "alpha content updated substantially", time.Unix(2000, 0))
	require.NoError(t, manager.ReindexDocument(context.Background(), "a.md"))

	assert.Equal(t, callsAfterFull+1, provider.calls.Load())
	assert.Equal(t, 2, manager.Stats().Records)
}

func TestManager_ReindexRemovedDocumentDropsRecords(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "alpha content", time.Unix(1000, 0))
	manager, _ := newTestManager(t, v)

	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)

	v.remove("a.md")
	require.NoError(t, manager.ReindexDocument(context.Background(), "a.md"))

	assert.Equal(t, 0, manager.Stats().Records)
	assert.Equal(t, StateEmpty, manager.State())
}

func TestManager_SearchRestrictedToCandidates(t *testing.T) {
	v := newTestVault()
	v.put("infra/k8s.md", "kubernetes cluster upgrade runbook", time.Unix(1000, 0))
	v.put("food/bread.md", "sourdough starter feeding schedule", time.Unix(1000, 0))
	manager, _ := newTestManager(t, v)

	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)

	candidates := map[string]struct{}{"infra/k8s.md": {}}
	hits, err := manager.Search(context.Background(), []string{"kubernetes upgrade"}, 10, candidates)
	require.NoError(t, err)

	require.NotEmpty(t, hits)
	for _, hit := range hits {
		path, _, ok := chunk.ParseID(hit.ID)
		require.True(t, ok)
		assert.Equal(t, "infra/k8s.md", path)
	}
}

func TestManager_SearchFullIndexMode(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "kubernetes cluster upgrade runbook", time.Unix(1000, 0))
	v.put("b.md", "sourdough starter feeding schedule", time.Unix(1000, 0))
	manager, _ := newTestManager(t, v)

	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)

	// nil candidates = unrestricted search over the whole index.
	hits, err := manager.Search(context.Background(), []string{"kubernetes"}, 10, nil)
	require.NoError(t, err)

	assert.Len(t, hits, 2)
}

func TestManager_SearchEmptyIndex(t *testing.T) {
	manager, _ := newTestManager(t, newTestVault())

	hits, err := manager.Search(context.Background(), []string{"anything"}, 10, nil)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestManager_MissingIndexFileIsEmptyNotError(t *testing.T) {
	v := newTestVault()
	provider := &countingProvider{inner: embed.NewStaticProvider()}
	chunker := chunk.NewChunker(v, chunk.Options{MaxChars: 400})
	manager := NewManager(v, chunker, provider, Options{
		IndexPath: filepath.Join(t.TempDir(), "nope", "missing.jsonl"),
	})

	require.NoError(t, manager.Open(context.Background()))
	assert.Equal(t, StateEmpty, manager.State())
}

func TestManager_CancelledIndexKeepsPersistedBatches(t *testing.T) {
	v := newTestVault()
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		v.put(p, "note content for "+p, time.Unix(1000, 0))
	}
	manager, _ := newTestManager(t, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.IndexVault(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_PauseBlocksUntilResume(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "some content", time.Unix(1000, 0))
	manager, _ := newTestManager(t, v)

	manager.Pause()

	done := make(chan struct{})
	go func() {
		_, _ = manager.IndexVault(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("indexing should block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	manager.Resume()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("indexing did not resume")
	}
}

func TestManager_ProgressReported(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "alpha", time.Unix(1000, 0))
	v.put("b.md", "beta", time.Unix(1000, 0))

	var completed atomic.Int64
	provider := &countingProvider{inner: embed.NewStaticProvider()}
	chunker := chunk.NewChunker(v, chunk.Options{MaxChars: 400})
	manager := NewManager(v, chunker, provider, Options{
		IndexPath: filepath.Join(t.TempDir(), "embeddings.jsonl"),
		Progress: func(done, total int) {
			completed.Store(int64(done))
			assert.Equal(t, 2, total)
		},
	})

	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), completed.Load())
}

func TestLoadRecords_CorruptLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.jsonl")
	content := `{"id":"a.md#0","path":"a.md","title":"a","mtime":1000,"ctime":1000,"embedding":[0.1,0.2]}
not json at all
{"id":"b.md#0","path":"b.md","title":"b","mtime":1000,"ctime":1000,"embedding":[0.3,0.4]}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records := loadRecords(path)

	require.Len(t, records, 2)
	assert.Equal(t, "a.md#0", records[0].ID)
	assert.Equal(t, "b.md#0", records[1].ID)
}

func TestSaveRecords_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.jsonl")
	records := []ChunkRecord{
		{ID: "a.md#0", Path: "a.md", Title: "a", MTime: 1000, CTime: 2000, Embedding: []float32{0.5, 0.5}},
	}

	require.NoError(t, saveRecords(path, records))
	loaded := loadRecords(path)

	require.Len(t, loaded, 1)
	assert.Equal(t, records[0].ID, loaded[0].ID)
	assert.Equal(t, records[0].MTime, loaded[0].MTime)
	assert.Equal(t, records[0].Embedding, loaded[0].Embedding)
}

func TestManager_SearchDuringInitialLoadWaits(t *testing.T) {
	// Given a manager with a persisted index whose initial load is in flight
	v := newTestVault()
	v.put("a.md", "kubernetes deployment rollout automation", time.Unix(1000, 0))
	manager, _ := newTestManager(t, v)
	_, err := manager.IndexVault(context.Background())
	require.NoError(t, err)
	require.NoError(t, manager.Close())

	done := make(chan struct{})
	manager.mu.Lock()
	manager.state = StateLoading
	manager.loadDone = done
	manager.mu.Unlock()

	// When a search arrives before the load completes
	type outcome struct {
		hits []VectorHit
		err  error
	}
	searched := make(chan outcome, 1)
	go func() {
		hits, err := manager.Search(context.Background(), []string{"kubernetes"}, 5, nil)
		searched <- outcome{hits: hits, err: err}
	}()

	select {
	case <-searched:
		t.Fatal("search returned before the load completed")
	case <-time.After(50 * time.Millisecond):
	}

	// Then it completes against the fully loaded index once the load ends
	manager.install(loadRecords(manager.opts.IndexPath))
	close(done)

	select {
	case out := <-searched:
		require.NoError(t, out.err)
		assert.NotEmpty(t, out.hits)
	case <-time.After(2 * time.Second):
		t.Fatal("search did not complete after the load finished")
	}
}

func TestManager_ConcurrentColdSearchesShareOneLoad(t *testing.T) {
	v := newTestVault()
	v.put("a.md", "kubernetes deployment rollout automation", time.Unix(1000, 0))
	v.put("b.md", "sourdough bread hydration ratios", time.Unix(1000, 0))

	provider := &countingProvider{inner: embed.NewStaticProvider()}
	chunker := chunk.NewChunker(v, chunk.Options{MaxChars: 400})
	indexPath := filepath.Join(t.TempDir(), "embeddings.jsonl")
	seed := NewManager(v, chunker, provider, Options{IndexPath: indexPath})
	_, err := seed.IndexVault(context.Background())
	require.NoError(t, err)

	// Given a cold manager over the persisted index
	cold := NewManager(v, chunker, provider, Options{IndexPath: indexPath})

	// When many searches race the initial load
	const searchers = 8
	var wg sync.WaitGroup
	errs := make([]error, searchers)
	hits := make([][]VectorHit, searchers)
	for i := 0; i < searchers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hits[i], errs[i] = cold.Search(context.Background(), []string{"kubernetes"}, 5, nil)
		}(i)
	}
	wg.Wait()

	// Then every search sees the loaded index, none an empty half-built one
	for i := 0; i < searchers; i++ {
		require.NoError(t, errs[i])
		assert.NotEmpty(t, hits[i])
	}
	assert.Equal(t, StateReady, cold.State())
}

func TestManager_EnsureLoadedWaiterHonoursCancellation(t *testing.T) {
	v := newTestVault()
	manager, _ := newTestManager(t, v)

	done := make(chan struct{})
	manager.mu.Lock()
	manager.state = StateLoading
	manager.loadDone = done
	manager.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := manager.EnsureLoaded(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(done)
}

func TestAppendRecords_Accumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.jsonl")

	require.NoError(t, appendRecords(path, []ChunkRecord{{ID: "a.md#0", Path: "a.md", Embedding: []float32{1}}}))
	require.NoError(t, appendRecords(path, []ChunkRecord{{ID: "b.md#0", Path: "b.md", Embedding: []float32{1}}}))

	assert.Len(t, loadRecords(path), 2)
}
