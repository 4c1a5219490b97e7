package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultsearch/internal/chunk"
	"github.com/Aman-CERP/vaultsearch/internal/embed"
	"github.com/Aman-CERP/vaultsearch/internal/expand"
	"github.com/Aman-CERP/vaultsearch/internal/scan"
	"github.com/Aman-CERP/vaultsearch/internal/semantic"
	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

// newTestPipeline builds a full retrieval pipeline over a temp vault with
// deterministic static embeddings, and indexes it.
func newTestPipeline(t *testing.T, notes map[string]string) (*Retriever, *semantic.Manager) {
	t.Helper()

	dir := t.TempDir()
	for path, content := range notes {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	store, err := vault.NewFSVault(dir, []string{".md"})
	require.NoError(t, err)

	chunker := chunk.NewChunker(store, chunk.Options{MaxChars: 400})
	provider := embed.NewStaticProvider()
	manager := semantic.NewManager(store, chunker, provider, semantic.Options{
		IndexPath: filepath.Join(dir, ".vaultsearch", "embeddings.jsonl"),
	})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".vaultsearch"), 0o755))

	_, err = manager.IndexVault(context.Background())
	require.NoError(t, err)

	scanner := scan.NewScanner(store, scan.DefaultScanWidth)
	expander := expand.NewExpander(nil, 0)
	return NewRetriever(store, scanner, expander, chunker, manager), manager
}

func testNotes() map[string]string {
	return map[string]string{
		"projects/alpha.md": "# Alpha\n\nThe alpha project tracks kubernetes deployment automation and rollout strategy.",
		"projects/beta.md":  "# Beta\n\nBeta covers billing reconciliation and invoice exports.",
		"journal/daily.md":  "# Daily\n\nStandup notes about the kubernetes rollout and alpha milestones.",
		"recipes/bread.md":  "# Bread\n\nSourdough starter, hydration ratios, and baking times.",
	}
}

func TestRetrieve_ReturnsRankedResults(t *testing.T) {
	retriever, _ := newTestPipeline(t, testNotes())

	results := retriever.Retrieve(context.Background(), "kubernetes rollout", DefaultOptions())

	require.NotEmpty(t, results)
	paths := map[string]bool{}
	for _, r := range results {
		paths[r.DocumentPath] = true
		assert.GreaterOrEqual(t, r.Score, 0.02)
		assert.LessOrEqual(t, r.Score, 0.98)
		doc, _, ok := chunk.ParseID(r.ID)
		require.True(t, ok)
		assert.Equal(t, r.DocumentPath, doc)
	}
	assert.True(t, paths["projects/alpha.md"] || paths["journal/daily.md"])
	assert.False(t, paths["recipes/bread.md"])
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	retriever, _ := newTestPipeline(t, testNotes())

	results := retriever.Retrieve(context.Background(), "   ", DefaultOptions())

	assert.Empty(t, results)
}

func TestRetrieve_LexicalOnly(t *testing.T) {
	retriever, _ := newTestPipeline(t, testNotes())

	opts := DefaultOptions()
	opts.SemanticWeight = 0

	results := retriever.Retrieve(context.Background(), "billing invoice", opts)

	require.NotEmpty(t, results)
	assert.Equal(t, "projects/beta.md", results[0].DocumentPath)
	for _, r := range results {
		assert.Equal(t, EngineLexical, r.Engine)
	}
}

func TestRetrieve_SemanticOnly(t *testing.T) {
	retriever, _ := newTestPipeline(t, testNotes())

	opts := DefaultOptions()
	opts.SemanticWeight = 1.0

	results := retriever.Retrieve(context.Background(), "kubernetes deployment", opts)

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, EngineSemantic, r.Engine)
	}
}

func TestRetrieve_HashtagQueryReachesContent(t *testing.T) {
	// A note mentioning only the leaf tag segment is still found because
	// hashtag expansion feeds "alpha" to the candidate scan and engines.
	retriever, _ := newTestPipeline(t, testNotes())

	results := retriever.Retrieve(context.Background(), "#Project/Alpha update", DefaultOptions())

	require.NotEmpty(t, results)
	paths := map[string]bool{}
	for _, r := range results {
		paths[r.DocumentPath] = true
	}
	assert.True(t, paths["projects/alpha.md"] || paths["journal/daily.md"])
}

func TestRetrieve_CandidateRestrictedSemanticMode(t *testing.T) {
	// Candidate mode: vector hits must come from candidate documents,
	// so a note without any query term never surfaces.
	retriever, _ := newTestPipeline(t, testNotes())

	opts := DefaultOptions()
	opts.SemanticMode = SemanticCandidates

	results := retriever.Retrieve(context.Background(), "sourdough hydration", opts)

	for _, r := range results {
		assert.Equal(t, "recipes/bread.md", r.DocumentPath)
	}
}

func TestRetrieve_FullIndexSemanticMode(t *testing.T) {
	retriever, _ := newTestPipeline(t, testNotes())

	opts := DefaultOptions()
	opts.SemanticMode = SemanticFull
	opts.SemanticWeight = 1.0

	results := retriever.Retrieve(context.Background(), "kubernetes", opts)

	// Full mode searches the whole persistent index; results may span
	// documents outside the candidate set but still resolve paths.
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEmpty(t, r.DocumentPath)
	}
}

func TestRetrieve_MaxResultsClamped(t *testing.T) {
	retriever, _ := newTestPipeline(t, testNotes())

	opts := DefaultOptions()
	opts.MaxResults = 100000

	results := retriever.Retrieve(context.Background(), "notes", opts)

	assert.LessOrEqual(t, len(results), MaxResults)
}

// failingStore errors on every call, driving the fallback path.
type failingStore struct{}

func (failingStore) ListDocuments(context.Context) ([]vault.DocumentInfo, error) {
	return nil, errors.New("store offline")
}
func (failingStore) ReadDocument(context.Context, string) (string, error) {
	return "", errors.New("store offline")
}
func (failingStore) GetHeadings(context.Context, string) ([]vault.Heading, error) {
	return nil, errors.New("store offline")
}
func (failingStore) GetOutgoingLinks(context.Context, string) ([]string, error) {
	return nil, errors.New("store offline")
}
func (failingStore) GetBacklinks(context.Context, string) ([]string, error) {
	return nil, errors.New("store offline")
}

func TestRetrieve_NeverErrorsOnStoreFailure(t *testing.T) {
	store := failingStore{}
	chunker := chunk.NewChunker(store, chunk.Options{MaxChars: 400})
	scanner := scan.NewScanner(store, scan.DefaultScanWidth)
	expander := expand.NewExpander(nil, 0)
	retriever := NewRetriever(store, scanner, expander, chunker, nil)

	var results []RankedResult
	assert.NotPanics(t, func() {
		results = retriever.Retrieve(context.Background(), "anything", DefaultOptions())
	})
	assert.Empty(t, results)
}
