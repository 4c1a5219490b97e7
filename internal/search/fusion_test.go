package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

func makeResults(engine ResultEngine, ids []string, scores []float64) []RankedResult {
	results := make([]RankedResult, len(ids))
	for i, id := range ids {
		score := 1.0
		if i < len(scores) {
			score = scores[i]
		}
		doc := id
		if j := indexByte(id, '#'); j >= 0 {
			doc = id[:j]
		}
		results[i] = RankedResult{ID: id, DocumentPath: doc, Score: score, Engine: engine}
	}
	return results
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func resultIDs(results []RankedResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func rankOf(results []RankedResult, id string) int {
	for i, r := range results {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// --- Weighted RRF ---

func TestWeightedRRF_Basic(t *testing.T) {
	// Given: overlapping lexical and semantic lists
	lex := makeResults(EngineLexical, []string{"a.md#0", "b.md#0", "c.md#0"}, []float64{1.0, 0.8, 0.6})
	sem := makeResults(EngineSemantic, []string{"c.md#0", "a.md#0", "d.md#0"}, []float64{0.95, 0.9, 0.85})

	// When: fusing with default weight and k
	fused := WeightedRRF(lex, sem, 0.6, 60)

	// Then: every contributing chunk appears exactly once, tagged fused
	require.Len(t, fused, 4)
	ids := resultIDs(fused)
	assert.Contains(t, ids, "a.md#0")
	assert.Contains(t, ids, "b.md#0")
	assert.Contains(t, ids, "c.md#0")
	assert.Contains(t, ids, "d.md#0")
	for _, r := range fused {
		assert.Equal(t, EngineFused, r.Engine)
	}

	// Chunks in both lists outrank single-list chunks
	assert.Less(t, rankOf(fused, "a.md#0"), rankOf(fused, "b.md#0"))
	assert.Less(t, rankOf(fused, "c.md#0"), rankOf(fused, "d.md#0"))
}

func TestWeightedRRF_FullSemanticWeightIsIdentity(t *testing.T) {
	lex := makeResults(EngineLexical, []string{"a.md#0", "b.md#0"}, nil)
	sem := makeResults(EngineSemantic, []string{"c.md#0", "d.md#0"}, []float64{0.9, 0.4})

	fused := WeightedRRF(lex, sem, 1.0, 60)

	// The semantic list passes through untouched, no fusion artifacts.
	assert.Equal(t, sem, fused)
}

func TestWeightedRRF_ZeroSemanticWeightIsIdentity(t *testing.T) {
	lex := makeResults(EngineLexical, []string{"a.md#0", "b.md#0"}, []float64{0.7, 0.2})
	sem := makeResults(EngineSemantic, []string{"c.md#0"}, nil)

	fused := WeightedRRF(lex, sem, 0.0, 60)

	assert.Equal(t, lex, fused)
}

func TestWeightedRRF_Monotonic(t *testing.T) {
	// Given: a baseline fusion where "c.md#0" ranks last lexically
	sem := makeResults(EngineSemantic, []string{"x.md#0", "y.md#0"}, []float64{0.9, 0.8})
	low := makeResults(EngineLexical, []string{"a.md#0", "b.md#0", "c.md#0"}, []float64{1.0, 0.8, 0.1})
	baseline := WeightedRRF(low, sem, 0.5, 60)

	// When: the same chunk's lexical rank improves, all else fixed
	high := makeResults(EngineLexical, []string{"c.md#0", "a.md#0", "b.md#0"}, []float64{1.0, 0.8, 0.1})
	improved := WeightedRRF(high, sem, 0.5, 60)

	// Then: its fused rank never gets worse
	assert.LessOrEqual(t, rankOf(improved, "c.md#0"), rankOf(baseline, "c.md#0"))
}

func TestWeightedRRF_DeterministicTies(t *testing.T) {
	lex := makeResults(EngineLexical, []string{"a.md#0", "b.md#0"}, []float64{0.5, 0.5})
	sem := []RankedResult{}

	first := WeightedRRF(lex, sem, 0.5, 60)
	second := WeightedRRF(lex, sem, 0.5, 60)

	assert.Equal(t, resultIDs(first), resultIDs(second))
}

// --- Normalization ---

func TestNormalizeScores_ClipsIntoRange(t *testing.T) {
	results := makeResults(EngineFused, []string{"a.md#0", "b.md#0", "c.md#0"}, []float64{10.0, 5.0, 1.0})

	NormalizeScores(results)

	// Min-max mapped into [0.02, 0.98], never exact 0 or 1.
	assert.InDelta(t, 0.98, results[0].Score, 1e-9)
	assert.InDelta(t, 0.02, results[2].Score, 1e-9)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.02)
		assert.LessOrEqual(t, r.Score, 0.98)
	}
}

func TestNormalizeScores_DegenerateRange(t *testing.T) {
	results := makeResults(EngineFused, []string{"a.md#0", "b.md#0"}, []float64{0.5, 0.5})

	NormalizeScores(results)

	// Identical scores map to the midpoint rather than dividing by zero.
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestNormalizeScores_Empty(t *testing.T) {
	assert.NotPanics(t, func() { NormalizeScores(nil) })
}

// --- Diversity selection ---

func TestSelectDiverseTopK_CoversDistinctDocuments(t *testing.T) {
	// Given: one document dominating the top of the list
	results := makeResults(EngineFused,
		[]string{"a.md#0", "a.md#1", "a.md#2", "b.md#0", "c.md#0", "d.md#0"},
		[]float64{0.9, 0.85, 0.8, 0.7, 0.6, 0.5})

	// When: truncating to 3
	selected := SelectDiverseTopK(results, 3)

	// Then: three distinct documents appear before any repeat
	require.Len(t, selected, 3)
	docs := map[string]struct{}{}
	for _, r := range selected {
		docs[r.DocumentPath] = struct{}{}
	}
	assert.Len(t, docs, 3)
	assert.Equal(t, "a.md#0", selected[0].ID)
	assert.Equal(t, "b.md#0", selected[1].ID)
	assert.Equal(t, "c.md#0", selected[2].ID)
}

func TestSelectDiverseTopK_SecondSlotsAfterCoverage(t *testing.T) {
	results := makeResults(EngineFused,
		[]string{"a.md#0", "a.md#1", "b.md#0"},
		[]float64{0.9, 0.8, 0.7})

	selected := SelectDiverseTopK(results, 3)

	// Both documents get their first chunk before a.md gets a second.
	require.Len(t, selected, 3)
	assert.Equal(t, []string{"a.md#0", "b.md#0", "a.md#1"}, resultIDs(selected))
}

func TestSelectDiverseTopK_ShortListUnchanged(t *testing.T) {
	results := makeResults(EngineFused, []string{"a.md#0", "b.md#0"}, []float64{0.9, 0.8})

	selected := SelectDiverseTopK(results, 10)

	assert.Equal(t, results, selected)
}

func TestSelectDiverseTopK_MinDistinctDocumentGuarantee(t *testing.T) {
	// Given: results spanning 5 distinct documents
	results := makeResults(EngineFused,
		[]string{"a.md#0", "a.md#1", "b.md#0", "c.md#0", "d.md#0", "e.md#0"},
		[]float64{0.9, 0.88, 0.8, 0.7, 0.6, 0.5})

	for _, k := range []int{1, 2, 3, 4, 5} {
		selected := SelectDiverseTopK(results, k)
		require.Len(t, selected, k)

		docs := map[string]struct{}{}
		for _, r := range selected {
			docs[r.DocumentPath] = struct{}{}
		}
		assert.GreaterOrEqual(t, len(docs), min(k, 5), "k=%d", k)
	}
}
