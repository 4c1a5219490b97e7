package search

import (
	"math"
	"sort"
)

const (
	// Final fused scores are clipped into [scoreFloor, scoreCeiling] so
	// no result reads as exact certainty or exact irrelevance.
	scoreFloor   = 0.02
	scoreCeiling = 0.98

	fusionEpsilon = 1e-9
)

// WeightedRRF fuses two ranked lists with weighted reciprocal-rank
// fusion: each list contributes weight/(k+rank) per chunk, summed by
// chunk ID, with ranks starting at 1 in each list's own order.
//
// Degenerate weights short-circuit: semanticWeight >= 1.0 returns the
// semantic list untouched, <= 0.0 returns the lexical list untouched, so
// a fully-weighted single engine produces no fusion artifacts.
func WeightedRRF(lexical, semantic []RankedResult, semanticWeight float64, k int) []RankedResult {
	if semanticWeight >= 1.0 {
		return semantic
	}
	if semanticWeight <= 0.0 {
		return lexical
	}
	if k < 1 {
		k = DefaultRRFConstant
	}

	lexicalWeight := 1.0 - semanticWeight

	type fusedEntry struct {
		result RankedResult
		score  float64
		order  int // first-seen position, for deterministic ties
	}
	fused := make(map[string]*fusedEntry, len(lexical)+len(semantic))
	order := 0

	accumulate := func(list []RankedResult, weight float64) {
		for rank, r := range list {
			contribution := weight / float64(k+rank+1)
			entry, ok := fused[r.ID]
			if !ok {
				entry = &fusedEntry{result: r, order: order}
				entry.result.Engine = EngineFused
				entry.result.Explanation = ""
				fused[r.ID] = entry
				order++
			}
			entry.score += contribution
		}
	}
	accumulate(lexical, lexicalWeight)
	accumulate(semantic, semanticWeight)

	results := make([]RankedResult, 0, len(fused))
	entries := make([]*fusedEntry, 0, len(fused))
	for _, entry := range fused {
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].order < entries[j].order
	})
	for _, entry := range entries {
		entry.result.Score = entry.score
		results = append(results, entry.result)
	}
	return results
}

// NormalizeScores min-max normalizes the list's scores and clips them
// into [0.02, 0.98]. A degenerate score range maps everything to the
// midpoint.
func NormalizeScores(results []RankedResult) {
	if len(results) == 0 {
		return
	}
	minScore, maxScore := math.Inf(1), math.Inf(-1)
	for _, r := range results {
		minScore = math.Min(minScore, r.Score)
		maxScore = math.Max(maxScore, r.Score)
	}

	span := maxScore - minScore
	for i := range results {
		var norm float64
		if span < fusionEpsilon {
			norm = 0.5
		} else {
			norm = (results[i].Score - minScore) / span
		}
		results[i].Score = scoreFloor + norm*(scoreCeiling-scoreFloor)
	}
}

// SelectDiverseTopK truncates results to limit while guaranteeing every
// distinct document gets one slot before any document gets a second:
// results are taken round-robin by per-document rank (all first-ranked
// chunks in score order, then all second-ranked, and so on).
func SelectDiverseTopK(results []RankedResult, limit int) []RankedResult {
	if limit <= 0 {
		return []RankedResult{}
	}
	if len(results) <= limit {
		return results
	}

	// Per-document rank in the score-ordered input.
	seen := make(map[string]int)
	rounds := make(map[int][]RankedResult)
	maxRound := 0
	for _, r := range results {
		round := seen[r.DocumentPath]
		seen[r.DocumentPath] = round + 1
		rounds[round] = append(rounds[round], r)
		if round > maxRound {
			maxRound = round
		}
	}

	selected := make([]RankedResult, 0, limit)
	for round := 0; round <= maxRound && len(selected) < limit; round++ {
		for _, r := range rounds[round] {
			if len(selected) >= limit {
				break
			}
			selected = append(selected, r)
		}
	}
	return selected
}
