package search

import (
	"context"
	"log/slog"
	"math"
	"path"
	"sort"

	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

const (
	// folderBoostCap caps the folder-cohesion multiplier.
	folderBoostCap = 1.3

	// folderBoostMates is the minimum number of other hits sharing a
	// folder before the boost applies.
	folderBoostMates = 2

	// graphBoostCap caps the link-graph multiplier.
	graphBoostCap = 1.15

	// graphBoostPerLink is the per-connection increment.
	graphBoostPerLink = 0.05

	// graphScoreThreshold gates the graph boost: only results whose
	// pre-boost score already clears this fraction of the list's top
	// score get rewarded for link connections.
	graphScoreThreshold = 0.5
)

// ApplyBoosts re-ranks a lexical result list in place with folder
// cohesion and link-graph boosts, then re-sorts by the boosted scores.
// Boosting happens before fusion so that fusion only ever combines
// per-engine rankings.
func ApplyBoosts(ctx context.Context, store vault.Store, results []RankedResult) {
	if len(results) < 2 {
		return
	}
	applyFolderBoost(results)
	applyGraphBoost(ctx, store, results)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// applyFolderBoost rewards documents whose parent folder holds other
// hits in the same result set. The multiplier grows with the log of the
// folder's hit count and is capped.
func applyFolderBoost(results []RankedResult) {
	folderDocs := make(map[string]map[string]struct{})
	for _, r := range results {
		folder := path.Dir(r.DocumentPath)
		if folderDocs[folder] == nil {
			folderDocs[folder] = make(map[string]struct{})
		}
		folderDocs[folder][r.DocumentPath] = struct{}{}
	}

	for i := range results {
		folder := path.Dir(results[i].DocumentPath)
		mates := len(folderDocs[folder]) - 1
		if mates < folderBoostMates {
			continue
		}
		multiplier := 1.0 + 0.1*math.Log2(float64(mates+1))
		if multiplier > folderBoostCap {
			multiplier = folderBoostCap
		}
		results[i].Score *= multiplier
		results[i].Explanation = appendExplanation(results[i].Explanation, "folder cohesion")
	}
}

// applyGraphBoost rewards documents link-connected to other documents in
// the same result set, but only when their pre-boost score is already
// above the similarity threshold, so link spam alone never promotes a
// weak hit.
func applyGraphBoost(ctx context.Context, store vault.Store, results []RankedResult) {
	if store == nil {
		return
	}

	var top float64
	inSet := make(map[string]struct{}, len(results))
	for _, r := range results {
		inSet[r.DocumentPath] = struct{}{}
		if r.Score > top {
			top = r.Score
		}
	}
	if top <= 0 {
		return
	}

	// Link lookups are cheap vault-metadata reads but still per-document;
	// memoize across chunks of the same document.
	connections := make(map[string]int)
	connectionsFor := func(docPath string) int {
		if n, ok := connections[docPath]; ok {
			return n
		}
		n := 0
		neighbors := make(map[string]struct{})
		out, err := store.GetOutgoingLinks(ctx, docPath)
		if err != nil {
			slog.Debug("graph_boost_links_failed",
				slog.String("path", docPath),
				slog.String("error", err.Error()))
		}
		for _, p := range out {
			neighbors[p] = struct{}{}
		}
		back, err := store.GetBacklinks(ctx, docPath)
		if err != nil {
			slog.Debug("graph_boost_backlinks_failed",
				slog.String("path", docPath),
				slog.String("error", err.Error()))
		}
		for _, p := range back {
			neighbors[p] = struct{}{}
		}
		for p := range neighbors {
			if p == docPath {
				continue
			}
			if _, ok := inSet[p]; ok {
				n++
			}
		}
		connections[docPath] = n
		return n
	}

	for i := range results {
		if results[i].Score < top*graphScoreThreshold {
			continue
		}
		n := connectionsFor(results[i].DocumentPath)
		if n == 0 {
			continue
		}
		multiplier := 1.0 + graphBoostPerLink*float64(n)
		if multiplier > graphBoostCap {
			multiplier = graphBoostCap
		}
		results[i].Score *= multiplier
		results[i].Explanation = appendExplanation(results[i].Explanation, "linked cluster")
	}
}

func appendExplanation(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + ", " + note
}
