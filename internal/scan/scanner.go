// Package scan provides the cheap keyword scan that bounds expensive
// chunk-level search to a candidate document set.
package scan

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

// DefaultScanWidth caps document hits collected per recall term set.
const DefaultScanWidth = 200

// Candidate is a document deemed possibly relevant by the keyword scan.
type Candidate struct {
	vault.DocumentInfo

	// Matches is the number of distinct terms found in the document.
	Matches int

	// FirstHit is the byte offset of the earliest term match.
	FirstHit int
}

// Scanner performs bounded keyword scans over the vault.
type Scanner struct {
	store vault.Store
	width int
}

// NewScanner creates a scanner. width <= 0 uses DefaultScanWidth.
func NewScanner(store vault.Store, width int) *Scanner {
	if width <= 0 {
		width = DefaultScanWidth
	}
	return &Scanner{store: store, width: width}
}

// Scan returns up to limit candidate documents containing any of the
// terms, ordered by match count (desc), earliest hit (asc), then path for
// determinism. Empty terms yield the whole vault up to limit.
func (s *Scanner) Scan(ctx context.Context, terms []string, limit int) ([]Candidate, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}

	var candidates []Candidate
	for _, doc := range docs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(candidates) >= s.width {
			break
		}

		if len(lowered) == 0 {
			candidates = append(candidates, Candidate{DocumentInfo: doc})
			continue
		}

		content, err := s.store.ReadDocument(ctx, doc.Path)
		if err != nil {
			continue
		}
		haystack := strings.ToLower(content)

		matches := 0
		firstHit := len(haystack)
		for _, term := range lowered {
			if i := strings.Index(haystack, term); i >= 0 {
				matches++
				if i < firstHit {
					firstHit = i
				}
			}
		}
		if matches == 0 {
			continue
		}

		candidates = append(candidates, Candidate{
			DocumentInfo: doc,
			Matches:      matches,
			FirstHit:     firstHit,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Matches != candidates[j].Matches {
			return candidates[i].Matches > candidates[j].Matches
		}
		if candidates[i].FirstHit != candidates[j].FirstHit {
			return candidates[i].FirstHit < candidates[j].FirstHit
		}
		return candidates[i].Path < candidates[j].Path
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	slog.Debug("candidate_scan_complete",
		slog.Int("terms", len(lowered)),
		slog.Int("candidates", len(candidates)))

	return candidates, nil
}

// GrepHit is a raw keyword match used by the retrieval fallback path.
type GrepHit struct {
	Doc      vault.DocumentInfo
	Position int // byte offset of the match
}

// Grep scans for a literal query string, returning hits ranked by match
// position (earlier is better). This is the orchestrator's last-resort
// path when the hybrid pipeline fails.
func (s *Scanner) Grep(ctx context.Context, query string, limit int) []GrepHit {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}

	var hits []GrepHit
	for _, doc := range docs {
		if ctx.Err() != nil {
			return hits
		}
		content, err := s.store.ReadDocument(ctx, doc.Path)
		if err != nil {
			continue
		}
		if i := strings.Index(strings.ToLower(content), needle); i >= 0 {
			hits = append(hits, GrepHit{Doc: doc, Position: i})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Position != hits[j].Position {
			return hits[i].Position < hits[j].Position
		}
		return hits[i].Doc.Path < hits[j].Doc.Path
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
