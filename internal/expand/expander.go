// Package expand turns a raw query into query variants, salient scoring
// terms and recall terms. Hashtag hierarchy expansion is always applied;
// LLM paraphrase and HyDE are best-effort, bounded by a timeout and never
// allowed to fail the retrieval call.
package expand

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/Aman-CERP/vaultsearch/internal/llm"
)

// DefaultTimeout bounds each LLM call during expansion.
const DefaultTimeout = 5 * time.Second

// maxParaphrases caps LLM paraphrase variants per query.
const maxParaphrases = 3

// hashtagPattern matches #tag and hierarchical #tag/subtag tokens.
var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_-]+(?:/[\p{L}\p{N}_-]+)*)`)

// Expansion is the result of query expansion.
type Expansion struct {
	// OriginalQuery is the query as the user typed it.
	OriginalQuery string

	// Queries are the query variants for semantic search. Always contains
	// at least the original query.
	Queries []string

	// SalientTerms are high-signal scoring terms.
	SalientTerms []string

	// ExpandedTerms are additional recall terms (hashtag hierarchy parts).
	ExpandedTerms []string
}

// Expander expands queries, optionally with an LLM.
type Expander struct {
	client  llm.Client // nil disables LLM expansion
	timeout time.Duration
}

// NewExpander creates an expander. client may be nil; timeout <= 0 uses
// DefaultTimeout.
func NewExpander(client llm.Client, timeout time.Duration) *Expander {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Expander{client: client, timeout: timeout}
}

// Expand expands a query. This never fails: on LLM timeout or absence the
// heuristic fallback is used.
func (e *Expander) Expand(ctx context.Context, query string) Expansion {
	query = strings.TrimSpace(query)

	exp := Expansion{
		OriginalQuery: query,
		Queries:       []string{query},
		SalientTerms:  heuristicSalientTerms(query),
		ExpandedTerms: expandHashtags(query),
	}
	if query == "" {
		return exp
	}

	if e.client == nil {
		return exp
	}

	queries, salient, ok := e.llmExpand(ctx, query)
	if !ok {
		return exp
	}

	exp.Queries = appendUnique(exp.Queries, queries...)
	exp.SalientTerms = appendUnique(exp.SalientTerms, salient...)
	return exp
}

// llmExpand asks the chat model for paraphrases and salient terms.
func (e *Expander) llmExpand(ctx context.Context, query string) (queries, salient []string, ok bool) {
	llmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := "Rewrite the following search query as up to " +
		"3 alternative phrasings that preserve its meaning, one per line. " +
		"Then output a line starting with \"TERMS:\" followed by the 3-6 most " +
		"important keywords, comma separated. Output nothing else.\n\nQuery: " + query

	response, err := e.client.Complete(llmCtx, prompt)
	if err != nil {
		slog.Debug("query_expansion_llm_failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return nil, nil, false
	}

	queries, salient = parseExpansionResponse(response)
	if len(queries) == 0 && len(salient) == 0 {
		return nil, nil, false
	}
	return queries, salient, true
}

// parseExpansionResponse parses paraphrase lines and the TERMS: line.
func parseExpansionResponse(response string) (queries, salient []string) {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, found := strings.CutPrefix(line, "TERMS:"); found {
			for _, term := range strings.Split(rest, ",") {
				term = strings.ToLower(strings.TrimSpace(term))
				if term != "" {
					salient = append(salient, term)
				}
			}
			continue
		}
		// Strip list markers the model may add despite instructions
		line = strings.TrimLeft(line, "-*0123456789. ")
		if line != "" && len(queries) < maxParaphrases {
			queries = append(queries, line)
		}
	}
	return queries, salient
}

// HyDE generates a hypothetical answer passage for the query, used as an
// additional semantic query vector for terse queries. Returns ok=false
// when no client is configured or the call failed/timed out.
func (e *Expander) HyDE(ctx context.Context, query string) (string, bool) {
	if e.client == nil {
		return "", false
	}

	llmCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := "Write a short note passage (2-3 sentences) that would " +
		"perfectly answer the following question. Output only the passage.\n\n" +
		"Question: " + query

	passage, err := e.client.Complete(llmCtx, prompt)
	if err != nil {
		slog.Debug("hyde_generation_failed",
			slog.String("query", query),
			slog.String("error", err.Error()))
		return "", false
	}

	passage = strings.TrimSpace(passage)
	if passage == "" {
		return "", false
	}
	return passage, true
}

// expandHashtags extracts hashtag tokens and expands tag hierarchies.
// "#Project/Alpha" yields "#project/alpha", "project/alpha", "project"
// and "alpha" as separate recall terms.
func expandHashtags(query string) []string {
	var terms []string
	seen := make(map[string]struct{})

	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	for _, m := range hashtagPattern.FindAllStringSubmatch(query, -1) {
		tag := strings.ToLower(m[1])
		add("#" + tag)
		add(tag)
		for _, segment := range strings.Split(tag, "/") {
			add(segment)
		}
	}

	return terms
}

// stopWords are common words excluded from heuristic salient terms.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "how": {}, "i": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {},
	"to": {}, "was": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "will": {}, "with": {}, "my": {}, "me": {},
	"about": {}, "do": {}, "does": {}, "did": {}, "can": {}, "could": {},
}

// heuristicSalientTerms extracts salient terms without an LLM: lowercase
// word tokens minus stop words and single characters, longest first.
func heuristicSalientTerms(query string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(query) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}

	// Longer terms first; stable for equal lengths to keep determinism.
	sort.SliceStable(terms, func(i, j int) bool {
		return len(terms[i]) > len(terms[j])
	})

	return terms
}

// appendUnique appends values not already present (case-insensitive).
func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
