// Package search combines the lexical and semantic engines into one
// ranked result list: weighted reciprocal-rank fusion, folder and
// link-graph boosts, score normalization, and diversity-aware top-K
// selection, driven by the Retriever entry point.
package search

// ResultEngine tags which engine produced a ranked result.
type ResultEngine string

const (
	// EngineLexical marks results from the ephemeral full-text index.
	EngineLexical ResultEngine = "lexical"

	// EngineSemantic marks results from the persistent vector index.
	EngineSemantic ResultEngine = "semantic"

	// EngineFused marks results produced by rank fusion of both engines.
	EngineFused ResultEngine = "fused"

	// EngineGrep marks results from the keyword-scan fallback path.
	EngineGrep ResultEngine = "grep"
)

// RankedResult is one scored chunk in a retrieval response.
type RankedResult struct {
	// ID is the chunk identifier ("path#index").
	ID string `json:"id"`

	// DocumentPath is the owning document's vault-relative path.
	DocumentPath string `json:"document_path"`

	// Score is normalized into [0.02, 0.98] on the final list.
	Score float64 `json:"score"`

	// Engine tags the producing engine.
	Engine ResultEngine `json:"engine"`

	// Explanation optionally describes why the result ranked where it
	// did (boosts applied, fallback path taken).
	Explanation string `json:"explanation,omitempty"`
}

// SemanticMode selects how the vector search is scoped.
type SemanticMode int

const (
	// SemanticCandidates restricts vector hits to the candidate
	// document set shared with the lexical engine.
	SemanticCandidates SemanticMode = iota

	// SemanticFull searches the whole persistent index regardless of
	// candidates.
	SemanticFull
)

// Option bounds for clamping.
const (
	MinResults = 1
	MaxResults = 100

	MinCandidateLimit     = 10
	MaxCandidateLimit     = 1000
	DefaultCandidateLimit = 500

	MinRRFConstant     = 1
	MaxRRFConstant     = 100
	DefaultRRFConstant = 60

	DefaultMaxResults     = 10
	DefaultSemanticWeight = 0.6
)

// Options configures a single retrieval call. The zero value is not
// usable directly; DefaultOptions or Clamp fill in defaults.
type Options struct {
	// MaxResults bounds the returned list, clamped to [1, 100].
	MaxResults int

	// SemanticWeight is the semantic share of rank fusion in [0, 1].
	// 1.0 skips the lexical engine entirely, 0.0 skips semantic.
	SemanticWeight float64

	// CandidateLimit bounds the keyword scan, clamped to [10, 1000].
	CandidateLimit int

	// RRFConstant is the reciprocal-rank damping constant, clamped to
	// [1, 100].
	RRFConstant int

	// DisableSemantic skips the semantic path independently of weight.
	// The zero value keeps it on, matching DefaultOptions.
	DisableSemantic bool

	// DisableLexicalBoosts skips folder and link-graph boosting.
	// The zero value keeps boosts on, matching DefaultOptions.
	DisableLexicalBoosts bool

	// SemanticMode scopes the vector search.
	SemanticMode SemanticMode

	// SalientTerms are extra scoring terms merged with the expander's.
	SalientTerms []string
}

// DefaultOptions returns the standard retrieval configuration.
func DefaultOptions() Options {
	return Options{
		MaxResults:     DefaultMaxResults,
		SemanticWeight: DefaultSemanticWeight,
		CandidateLimit: DefaultCandidateLimit,
		RRFConstant:    DefaultRRFConstant,
		SemanticMode:   SemanticCandidates,
	}
}

// Clamp normalizes out-of-range option values in place. Zero values are
// replaced with defaults rather than clamped to the minimum so that a
// partially-filled literal behaves sensibly.
func (o *Options) Clamp() {
	if o.MaxResults == 0 {
		o.MaxResults = DefaultMaxResults
	}
	o.MaxResults = clampInt(o.MaxResults, MinResults, MaxResults)

	if o.CandidateLimit == 0 {
		o.CandidateLimit = DefaultCandidateLimit
	}
	o.CandidateLimit = clampInt(o.CandidateLimit, MinCandidateLimit, MaxCandidateLimit)

	if o.RRFConstant == 0 {
		o.RRFConstant = DefaultRRFConstant
	}
	o.RRFConstant = clampInt(o.RRFConstant, MinRRFConstant, MaxRRFConstant)

	if o.SemanticWeight < 0 {
		o.SemanticWeight = 0
	}
	if o.SemanticWeight > 1 {
		o.SemanticWeight = 1
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
