// Package patternstore provides the semantic cache of (question, artifact)
// pairs backed by an embedded vector database.
//
// Entries are keyed by canonical question text and ranked by cosine
// similarity with explicit tie-breaking: success rate first, then
// user-correction provenance, then recency of use.
package patternstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// Sentinel errors for pattern store operations.
var (
	// ErrDimensionMismatch is returned when an embedding does not match the
	// store's fixed vector size. Mismatched embeddings are rejected at
	// insertion, never silently truncated.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrPatternNotFound is returned when no entry exists for a canonical key.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrInvalidPattern indicates a pattern failed validation.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid pattern store configuration")
)

// Provenance records how a pattern entered the store.
type Provenance string

const (
	// ProvenanceAuto marks entries created automatically from successful
	// resolutions.
	ProvenanceAuto Provenance = "auto"

	// ProvenanceUserCorrection marks entries created from an explicit user
	// correction. These replace auto entries unconditionally and win
	// similarity ties.
	ProvenanceUserCorrection Provenance = "user_correction"
)

// Valid reports whether p is a known provenance value.
func (p Provenance) Valid() bool {
	return p == ProvenanceAuto || p == ProvenanceUserCorrection
}

// Pattern is a cached (question, artifact) pair with usage statistics.
type Pattern struct {
	// Question is the canonical question text this pattern answers.
	Question string `json:"question"`

	// Artifact is the structured query produced for the question.
	Artifact string `json:"artifact"`

	// Embedding is the question's embedding vector. Its length must match
	// the store's configured vector size.
	Embedding []float32 `json:"-"`

	// SuccessCount and FailureCount track feedback outcomes.
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`

	// LastUsed is when the pattern was last written or counted.
	LastUsed time.Time `json:"last_used"`

	// CreatedAt is when the pattern was first stored.
	CreatedAt time.Time `json:"created_at"`

	// Provenance records how the pattern entered the store.
	Provenance Provenance `json:"provenance"`
}

// SuccessRate is the recomputed ratio of successes to total uses. It is
// never stored independently. A pattern with no feedback yet rates 1.0 so
// fresh entries are not penalized before any signal exists.
func (p *Pattern) SuccessRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(p.SuccessCount) / float64(total)
}

// Uses is the total number of recorded feedback outcomes.
func (p *Pattern) Uses() int {
	return p.SuccessCount + p.FailureCount
}

// Canonicalize normalizes question text to its canonical cache key form:
// lowercased with collapsed whitespace.
func Canonicalize(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// PatternID derives the stable document ID for a canonical question.
func PatternID(question string) string {
	sum := sha256.Sum256([]byte(Canonicalize(question)))
	return hex.EncodeToString(sum[:16])
}

// Match is a pattern returned from a similarity query.
type Match struct {
	Pattern

	// Similarity is the cosine similarity against the query embedding,
	// in [0,1] for normalized embeddings.
	Similarity float64 `json:"similarity"`
}

// Lookup is the result of a confidence-gated lookup.
//
// Exactly one of the two shapes applies: a Hit when the top match clears
// the high-confidence floor, otherwise the ranked Candidates (possibly
// empty) for use as generation context.
type Lookup struct {
	Hit        *Match  `json:"hit,omitempty"`
	Candidates []Match `json:"candidates,omitempty"`
}

// AvoidPattern records an artifact that failed for a question, surfaced to
// the generative tier as an error to avoid.
type AvoidPattern struct {
	Question string    `json:"question"`
	Artifact string    `json:"artifact"`
	ErrKind  string    `json:"err_kind"`
	SeenAt   time.Time `json:"seen_at"`
}
