// Package backend holds the resolution tiers that generate query artifacts:
// a specialized text-to-SQL service and a general LLM fallback.
package backend

import (
	"errors"
	"time"
)

var (
	// ErrNoAnswer indicates the tier returned an empty artifact.
	ErrNoAnswer = errors.New("backend returned no answer")

	// ErrInvalidConfig indicates missing or malformed client configuration.
	ErrInvalidConfig = errors.New("invalid backend config")
)

const (
	defaultTimeout     = 30 * time.Second
	defaultRateLimit   = 10 // requests per second
	defaultBurst       = 5
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

// Answer is the output of a resolution tier.
type Answer struct {
	// Artifact is the generated structured query (SQL or document query).
	Artifact string `json:"artifact"`

	// Explanation is optional natural-language commentary from the tier.
	Explanation string `json:"explanation,omitempty"`

	// Score is the tier's self-reported confidence in [0,1], or 0 when the
	// tier does not report one.
	Score float64 `json:"score"`
}

// retryableError marks transient failures worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
