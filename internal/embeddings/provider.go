// Package embeddings provides vector embedding generation for pattern
// cache lookups.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for embedding operations.
var (
	// ErrUnavailable indicates the embedding provider could not be reached.
	// The resolution router treats this as "skip the cache tier", not as a
	// request failure.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
)

// Provider generates vector embeddings from text.
//
// Embedding is the dominant latency source in resolution, so callers are
// expected to wrap providers with WithTimeout and treat timeouts as a
// cache-tier skip.
type Provider interface {
	// EmbedQuery generates an embedding for a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed embedding dimension of this provider.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// timeoutProvider bounds every embed call with a fixed timeout and maps
// deadline errors to ErrUnavailable.
type timeoutProvider struct {
	Provider
	timeout time.Duration
}

// WithTimeout wraps a provider so EmbedQuery never blocks longer than d.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: d}
}

func (t *timeoutProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	vec, err := t.Provider.EmbedQuery(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embed timed out after %s", ErrUnavailable, t.timeout)
		}
		return nil, err
	}
	return vec, nil
}
