package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini embedding provider.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string

	// Model is the embedding model name.
	// Default: "gemini-embedding-001"
	Model string

	// Dimension is the requested output dimensionality.
	// Default: 768
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *GeminiConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "gemini-embedding-001"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
}

// GeminiProvider generates embeddings via the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGeminiProvider creates a Gemini embedding provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// EmbedQuery generates an embedding for a single query text.
func (g *GeminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrUnavailable)
	}
	return resp.Embeddings[0].Values, nil
}

// Dimension returns the configured embedding dimension.
func (g *GeminiProvider) Dimension() int {
	return g.dimension
}

// Close is a no-op; the genai client holds no pooled resources.
func (g *GeminiProvider) Close() error {
	return nil
}

var _ Provider = (*GeminiProvider)(nil)
