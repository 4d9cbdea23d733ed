package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig configures the general LLM fallback tier.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// ApplyDefaults sets default values for unset fields.
func (c *GeminiConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
}

// GeminiGenerator is the general tier. It handles whatever the specialized
// tier cannot: document-store questions, fusion across stores, and
// anything the classifier could not place.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewGeminiGenerator creates a general tier backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiGenerator{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Name identifies the tier in logs and records.
func (g *GeminiGenerator) Name() string { return "gemini" }

// Generate sends the assembled prompt to the model and extracts the query
// artifact from the response. The tier reports no confidence of its own.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*Answer, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, ErrNoAnswer
	}

	artifact, explanation := splitArtifact(text)
	if artifact == "" {
		return nil, ErrNoAnswer
	}

	return &Answer{
		Artifact:    artifact,
		Explanation: explanation,
	}, nil
}

// splitArtifact pulls the query out of a fenced code block when the model
// wraps it in one. Text outside the fence becomes the explanation. A
// response with no fence is treated as a bare artifact.
func splitArtifact(text string) (artifact, explanation string) {
	start := strings.Index(text, "```")
	if start < 0 {
		return text, ""
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line (```sql, ```json).
		if lang := strings.TrimSpace(rest[:nl]); lang != "" && !strings.ContainsAny(lang, " \t") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), strings.TrimSpace(text[:start])
	}
	artifact = strings.TrimSpace(rest[:end])
	explanation = strings.Join(strings.Fields(text[:start]+" "+rest[end+3:]), " ")
	return artifact, explanation
}
