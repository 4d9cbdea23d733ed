package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// VannaConfig configures the specialized text-to-SQL client.
type VannaConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	MaxRetries int
}

// ApplyDefaults sets default values for unset fields.
func (c *VannaConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.Burst == 0 {
		c.Burst = defaultBurst
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
}

// VannaClient calls a Vanna-style text-to-SQL HTTP service. It is the
// specialized tier for questions classified as relational.
type VannaClient struct {
	baseURL    string
	apiKey     string `json:"-"` // Never serialize API keys
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
}

// NewVannaClient creates a specialized tier client.
func NewVannaClient(cfg VannaConfig, logger *zap.Logger) (*VannaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	return &VannaClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

// Name identifies the tier in logs and records.
func (v *VannaClient) Name() string { return "vanna" }

type vannaRequest struct {
	Question string `json:"question"`
}

type vannaResponse struct {
	SQL        string  `json:"sql"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// GenerateQuery asks the service for SQL answering the question.
//
// Transient failures (network errors, 429, 5xx) are retried with
// exponential backoff. The reported confidence is clamped to [0,1].
func (v *VannaClient) GenerateQuery(ctx context.Context, question string) (*Answer, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req := vannaRequest{Question: question}

	var lastErr error
	for attempt := 0; attempt <= v.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		answer, err := v.doRequest(ctx, req)
		if err == nil {
			return answer, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		v.logger.Debug("retrying specialized tier request",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (v *VannaClient) doRequest(ctx context.Context, req vannaRequest) (*Answer, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", v.baseURL+"/api/v0/generate_sql", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var vr vannaResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if vr.Error != "" {
		return nil, fmt.Errorf("API error: %s", vr.Error)
	}
	if vr.SQL == "" {
		return nil, ErrNoAnswer
	}

	return &Answer{
		Artifact: vr.SQL,
		Score:    clamp01(vr.Confidence),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
