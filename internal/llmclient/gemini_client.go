// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
)

// GoogleClient implements schemas.LLMClient on the Gemini API.
type GoogleClient struct {
	client     *genai.Client
	httpClient *http.Client
	model      string
	config     config.LLMModelConfig
	logger     *zap.Logger
	limiter    *rate.Limiter
	metrics    *observability.Metrics

	// backoffFactory is replaced in tests.
	backoffFactory func() backoff.BackOff
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// NewGoogleClient initializes the client. cfg.Endpoint overrides the API base
// URL. metrics may be nil.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger, metrics *observability.Metrics) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google/Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("a model name is required")
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	cc := &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.Endpoint},
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	maxElapsed := cfg.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}

	return &GoogleClient{
		client:     client,
		httpClient: httpClient,
		model:      cfg.Model,
		config:     cfg,
		logger:     logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		limiter:    rate.NewLimiter(limit, 1),
		metrics:    metrics,
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

// Generate sends the prompts and returns the text of the first candidate.
// Transient API failures are retried with exponential backoff.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}
	genCfg := c.buildConfig(req)

	var text string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
		duration := time.Since(start)

		if err != nil {
			c.metrics.RecordPlannerRequest(c.model, "error", duration, 0, 0)
			return c.classifyError(ctx, err)
		}

		var promptTokens, completionTokens int
		if u := resp.UsageMetadata; u != nil {
			promptTokens, completionTokens = int(u.PromptTokenCount), int(u.CandidatesTokenCount)
		}

		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			c.metrics.RecordPlannerRequest(c.model, "blocked", duration, promptTokens, 0)
			return backoff.Permanent(fmt.Errorf("gemini API blocked the prompt (Reason: %s)", fb.BlockReason))
		}
		if len(resp.Candidates) == 0 {
			c.metrics.RecordPlannerRequest(c.model, "empty", duration, promptTokens, 0)
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		out := resp.Text()
		if out == "" {
			reason := resp.Candidates[0].FinishReason
			if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
				c.metrics.RecordPlannerRequest(c.model, "blocked", duration, promptTokens, 0)
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", reason))
			}
			c.metrics.RecordPlannerRequest(c.model, "empty", duration, promptTokens, 0)
			return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", reason)
		}

		c.metrics.RecordPlannerRequest(c.model, "ok", duration, promptTokens, completionTokens)
		c.logger.Info("LLM generation complete (Gemini)",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", promptTokens),
			zap.Int("completion_tokens", completionTokens),
		)
		text = out
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Transient LLM error, retrying.", zap.Error(err), zap.Duration("backoff", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(c.backoffFactory(), ctx), notify); err != nil {
		return "", err
	}
	return text, nil
}

// Close releases the underlying HTTP connections.
func (c *GoogleClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *GoogleClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := c.config.Temperature
	if req.Options.Temperature > 0 {
		temperature = float32(req.Options.Temperature)
	}
	topP := c.config.TopP
	if req.Options.TopP > 0 {
		topP = float32(req.Options.TopP)
	}
	topK := c.config.TopK
	if req.Options.TopK > 0 {
		topK = req.Options.TopK
	}

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(c.config.MaxTokens),
		SafetySettings:  c.safetySettings(),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if topP > 0 {
		gc.TopP = genai.Ptr(topP)
	}
	if topK > 0 {
		gc.TopK = genai.Ptr(float32(topK))
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// classifyError marks everything except throttling and server faults as
// permanent.
func (c *GoogleClient) classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("gemini API error: status %d: %w", apiErr.Code, err)
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return wrapped
		default:
			c.logger.Error("Gemini API returned error status", zap.Int("status", apiErr.Code), zap.String("message", apiErr.Message))
			return backoff.Permanent(wrapped)
		}
	}
	// Transport level failure.
	return fmt.Errorf("gemini request failed: %w", err)
}

func (c *GoogleClient) safetySettings() []*genai.SafetySetting {
	if len(c.config.SafetyFilters) == 0 {
		return nil
	}
	settings := make([]*genai.SafetySetting, 0, len(c.config.SafetyFilters))
	for category, threshold := range c.config.SafetyFilters {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return settings
}
