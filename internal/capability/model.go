package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "ensemble/internal/errors"
	"ensemble/internal/logging"
)

// ModelConfig configures an OpenAI-compatible chat completions endpoint.
type ModelConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Token             string        `mapstructure:"token" yaml:"token"`
	Name              string        `mapstructure:"name" yaml:"name"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// ChatClient calls an OpenAI-compatible chat completions endpoint with
// retries on transient failures and client-side rate limiting.
type ChatClient struct {
	cfg        ModelConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      apperrors.RetryConfig
	logger     logging.Logger
}

var _ Model = (*ChatClient)(nil)

// NewChatClient validates cfg and builds a client.
func NewChatClient(cfg ModelConfig, logger logging.Logger) (*ChatClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("model endpoint is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("model name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ChatClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		retry:      apperrors.DefaultRetryConfig(),
		logger:     logging.OrNop(logger),
	}, nil
}

// SetRetryConfig overrides the retry policy.
func (c *ChatClient) SetRetryConfig(cfg apperrors.RetryConfig) {
	c.retry = cfg
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var errEmptyCompletion = errors.New("empty response from model")

// Generate returns the first choice's content. Empty completions are retried.
func (c *ChatClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Name,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	}
	if req.Temperature == 0 {
		req.Temperature = c.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if prompt.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: prompt.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt.User})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	return apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return c.complete(ctx, body)
	}, c.logger)
}

func (c *ChatClient) complete(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.NewPermanentError(err, "")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.NewTransientError(err, "")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperrors.FromHTTPStatus(resp.StatusCode, truncate(string(data), 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", apperrors.NewPermanentError(fmt.Errorf("decode response: %w", err), "")
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", apperrors.NewTransientError(errEmptyCompletion, "")
	}
	content := parsed.Choices[0].Message.Content
	c.logger.Debug("model %s answered %d chars in %v", c.cfg.Name, len(content), time.Since(start).Round(time.Millisecond))
	return content, nil
}
