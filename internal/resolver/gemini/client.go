// Package gemini resolves store URLs with Gemini grounded on Google Search,
// and can rank raw search hits for the CSE provider.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Defaults applied by New.
const (
	DefaultModel             = "gemini-2.0-flash"
	DefaultTopN              = 5
	DefaultMaxRetries        = 3
	DefaultInitialRetryDelay = time.Second
	maxRetryDelay            = 30 * time.Second
)

// Config holds credentials and request tuning.
type Config struct {
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	TopN              int           `mapstructure:"top_n"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`
	VerifyStorefront  bool          `mapstructure:"verify_storefront"`
}

// client wraps the generateContent call with 429 retries.
type client struct {
	models *generativelanguage.ModelsService
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func newClient(ctx context.Context, cfg Config, logger *zap.Logger, clientOpts []option.ClientOption) (*client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" && len(clientOpts) == 0 {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TopN <= 0 || cfg.TopN > 10 {
		cfg.TopN = DefaultTopN
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = DefaultInitialRetryDelay
	}
	opts := make([]option.ClientOption, 0, len(clientOpts)+1)
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	opts = append(opts, clientOpts...)
	svc, err := generativelanguage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &client{models: svc.Models, cfg: cfg, logger: logger, sleep: sleepCtx}, nil
}

// generate sends prompt and returns the concatenated text of the first
// candidate. Rate-limit errors are retried with capped exponential backoff.
func (c *client) generate(ctx context.Context, prompt string, withSearch bool) (string, error) {
	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{
			Role:  "user",
			Parts: []*generativelanguage.Part{{Text: prompt}},
		}},
		GenerationConfig: &generativelanguage.GenerationConfig{
			Temperature:     0.2,
			MaxOutputTokens: 900,
		},
	}
	if withSearch {
		req.Tools = []*generativelanguage.Tool{{GoogleSearch: &generativelanguage.GoogleSearch{}}}
	}
	model := "models/" + strings.TrimPrefix(c.cfg.Model, "models/")

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.models.GenerateContent(model, req).Context(ctx).Do()
		if err == nil {
			return responseText(resp), nil
		}
		lastErr = err
		if !isRateLimited(err) || attempt == c.cfg.MaxRetries {
			break
		}
		delay := min(c.cfg.InitialRetryDelay<<attempt, maxRetryDelay)
		c.logger.Warn("gemini rate limited, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	if isRateLimited(lastErr) {
		return "", fmt.Errorf("gemini: rate limit exceeded after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
	}
	return "", fmt.Errorf("gemini: generate: %w", lastErr)
}

func responseText(resp *generativelanguage.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "RATE_LIMIT")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
