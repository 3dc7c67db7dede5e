// Package perplexity resolves store URLs through the Perplexity chat
// completions API with web search.
package perplexity

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

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
)

// Name identifies this provider in results and configuration.
const Name = "perplexity"

// Defaults applied by New.
const (
	DefaultEndpoint = "https://api.perplexity.ai/chat/completions"
	DefaultModel    = "sonar-pro"
	DefaultTopN     = 5
	DefaultTimeout  = 20 * time.Second
)

const systemPrompt = "You are a web research assistant. Your job is to find the official Shopify storefront URL for a brand/store.\n" +
	"Return ONLY valid JSON (no markdown, no extra text).\n" +
	"Prefer the official storefront homepage (not social media, directories, app stores, marketplaces, or review pages).\n" +
	"If multiple plausible domains exist, return the best one first with lower confidence.\n" +
	"Confidence must be a number between 0 and 1.\n"

// Config holds credentials and request tuning.
type Config struct {
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Endpoint string        `mapstructure:"endpoint"`
	TopN     int           `mapstructure:"top_n"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Provider implements resolver.Provider.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Provider.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("perplexity: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.TopN <= 0 || cfg.TopN > 10 {
		cfg.TopN = DefaultTopN
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

// Name implements resolver.Provider.
func (p *Provider) Name() string { return Name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model            string        `json:"model"`
	Messages         []message     `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	WebSearchOptions searchOptions `json:"web_search_options"`
}

type searchOptions struct {
	NumSearchResults int  `json:"num_search_results"`
	SafeSearch       bool `json:"safe_search"`
}

type response struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	SearchResults []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"search_results"`
}

// Resolve asks the model for the storefront and its ranked candidates.
func (p *Provider) Resolve(ctx context.Context, q resolver.Query) (resolver.Result, error) {
	if strings.TrimSpace(q.Name) == "" {
		return resolver.Result{}, errors.New("perplexity: store name is required")
	}
	body, err := json.Marshal(request{
		Model: p.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: p.userPrompt(q)},
		},
		MaxTokens:        900,
		Temperature:      0.2,
		WebSearchOptions: searchOptions{NumSearchResults: 10, SafeSearch: true},
	})
	if err != nil {
		return resolver.Result{}, fmt.Errorf("perplexity: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return resolver.Result{}, fmt.Errorf("perplexity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return resolver.Result{}, fmt.Errorf("perplexity: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return resolver.Result{}, fmt.Errorf("perplexity: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return resolver.Result{}, fmt.Errorf("perplexity: decode response: %w", err)
	}

	res := p.toResult(decoded)
	p.logger.Info("perplexity answered",
		zap.String("query", q.Text()),
		zap.Int("candidates", len(res.Candidates)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (p *Provider) toResult(decoded response) resolver.Result {
	var content string
	if len(decoded.Choices) > 0 {
		content = decoded.Choices[0].Message.Content
	}
	answer, _ := resolver.ParseModelAnswer(content)
	res := answer.Result(Name, p.cfg.TopN)

	if len(res.Candidates) == 0 {
		hits := make([]resolver.Candidate, 0, len(decoded.SearchResults))
		for _, sr := range decoded.SearchResults {
			hits = append(hits, resolver.Candidate{URL: sr.URL, Title: sr.Title, Snippet: sr.Snippet})
		}
		res.Candidates = resolver.DedupCandidates(hits, p.cfg.TopN)
	}
	if res.SelectedURL == "" && len(res.Candidates) > 0 {
		res.SelectedURL = res.Candidates[0].URL
	}
	return res
}

func (p *Provider) userPrompt(q resolver.Query) string {
	var b strings.Builder
	country := strings.TrimSpace(q.Country)
	if country == "" {
		country = "unknown"
	}
	fmt.Fprintf(&b, "Find the official Shopify storefront URL for:\n- store_name: %s\n- country: %s\n", strings.TrimSpace(q.Name), country)
	if ctx := strings.TrimSpace(q.Context); ctx != "" {
		fmt.Fprintf(&b, "- review_context: %s\n", truncate(ctx, 400))
	}
	b.WriteString("\nReturn JSON with this schema:\n")
	b.WriteString(`{"selected_url": string|null, "confidence": number, "reasoning": string, `)
	b.WriteString(`"candidates": [{"url": string, "title": string, "snippet": string, "confidence": number}...]}`)
	fmt.Fprintf(&b, "\n\nInclude up to %d candidates, sorted by best match first.", p.cfg.TopN)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
