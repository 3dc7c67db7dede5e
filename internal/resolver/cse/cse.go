// Package cse resolves store URLs with the Google Programmable Search
// (Custom Search JSON) API.
package cse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
)

// Name identifies this provider in results and configuration.
const Name = "cse"

const (
	maxResults         = 10
	fallbackConfidence = 0.6
)

// Selector picks the storefront among raw search hits. It is optional; without
// one the first hit is used at a fixed confidence.
type Selector interface {
	Select(ctx context.Context, q resolver.Query, hits []resolver.Candidate) (resolver.Result, error)
}

// Config holds credentials and the engine ID.
type Config struct {
	APIKey string `mapstructure:"api_key"`
	CX     string `mapstructure:"cx"`
	Num    int    `mapstructure:"num"`
}

// Provider implements resolver.Provider.
type Provider struct {
	svc      *customsearch.Service
	cx       string
	num      int64
	selector Selector
	logger   *zap.Logger
}

// New builds a Provider. clientOpts are appended after the API key option,
// so tests can point the client at a fake endpoint.
func New(ctx context.Context, cfg Config, selector Selector, logger *zap.Logger, clientOpts ...option.ClientOption) (*Provider, error) {
	if strings.TrimSpace(cfg.CX) == "" {
		return nil, errors.New("cse: search engine id (cx) is required")
	}
	opts := make([]option.ClientOption, 0, len(clientOpts)+1)
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	opts = append(opts, clientOpts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cse: create service: %w", err)
	}
	num := int64(cfg.Num)
	if num <= 0 || num > maxResults {
		num = maxResults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{svc: svc, cx: cfg.CX, num: num, selector: selector, logger: logger}, nil
}

// Name implements resolver.Provider.
func (p *Provider) Name() string { return Name }

// Resolve searches for "name country" and selects one hit.
func (p *Provider) Resolve(ctx context.Context, q resolver.Query) (resolver.Result, error) {
	text := q.Text()
	if text == "" {
		return resolver.Result{}, errors.New("cse: empty query")
	}
	search, err := p.svc.Cse.List().Cx(p.cx).Q(text).Num(p.num).Context(ctx).Do()
	if err != nil {
		return resolver.Result{}, fmt.Errorf("cse: search %q: %w", text, err)
	}

	hits := make([]resolver.Candidate, 0, len(search.Items))
	for _, item := range search.Items {
		if item == nil {
			continue
		}
		hits = append(hits, resolver.Candidate{URL: item.Link, Title: item.Title, Snippet: item.Snippet})
	}
	hits = resolver.DedupCandidates(hits, 0)
	p.logger.Debug("cse results", zap.String("query", text), zap.Int("count", len(hits)))
	if len(hits) == 0 {
		return resolver.Result{Provider: Name}, nil
	}

	if p.selector != nil {
		sel, err := p.selector.Select(ctx, q, hits)
		switch {
		case err != nil:
			p.logger.Warn("selector failed, using first result", zap.String("query", text), zap.Error(err))
		case sel.SelectedURL != "":
			sel.Provider = Name
			sel.Candidates = hits
			return sel, nil
		}
	}
	return resolver.Result{
		Provider:    Name,
		SelectedURL: hits[0].URL,
		Confidence:  resolver.Float(fallbackConfidence),
		Reasoning:   "Selected first CSE result",
		Candidates:  hits,
	}, nil
}
