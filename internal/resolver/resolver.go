// Package resolver maps a store name to its storefront URL. An Orchestrator
// tries ranked Providers, validates the winning answer and turns its
// confidence into a store status.
package resolver

import (
	"context"
	"errors"
	"strings"
)

// Errors returned by Resolve.
var (
	ErrNoProviders = errors.New("resolver: no providers configured")
	ErrNoResult    = errors.New("resolver: provider returned no candidates")
)

// Query identifies the store being looked up. Context is free text (a review
// snippet) that helps a provider disambiguate.
type Query struct {
	Name    string
	Country string
	Context string
}

// Text is the search string sent to keyword search providers.
func (q Query) Text() string {
	return strings.TrimSpace(strings.Join(strings.Fields(q.Name+" "+q.Country), " "))
}

func (q Query) cacheKey() string {
	return strings.ToLower(q.Text())
}

// Candidate is one URL a provider proposed.
type Candidate struct {
	URL        string   `json:"url"`
	Title      string   `json:"title,omitempty"`
	Snippet    string   `json:"snippet,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Result is the canonical provider answer. Confidence is nil when the
// provider did not score its selection.
type Result struct {
	Provider    string      `json:"provider"`
	SelectedURL string      `json:"selected_url"`
	Confidence  *float64    `json:"confidence,omitempty"`
	Reasoning   string      `json:"reasoning,omitempty"`
	Candidates  []Candidate `json:"candidates,omitempty"`
}

// Empty reports whether the provider found nothing usable.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.SelectedURL) == "" && len(r.Candidates) == 0
}

// Provider is one external search-and-select backend.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, q Query) (Result, error)
}

// Float returns a pointer to v; convenient for literal confidences.
func Float(v float64) *float64 { return &v }

// DedupCandidates drops blank and repeated URLs, keeping first occurrences,
// and truncates to limit when limit > 0.
func DedupCandidates(in []Candidate, limit int) []Candidate {
	out := make([]Candidate, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c.URL = strings.TrimSpace(c.URL)
		if c.URL == "" {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
