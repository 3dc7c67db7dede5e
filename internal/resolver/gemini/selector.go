package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
)

const selectorFallbackConfidence = 0.5

// Selector ranks search hits with Gemini. It satisfies cse.Selector.
type Selector struct {
	*client
}

// NewSelector builds a Selector sharing the provider's configuration shape.
func NewSelector(ctx context.Context, cfg Config, logger *zap.Logger, clientOpts ...option.ClientOption) (*Selector, error) {
	c, err := newClient(ctx, cfg, logger, clientOpts)
	if err != nil {
		return nil, err
	}
	return &Selector{client: c}, nil
}

type selection struct {
	SelectedIndex *int     `json:"selected_index"`
	SelectedURL   string   `json:"selected_url"`
	Confidence    *float64 `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
}

// Select asks the model which hit is the storefront. The answer must name a
// hit by index or by URL; anything else falls back to the first hit.
func (s *Selector) Select(ctx context.Context, q resolver.Query, hits []resolver.Candidate) (resolver.Result, error) {
	res := resolver.Result{Provider: "cse+" + Name, Candidates: hits}
	if len(hits) == 0 {
		return res, nil
	}
	text, err := s.generate(ctx, selectionPrompt(q, hits), false)
	if err != nil {
		return resolver.Result{}, err
	}
	sel, ok := parseSelection(text)
	if idx, found := sel.pick(hits); ok && found {
		res.SelectedURL = hits[idx].URL
		res.Confidence = sel.Confidence
		res.Reasoning = sel.Reasoning
		return res, nil
	}
	s.logger.Debug("selection did not match a hit, using first", zap.String("query", q.Text()))
	res.SelectedURL = hits[0].URL
	res.Confidence = resolver.Float(selectorFallbackConfidence)
	res.Reasoning = "Model selection unusable; using first search result"
	return res, nil
}

func (sel selection) pick(hits []resolver.Candidate) (int, bool) {
	if sel.SelectedIndex != nil && *sel.SelectedIndex >= 0 && *sel.SelectedIndex < len(hits) {
		return *sel.SelectedIndex, true
	}
	want := strings.TrimRight(strings.ToLower(strings.TrimSpace(sel.SelectedURL)), "/")
	if want == "" {
		return 0, false
	}
	for i, h := range hits {
		if strings.TrimRight(strings.ToLower(h.URL), "/") == want {
			return i, true
		}
	}
	return 0, false
}

func parseSelection(text string) (selection, bool) {
	var sel selection
	text = strings.TrimSpace(text)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(text), &sel); err != nil {
		return selection{}, false
	}
	return sel, true
}

func selectionPrompt(q resolver.Query, hits []resolver.Candidate) string {
	var b strings.Builder
	b.WriteString("Pick the official Shopify storefront homepage for the store below from the numbered search results.\n")
	b.WriteString(`Respond with JSON only: {"selected_index": <int>, "selected_url": "<url>", "confidence": <0..1>, "reasoning": "<one sentence>"}`)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "store_name: %s\n", strings.TrimSpace(q.Name))
	if c := strings.TrimSpace(q.Country); c != "" {
		fmt.Fprintf(&b, "country: %s\n", c)
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s\n    %s\n    %s\n", i, h.URL, h.Title, h.Snippet)
	}
	return b.String()
}
