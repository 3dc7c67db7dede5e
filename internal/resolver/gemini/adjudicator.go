package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/storefront-contact-crawler/internal/relevance"
)

// Adjudicator judges free-mailbox addresses for the relevance filter.
type Adjudicator struct {
	*client
}

// NewAdjudicator builds an Adjudicator.
func NewAdjudicator(ctx context.Context, cfg Config, logger *zap.Logger, clientOpts ...option.ClientOption) (*Adjudicator, error) {
	c, err := newClient(ctx, cfg, logger, clientOpts)
	if err != nil {
		return nil, err
	}
	return &Adjudicator{client: c}, nil
}

// Adjudicate implements relevance.Adjudicator. Unparseable answers count as
// not legitimate.
func (a *Adjudicator) Adjudicate(ctx context.Context, email, storeURL, storeName string) (relevance.Verdict, error) {
	text, err := a.generate(ctx, adjudicationPrompt(email, storeURL, storeName), false)
	if err != nil {
		return relevance.Verdict{}, err
	}
	var out struct {
		IsLegitimate bool    `json:"is_legitimate"`
		Confidence   float64 `json:"confidence"`
		Reasoning    string  `json:"reasoning"`
	}
	text = strings.TrimSpace(text)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return relevance.Verdict{Reasoning: "unparseable answer"}, nil
	}
	return relevance.Verdict{Legitimate: out.IsLegitimate, Confidence: out.Confidence, Reasoning: out.Reasoning}, nil
}

func adjudicationPrompt(email, storeURL, storeName string) string {
	var b strings.Builder
	b.WriteString("Decide whether a free-mailbox address (Gmail, Yahoo, Outlook and similar) is a legitimate business contact for a Shopify store.\n")
	fmt.Fprintf(&b, "Store URL: %s\n", storeURL)
	if storeName != "" {
		fmt.Fprintf(&b, "Store Name: %s\n", storeName)
	}
	fmt.Fprintf(&b, "Email: %s\n\n", email)
	b.WriteString("Business prefixes (contact, info, support) or the store name in the address point to legitimate. Long random handles do not. If unsure answer false.\n")
	b.WriteString(`Respond with JSON only: {"is_legitimate": true|false, "confidence": <0..1>, "reasoning": "<one or two sentences>"}`)
	return b.String()
}
