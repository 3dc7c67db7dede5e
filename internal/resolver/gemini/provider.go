package gemini

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/resolver"
)

// Name identifies this provider in results and configuration.
const Name = "gemini"

// unverifiedCeiling keeps an answer below the auto-save threshold when the
// page does not look like a Shopify storefront.
const unverifiedCeiling = 0.69

var (
	selectedLine   = regexp.MustCompile(`(?im)^\s*SELECTED_URL:\s*(.+?)\s*$`)
	confidenceLine = regexp.MustCompile(`(?im)^\s*CONFIDENCE:\s*([01](?:\.\d+)?)\s*$`)
	reasoningLine  = regexp.MustCompile(`(?im)^\s*REASONING:\s*(.+?)\s*$`)
	candidateBlock = regexp.MustCompile(`(?is)CANDIDATES:\s*(.+)$`)
	explicitURL    = regexp.MustCompile(`(?i)https?://[^\s<>()"']+`)
	bareDomain     = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}\b`)

	blockedHostParts = []string{
		"facebook.com", "instagram.com", "tiktok.com", "twitter.com", "x.com", "linkedin.com",
		"youtube.com", "pinterest.com", "wikipedia.org", "amazon.", "shopee.", "lazada.", "aliexpress.",
	}
	storefrontMarkers = []string{
		"cdn.shopify.com", `meta name="generator" content="shopify"`, "shopify.theme", "/cdn/shop/",
	}
)

// Provider implements resolver.Provider.
type Provider struct {
	*client
	storefront crawler.Transport
}

// New builds a Provider. When cfg.VerifyStorefront is set, storefront is used
// to fetch the selected page and look for Shopify fingerprints.
func New(ctx context.Context, cfg Config, storefront crawler.Transport, logger *zap.Logger, clientOpts ...option.ClientOption) (*Provider, error) {
	c, err := newClient(ctx, cfg, logger, clientOpts)
	if err != nil {
		return nil, err
	}
	return &Provider{client: c, storefront: storefront}, nil
}

// Name implements resolver.Provider.
func (p *Provider) Name() string { return Name }

// Resolve asks Gemini, grounded on Google Search, for the storefront.
func (p *Provider) Resolve(ctx context.Context, q resolver.Query) (resolver.Result, error) {
	if strings.TrimSpace(q.Name) == "" {
		return resolver.Result{}, fmt.Errorf("gemini: store name is required")
	}
	text, err := p.generate(ctx, p.prompt(q), true)
	if err != nil {
		return resolver.Result{}, err
	}
	res := parseAnswer(text, p.cfg.TopN)
	if p.cfg.VerifyStorefront && res.SelectedURL != "" && res.Confidence != nil && !p.looksLikeStorefront(ctx, res.SelectedURL) {
		capped := min(*res.Confidence, unverifiedCeiling)
		res.Confidence = &capped
		note := "Shopify verification not detected; manual confirmation recommended."
		if res.Reasoning != "" {
			res.Reasoning += " (" + note + ")"
		} else {
			res.Reasoning = note
		}
	}
	p.logger.Info("gemini answered", zap.String("query", q.Text()), zap.Int("candidates", len(res.Candidates)))
	return res, nil
}

func (p *Provider) prompt(q resolver.Query) string {
	country := strings.TrimSpace(q.Country)
	if country == "" {
		country = "unknown"
	}
	var b strings.Builder
	b.WriteString("Find the official Shopify storefront homepage URL for the given store.\n")
	b.WriteString("Use Google Search to verify.\n")
	b.WriteString("Prefer the main homepage, not social profiles, directories, marketplaces, app stores, or review pages.\n\n")
	b.WriteString("Return EXACTLY this format (no extra lines):\n")
	b.WriteString("SELECTED_URL: <url_or_domain>\nCONFIDENCE: <number_0_to_1>\nREASONING: <one_sentence>\n")
	b.WriteString("CANDIDATES:\n- <url_or_domain>\n- <url_or_domain>\n\n")
	fmt.Fprintf(&b, "store_name: %s\ncountry: %s\n", strings.TrimSpace(q.Name), country)
	if ctx := strings.TrimSpace(q.Context); ctx != "" {
		r := []rune(ctx)
		if len(r) > 400 {
			r = r[:400]
		}
		fmt.Fprintf(&b, "review_context: %s\n", string(r))
	}
	fmt.Fprintf(&b, "Include up to %d candidates.\n", p.cfg.TopN)
	return b.String()
}

// parseAnswer reads JSON if the model produced it, then the line format,
// then any URLs in the free text.
func parseAnswer(text string, topN int) resolver.Result {
	answer, _ := resolver.ParseModelAnswer(text)
	res := answer.Result(Name, topN)
	res.SelectedURL = normalizeURL(res.SelectedURL)

	if res.SelectedURL == "" {
		if m := selectedLine.FindStringSubmatch(text); m != nil {
			res.SelectedURL = normalizeURL(m[1])
		}
	}
	if res.Confidence == nil {
		if m := confidenceLine.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				res.Confidence = &v
			}
		}
	}
	if res.Reasoning == "" {
		if m := reasoningLine.FindStringSubmatch(text); m != nil {
			res.Reasoning = m[1]
		}
	}
	if len(res.Candidates) == 0 {
		res.Candidates = lineCandidates(text, topN)
	}

	if ignoredURL(res.SelectedURL) {
		res.SelectedURL = ""
	}
	kept := res.Candidates[:0]
	for _, c := range res.Candidates {
		if !ignoredURL(c.URL) {
			kept = append(kept, c)
		}
	}
	res.Candidates = kept
	if res.SelectedURL == "" && len(res.Candidates) > 0 {
		res.SelectedURL = res.Candidates[0].URL
	}
	return res
}

func lineCandidates(text string, topN int) []resolver.Candidate {
	block := text
	if m := candidateBlock.FindStringSubmatch(text); m != nil {
		block = m[1]
	}
	var urls []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		if u := normalizeURL(strings.TrimSpace(strings.TrimLeft(line, "-"))); u != "" {
			urls = append(urls, u)
		}
		if len(urls) == topN {
			break
		}
	}
	if len(urls) == 0 {
		urls = extractURLs(text, topN)
	}
	out := make([]resolver.Candidate, 0, len(urls))
	for _, u := range urls {
		out = append(out, resolver.Candidate{URL: u})
	}
	return resolver.DedupCandidates(out, topN)
}

// extractURLs finds explicit URLs, then bare domains, skipping ignored hosts.
func extractURLs(text string, limit int) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) bool {
		u := normalizeURL(raw)
		if u == "" || ignoredURL(u) {
			return false
		}
		if _, dup := seen[u]; dup {
			return false
		}
		seen[u] = struct{}{}
		out = append(out, u)
		return len(out) >= limit
	}
	for _, m := range explicitURL.FindAllString(text, -1) {
		if add(m) {
			return out
		}
	}
	for _, m := range bareDomain.FindAllString(text, -1) {
		if add(m) {
			return out
		}
	}
	return out
}

func normalizeURL(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), ").,;\"'`")
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if bareDomain.FindString(raw) == raw {
		return "https://" + raw
	}
	return raw
}

// ignoredURL filters grounding redirects and non-storefront destinations.
func ignoredURL(raw string) bool {
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return true
	case strings.HasSuffix(host, "vertexaisearch.cloud.google.com"),
		strings.HasSuffix(host, "webcache.googleusercontent.com"),
		strings.HasSuffix(host, "google.com") && strings.Contains(raw, "url"),
		strings.Contains(raw, "grounding-api-redirect"):
		return true
	}
	for _, part := range blockedHostParts {
		if host == part || strings.HasSuffix(host, "."+part) || (strings.HasSuffix(part, ".") && strings.Contains(host, part)) {
			return true
		}
	}
	return false
}

func (p *Provider) looksLikeStorefront(ctx context.Context, rawURL string) bool {
	if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(strings.ToLower(u.Hostname()), "myshopify.com") {
		return true
	}
	if p.storefront == nil {
		return false
	}
	resp, err := p.storefront.Get(ctx, rawURL)
	if err != nil {
		p.logger.Debug("storefront check failed", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	body := resp.Body
	if len(body) > 200_000 {
		body = body[:200_000]
	}
	page := strings.ToLower(string(body))
	if strings.Contains(strings.ToLower(resp.Headers.Get("Server")), "shopify") {
		return true
	}
	for _, marker := range storefrontMarkers {
		if strings.Contains(page, marker) {
			return true
		}
	}
	return strings.Contains(page, "/cart") && strings.Contains(page, "shopify")
}
