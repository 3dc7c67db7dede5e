package crawler

import (
	"bytes"
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

// Discovery defaults.
const (
	DefaultMaxPages        = 50
	DefaultSitemapLimit    = 100
	DefaultDeepLinkSources = 5
	maxChildSitemaps       = 3
)

var seedPaths = []string{
	"/", "/contact", "/pages/contact", "/pages/contact-us",
	"/pages/about", "/pages/about-us", "/about", "/about-us",
	"/help", "/support", "/faq", "/pages/help", "/pages/support", "/pages/faq",
	"/team", "/careers", "/careers/contact", "/pages/team", "/pages/careers",
	"/policies/privacy-policy", "/policies/terms-of-service",
	"/policies/refund-policy", "/policies/shipping-policy",
	"/policies/contact-information", "/policies/terms", "/policies/privacy",
	"/sitemap.xml",
}

var (
	highValueKeywords = []string{
		"contact", "about", "privacy", "terms", "help", "support",
		"team", "careers", "email", "faq", "policy", "legal",
	}
	sitemapKeywords = []string{
		"contact", "about", "privacy", "terms", "help", "support",
		"team", "email", "policy", "policies", "legal", "faq",
	}
	deepLinkKeywords = []string{"contact", "email", "support", "help", "team", "about"}
	skipPaths        = []string{
		"/cart", "/checkout", "/account", "/search", "/products/",
		"/collections/", "/apps/", "/pages/product",
	}

	footerSelector = cascadia.MustCompile(
		`footer, [role="contentinfo"], .footer, #footer, .site-footer, #site-footer, .main-footer, #main-footer`,
	)
	linkSelector = cascadia.MustCompile(`a[href]`)
)

// DiscoveryConfig bounds page discovery.
type DiscoveryConfig struct {
	MaxPages        int
	SitemapLimit    int
	DeepLinkSources int
}

// Discoverer builds the prioritized page list for a store.
type Discoverer struct {
	fetcher Fetcher
	cfg     DiscoveryConfig
	logger  *zap.Logger
}

// NewDiscoverer returns a Discoverer that fetches through fetcher.
func NewDiscoverer(fetcher Fetcher, cfg DiscoveryConfig, logger *zap.Logger) *Discoverer {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.SitemapLimit <= 0 {
		cfg.SitemapLimit = DefaultSitemapLimit
	}
	if cfg.DeepLinkSources <= 0 {
		cfg.DeepLinkSources = DefaultDeepLinkSources
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, cfg: cfg, logger: logger}
}

// pageQueue accumulates candidates in discovery order with dedup.
type pageQueue struct {
	base  *url.URL
	seen  map[string]struct{}
	pages []CandidatePage
}

func (q *pageQueue) add(u *url.URL, priority Priority) bool {
	if u == nil || !sameHost(q.base, u) {
		return false
	}
	key, err := NormalizeURL(u.String())
	if err != nil {
		return false
	}
	if _, dup := q.seen[key]; dup {
		return false
	}
	q.seen[key] = struct{}{}
	q.pages = append(q.pages, CandidatePage{URL: u.String(), Priority: priority})
	return true
}

// Discover returns at most MaxPages candidates for baseURL, high priority
// first. Failures while fetching the sitemap, homepage or deep-link sources
// only shrink the result; the seed list is always present. The only error is
// an unusable base URL.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) ([]CandidatePage, error) {
	base, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
	q := &pageQueue{base: root, seen: make(map[string]struct{})}

	for _, p := range seedPaths {
		u := root.ResolveReference(&url.URL{Path: p})
		q.add(u, keywordPriority(u.String()))
	}

	for _, loc := range d.sitemapURLs(ctx, root) {
		u, err := url.Parse(loc)
		if err != nil {
			continue
		}
		q.add(u, keywordPriority(loc))
	}

	if home, err := d.fetcher.Fetch(ctx, base.String()); err == nil && len(home.Body) > 0 {
		for _, u := range footerLinks(home.Body, pageBase(home, base)) {
			q.add(u, PriorityMedium)
		}
	} else if err != nil {
		d.logger.Debug("homepage fetch failed during discovery", zap.String("url", base.String()), zap.Error(err))
	}

	var sources []string
	for _, p := range q.pages {
		if p.Priority == PriorityHigh {
			sources = append(sources, p.URL)
		}
		if len(sources) == d.cfg.DeepLinkSources {
			break
		}
	}
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		page, err := d.fetcher.Fetch(ctx, src)
		if err != nil || len(page.Body) == 0 {
			continue
		}
		srcURL, _ := url.Parse(src)
		for _, u := range deepLinks(page.Body, pageBase(page, srcURL)) {
			q.add(u, PriorityLow)
		}
	}

	sort.SliceStable(q.pages, func(i, j int) bool {
		return q.pages[i].Priority < q.pages[j].Priority
	})
	if len(q.pages) > d.cfg.MaxPages {
		q.pages = q.pages[:d.cfg.MaxPages]
	}
	return q.pages, nil
}

// sitemapURLs reads /sitemap.xml plus any Sitemap directives in robots.txt,
// expanding sitemap indexes one level. Keyword matches are ranked first and
// the result is capped at SitemapLimit.
func (d *Discoverer) sitemapURLs(ctx context.Context, root *url.URL) []string {
	primary := root.ResolveReference(&url.URL{Path: "/sitemap.xml"}).String()
	sitemaps := []string{primary}
	for _, hint := range d.robotsSitemaps(ctx, root) {
		if hint != primary {
			sitemaps = append(sitemaps, hint)
		}
	}

	var locs []string
	for _, sm := range sitemaps {
		pages, children := d.readSitemap(ctx, sm)
		locs = append(locs, pages...)
		for i, child := range rankSitemaps(children) {
			if i == maxChildSitemaps {
				break
			}
			childPages, _ := d.readSitemap(ctx, child)
			locs = append(locs, childPages...)
		}
	}
	return rankByKeywords(locs, sitemapKeywords, d.cfg.SitemapLimit)
}

func (d *Discoverer) readSitemap(ctx context.Context, sitemapURL string) (pages []string, children []string) {
	page, err := d.fetcher.Fetch(ctx, sitemapURL)
	if err != nil || len(page.Body) == 0 {
		return nil, nil
	}
	doc, err := xmlquery.Parse(bytes.NewReader(page.Body))
	if err != nil {
		d.logger.Debug("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil, nil
	}
	isIndex := xmlquery.FindOne(doc, "//*[local-name()='sitemapindex']") != nil
	for _, n := range xmlquery.Find(doc, "//*[local-name()='loc']") {
		loc := strings.TrimSpace(n.InnerText())
		if loc == "" {
			continue
		}
		if isIndex {
			children = append(children, loc)
		} else {
			pages = append(pages, loc)
		}
	}
	return pages, children
}

func keywordPriority(u string) Priority {
	if containsAny(u, highValueKeywords) {
		return PriorityHigh
	}
	return PriorityMedium
}

// rankByKeywords moves keyword matches ahead of the rest, preserving order
// within each group, and truncates to limit.
func rankByKeywords(urls []string, keywords []string, limit int) []string {
	ranked := make([]string, 0, len(urls))
	var rest []string
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if containsAny(u, keywords) {
			ranked = append(ranked, u)
		} else {
			rest = append(rest, u)
		}
	}
	ranked = append(ranked, rest...)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// rankSitemaps prefers child sitemaps that list content pages or policies
// over product and collection listings.
func rankSitemaps(children []string) []string {
	return rankByKeywords(children, []string{"pages", "policies", "blogs"}, 0)
}

func pageBase(page Page, fallback *url.URL) *url.URL {
	if page.FinalURL != "" {
		if u, err := url.Parse(page.FinalURL); err == nil {
			return u
		}
	}
	return fallback
}

func footerLinks(body []byte, base *url.URL) []*url.URL {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var out []*url.URL
	doc.FindMatcher(footerSelector).FindMatcher(linkSelector).Each(func(_ int, s *goquery.Selection) {
		u, ok := resolveLink(base, s.AttrOr("href", ""))
		if ok && sameHost(base, u) && containsAny(u.String(), highValueKeywords) {
			out = append(out, u)
		}
	})
	return out
}

func deepLinks(body []byte, base *url.URL) []*url.URL {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var out []*url.URL
	doc.FindMatcher(linkSelector).Each(func(_ int, s *goquery.Selection) {
		u, ok := resolveLink(base, s.AttrOr("href", ""))
		if !ok || !sameHost(base, u) {
			return
		}
		full := u.String()
		if containsAny(full, skipPaths) || !containsAny(full, deepLinkKeywords) {
			return
		}
		out = append(out, u)
	})
	return out
}
