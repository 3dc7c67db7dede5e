package crawler

import (
	"context"
	"net/url"
	"strings"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsSitemaps returns same-host Sitemap directives from robots.txt. The
// crawler only visits a fixed set of contact-relevant pages, so robots.txt is
// read for its sitemap hints rather than enforced.
func (d *Discoverer) robotsSitemaps(ctx context.Context, root *url.URL) []string {
	robotsURL := root.ResolveReference(&url.URL{Path: "/robots.txt"}).String()
	page, err := d.fetcher.Fetch(ctx, robotsURL)
	if err != nil || len(page.Body) == 0 {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(page.StatusCode, page.Body)
	if err != nil {
		d.logger.Debug("robots parse failed", zap.String("url", robotsURL), zap.Error(err))
		return nil
	}
	var out []string
	for _, sm := range data.Sitemaps {
		u, err := url.Parse(strings.TrimSpace(sm))
		if err != nil || !sameHost(root, u) {
			continue
		}
		out = append(out, u.String())
	}
	return out
}
