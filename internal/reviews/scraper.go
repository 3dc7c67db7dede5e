// Package reviews ingests stores from Shopify app-store review listings.
//
// A listing is paged with ?page=N. Scraper walks the pages and parses review
// blocks; Ingester records the job and turns reviews into pending stores.
package reviews

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// emptyPagesToStop consecutive pages without reviews end a listing.
const emptyPagesToStop = 2

// Limits bound one scrape. Zero means unlimited; StartPage defaults to 1.
type Limits struct {
	MaxPages   int
	MaxReviews int
	StartPage  int
}

// ProgressFunc receives (message, current page, total pages, reviews so far).
type ProgressFunc func(message string, currentPage, totalPages, count int)

// Waiter paces page requests. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// ScrapeResult is the outcome of Scrape.
type ScrapeResult struct {
	Reviews []store.NewStore
	// LastPage is the last page that yielded reviews.
	LastPage int
	// Exhausted reports that the listing ran out of reviews.
	Exhausted bool
}

// Scraper walks review listing pages.
type Scraper struct {
	fetcher crawler.Fetcher
	waiter  Waiter
	logger  *zap.Logger
}

// NewScraper builds a Scraper. waiter may be nil.
func NewScraper(fetcher crawler.Fetcher, waiter Waiter, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{fetcher: fetcher, waiter: waiter, logger: logger}
}

// Scrape reads pages of reviewURL until the listing is exhausted or a limit
// is hit. Individual page failures count as empty pages; a tripped circuit
// breaker or cancellation ends the scrape with an error and the reviews read
// so far.
func (s *Scraper) Scrape(ctx context.Context, reviewURL string, lim Limits, progress ProgressFunc) (ScrapeResult, error) {
	if progress == nil {
		progress = func(string, int, int, int) {}
	}
	start := max(lim.StartPage, 1)
	urlRating := RatingFromURL(reviewURL)
	host := ""
	if u, err := url.Parse(reviewURL); err == nil {
		host = u.Host
	}
	logger := s.logger.With(zap.String("review_url", reviewURL))

	res := ScrapeResult{LastPage: start - 1}
	progress(fmt.Sprintf("Starting review scraping from page %d...", start), start-1, 0, 0)

	empty := 0
	for page := start; ; page++ {
		if lim.MaxPages > 0 && page > start-1+lim.MaxPages {
			progress(fmt.Sprintf("Reached max_pages limit, stopping at page %d", page-1), page-1, page-1, len(res.Reviews))
			return res, nil
		}
		progress(fmt.Sprintf("Scraping page %d...", page), page, 0, len(res.Reviews))

		rows, err := s.page(ctx, host, pageURL(reviewURL, page), urlRating)
		if err != nil {
			return res, err
		}
		if len(rows) == 0 {
			empty++
			if empty >= emptyPagesToStop {
				res.Exhausted = true
				progress("Finished scraping (no more reviews)", page, page, len(res.Reviews))
				logger.Info("listing exhausted", zap.Int("page", page), zap.Int("reviews", len(res.Reviews)))
				return res, nil
			}
			continue
		}
		empty = 0
		res.LastPage = page

		if lim.MaxReviews > 0 && len(res.Reviews)+len(rows) >= lim.MaxReviews {
			res.Reviews = append(res.Reviews, rows[:lim.MaxReviews-len(res.Reviews)]...)
			progress(fmt.Sprintf("Reached max_reviews limit (%d) at page %d", lim.MaxReviews, page), page, page, len(res.Reviews))
			return res, nil
		}
		res.Reviews = append(res.Reviews, rows...)
		progress(fmt.Sprintf("Found %d reviews on page %d", len(rows), page), page, page, len(res.Reviews))
		logger.Debug("review page parsed", zap.Int("page", page), zap.Int("rows", len(rows)))
	}
}

func (s *Scraper) page(ctx context.Context, host, pageURL string, urlRating int) ([]store.NewStore, error) {
	if s.waiter != nil {
		if err := s.waiter.Wait(ctx, host); err != nil {
			return nil, err
		}
	}
	p, err := s.fetcher.Fetch(ctx, pageURL)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, crawler.ErrCircuitOpen):
		return nil, fmt.Errorf("review listing throttled: %w", err)
	case err != nil:
		s.logger.Warn("review page failed", zap.String("url", pageURL), zap.Error(err))
		return nil, nil
	case len(p.Body) == 0:
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		s.logger.Warn("review page unparseable", zap.String("url", pageURL), zap.Error(err))
		return nil, nil
	}
	return ParseReviews(doc, urlRating), nil
}

func pageURL(reviewURL string, page int) string {
	u, err := url.Parse(reviewURL)
	if err != nil {
		return reviewURL
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
