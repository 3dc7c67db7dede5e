package crawler

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-contact-crawler/internal/hash/sha256"
	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
)

var testRunID = [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

func newTestEngine(transport Transport, opts ...Option) *Engine {
	cfg := Config{Session: testSessionConfig()}
	opts = append([]Option{withPauser(&recordingPauser{})}, opts...)
	return NewEngine(transport, cfg, opts...)
}

func TestCrawlFindsMailtoOnHomepage(t *testing.T) {
	home := `<html><body><a href="mailto:sales@store.com">Email us</a></body></html>`
	transport := newFakeTransport().
		html("https://store.com", home).
		html("https://store.com/", home)

	result, err := newTestEngine(transport).Crawl(context.Background(), "https://store.com", testRunID)
	require.NoError(t, err)
	require.Equal(t, []string{"sales@store.com"}, result.RawEmails)
	require.Empty(t, result.Error)
	require.False(t, result.Failed())
	require.Equal(t, len(seedPaths), result.Stats.PagesDiscovered)
	require.Equal(t, 1, result.Stats.PagesScraped)
	require.Equal(t, 1, result.Stats.PagesWithEmails)
	require.Equal(t, len(seedPaths)-1, result.Stats.PagesFailed)
}

func TestCrawlAbandonsWhenCircuitOpens(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(http.StatusTooManyRequests)

	result, err := newTestEngine(transport).Crawl(context.Background(), "https://store.com", testRunID)
	require.NoError(t, err)
	require.Empty(t, result.RawEmails)
	require.True(t, result.Stats.CircuitOpen)
	require.Equal(t, result.Stats.PagesDiscovered, result.Stats.PagesFailed)
	require.Equal(t, "All 27 pages failed", result.Error)
	require.Zero(t, result.Stats.PagesAttempted)
	require.Equal(t, 5, transport.callCount(), "no request follows the fifth 429")
}

func TestCrawlReportsPagesWithoutEmails(t *testing.T) {
	transport := newFakeTransport().html("https://store.com/about", "<p>We love candles.</p>")

	result, err := newTestEngine(transport).Crawl(context.Background(), "store.com", testRunID)
	require.NoError(t, err)
	require.Empty(t, result.RawEmails)
	require.Empty(t, result.Error, "a scraped page with no address is not a failure")
	require.Equal(t, 1, result.Stats.PagesScraped)
}

func TestCrawlAllNotFound(t *testing.T) {
	result, err := newTestEngine(newFakeTransport()).Crawl(context.Background(), "store.com", testRunID)
	require.NoError(t, err)
	require.Equal(t, "All 27 pages failed", result.Error)
	require.False(t, result.Stats.CircuitOpen)
}

func TestCrawlHonorsStopFlag(t *testing.T) {
	transport := newFakeTransport().html("https://store.com/contact", `<a href="mailto:hello@store.com">x</a>`)
	engine := newTestEngine(transport)

	engine.Stop()
	require.True(t, engine.Stopped())
	_, err := engine.Crawl(context.Background(), "store.com", testRunID)
	require.ErrorIs(t, err, ErrStopped)

	engine.Resume()
	result, err := engine.Crawl(context.Background(), "store.com", testRunID)
	require.NoError(t, err)
	require.Equal(t, []string{"hello@store.com"}, result.RawEmails)
}

func TestCrawlStopMidRun(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(http.StatusOK)
	var engine *Engine
	extracted := 0
	engine = newTestEngine(transport, WithExtractor(func([]byte, string) []string {
		extracted++
		engine.Stop()
		return []string{"owner@store.com"}
	}))

	result, err := engine.Crawl(context.Background(), "store.com", testRunID)
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 1, extracted)
	require.Equal(t, []string{"owner@store.com"}, result.RawEmails, "partial results survive a stop")
}

func TestCrawlSkipsDuplicateBodies(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(http.StatusOK)
	extracted := 0
	counting := WithExtractor(func([]byte, string) []string {
		extracted++
		return nil
	})

	_, err := newTestEngine(transport, counting, WithHasher(sha256.New())).
		Crawl(context.Background(), "store.com", testRunID)
	require.NoError(t, err)
	require.Equal(t, 1, extracted)

	extracted = 0
	_, err = newTestEngine(transport, counting).Crawl(context.Background(), "store.com", testRunID)
	require.NoError(t, err)
	require.Equal(t, len(seedPaths), extracted)
}

func TestCrawlFiltersSpamAddresses(t *testing.T) {
	transport := newFakeTransport()
	transport.handler = scriptedResponses(http.StatusOK)
	engine := newTestEngine(transport, WithExtractor(func([]byte, string) []string {
		return []string{"Owner@Store.com", "logo@2x.png", "noreply@store.com", "test@store.com", "info@example.com"}
	}))

	result, err := engine.Crawl(context.Background(), "store.com", testRunID)
	require.NoError(t, err)
	require.Equal(t, []string{"owner@store.com"}, result.RawEmails)
}

func TestCrawlEmitsPageEvents(t *testing.T) {
	transport := newFakeTransport().html("https://store.com/contact", "<p>hi</p>")
	var (
		mu     sync.Mutex
		events []progress.Event
	)
	emitter := progress.EmitterFunc(func(evt progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	})

	result, err := newTestEngine(transport, WithEmitter(emitter)).Crawl(context.Background(), "store.com", testRunID)
	require.NoError(t, err)
	require.Len(t, events, result.Stats.PagesAttempted)

	var ok, notFound int
	for _, evt := range events {
		require.NoError(t, evt.Validate())
		require.Equal(t, progress.StagePageDone, evt.Stage)
		require.Equal(t, "store.com", evt.Site)
		switch evt.StatusClass {
		case progress.Status2xx:
			ok++
		case progress.Status4xx:
			notFound++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, len(seedPaths)-1, notFound)
}

func TestCrawlCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(newFakeTransport()).Crawl(ctx, "store.com", testRunID)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDiagnose(t *testing.T) {
	require.Equal(t, msgNoPagesDiscovered, diagnose(Stats{}))
	require.Equal(t, "All 3 pages failed", diagnose(Stats{PagesDiscovered: 3, PagesFailed: 3}))
	require.Equal(t, msgNoPagesScraped, diagnose(Stats{PagesDiscovered: 3, PagesFailed: 1}))
	require.Empty(t, diagnose(Stats{PagesDiscovered: 3, PagesScraped: 1}))
}
