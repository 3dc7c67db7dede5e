package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/extract"
	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
)

// ErrStopped is returned when the engine's stop flag interrupts a crawl.
var ErrStopped = errors.New("crawler: stopped")

// Crawl failure messages recorded on the store when no emails were found.
const (
	msgNoPagesDiscovered = "No pages discovered"
	msgNoPagesScraped    = "No pages successfully scraped"
)

// spamMarkers drop asset names and placeholder addresses that match the
// address pattern in page source.
var spamMarkers = []string{
	".png", ".jpg", ".jpeg", ".gif", ".css", ".js",
	"example.com", "test@", "noreply@", "no-reply@",
}

// Config bounds one crawl.
type Config struct {
	Discovery DiscoveryConfig
	Session   SessionConfig
}

// Engine drives discovery, fetching and extraction for one store at a time.
// An Engine is safe for concurrent Crawl calls; each call owns its Session.
type Engine struct {
	transport Transport
	cfg       Config
	extract   ExtractFunc
	hasher    Hasher
	emitter   progress.Emitter
	pauser    sleeper
	logger    *zap.Logger
	stopped   atomic.Bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithExtractor overrides the default email extractor.
func WithExtractor(fn ExtractFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.extract = fn
		}
	}
}

// WithHasher enables skipping pages whose body was already extracted.
func WithHasher(h Hasher) Option {
	return func(e *Engine) { e.hasher = h }
}

// WithEmitter publishes a progress event for every page visited.
func WithEmitter(em progress.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func withPauser(p sleeper) Option {
	return func(e *Engine) { e.pauser = p }
}

// NewEngine builds an Engine over transport.
func NewEngine(transport Transport, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		transport: transport,
		cfg:       cfg,
		extract:   extract.Extract,
		pauser:    wallSleeper{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stop raises the stop flag; running crawls return ErrStopped at the next
// page boundary. In-flight fetch attempts complete first.
func (e *Engine) Stop() { e.stopped.Store(true) }

// Resume clears the stop flag.
func (e *Engine) Resume() { e.stopped.Store(false) }

// Stopped reports whether the stop flag is raised.
func (e *Engine) Stopped() bool { return e.stopped.Load() }

// Crawl discovers and visits pages for baseURL and returns the raw email
// union with diagnostics. A crawl that could not proceed is reported through
// Result.Error, not the returned error; the error is reserved for an unusable
// base URL, cancellation and ErrStopped.
func (e *Engine) Crawl(ctx context.Context, baseURL string, runID [16]byte) (Result, error) {
	start := time.Now()
	result := Result{BaseURL: baseURL}
	logger := e.logger.With(zap.String("base_url", baseURL))

	session := NewSession(e.transport, e.cfg.Session, logger, e.pauser)
	pages, err := NewDiscoverer(session, e.cfg.Discovery, logger).Discover(ctx, baseURL)
	if err != nil {
		return result, fmt.Errorf("discover: %w", err)
	}
	result.Stats.PagesDiscovered = len(pages)
	logger.Info("discovered pages", zap.Int("count", len(pages)))

	// A breaker opened by discovery stays open for the rest of the session.
	if session.CircuitOpen() {
		result.Stats.CircuitOpen = true
		result.Stats.PagesFailed = len(pages)
		logger.Warn("circuit opened during discovery, abandoning crawl", zap.Int("planned", len(pages)))
		return e.finish(result, nil, start), nil
	}
	session.Reset()
	visited := pageSet{}
	bodies := make(map[string]struct{})
	found := make(map[string]struct{})

	for i, page := range pages {
		if e.Stopped() {
			return e.finish(result, found, start), ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return e.finish(result, found, start), fmt.Errorf("crawl %s: %w", baseURL, err)
		}
		if session.CircuitOpen() {
			result.Stats.CircuitOpen = true
			result.Stats.PagesFailed += len(pages) - i
			break
		}
		key, err := NormalizeURL(page.URL)
		if err != nil || !visited.add(key) {
			continue
		}
		if result.Stats.PagesAttempted > 0 {
			session.Pause(ctx, session.Delay())
		}

		result.Stats.PagesAttempted++
		fetchStart := time.Now()
		fetched, err := session.Fetch(ctx, page.URL)
		e.emitPage(runID, page.URL, fetched, time.Since(fetchStart))
		if err != nil || len(fetched.Body) == 0 {
			result.Stats.PagesFailed++
			if errors.Is(err, ErrCircuitOpen) {
				result.Stats.CircuitOpen = true
				result.Stats.PagesFailed += len(pages) - i - 1
				logger.Warn("circuit open, abandoning crawl",
					zap.Int("attempted", result.Stats.PagesAttempted), zap.Int("planned", len(pages)))
				break
			}
			continue
		}
		result.Stats.PagesScraped++

		if e.seenBody(bodies, fetched.Body) {
			continue
		}
		emails := e.extract(fetched.Body, fetched.FinalURL)
		if len(emails) > 0 {
			result.Stats.PagesWithEmails++
			for _, email := range emails {
				found[email] = struct{}{}
			}
			logger.Debug("emails on page",
				zap.String("url", page.URL), zap.String("priority", page.Priority.String()), zap.Strings("emails", emails))
		}
	}

	return e.finish(result, found, start), nil
}

func (e *Engine) finish(result Result, found map[string]struct{}, start time.Time) Result {
	result.RawEmails = filterSpam(found)
	result.Duration = time.Since(start)
	if len(result.RawEmails) == 0 {
		result.Error = diagnose(result.Stats)
	}
	return result
}

func (e *Engine) seenBody(bodies map[string]struct{}, body []byte) bool {
	if e.hasher == nil {
		return false
	}
	sum, err := e.hasher.Hash(body)
	if err != nil {
		return false
	}
	if _, dup := bodies[sum]; dup {
		return true
	}
	bodies[sum] = struct{}{}
	return false
}

func (e *Engine) emitPage(runID [16]byte, pageURL string, page Page, dur time.Duration) {
	if e.emitter == nil || runID == [16]byte{} {
		return
	}
	e.emitter.Emit(progress.Event{
		RunID:       runID,
		TS:          time.Now().UTC(),
		Stage:       progress.StagePageDone,
		Kind:        progress.KindEmail,
		Site:        progress.SiteOf(pageURL),
		URL:         pageURL,
		Bytes:       int64(len(page.Body)),
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Dur:         dur,
	})
}

// diagnose explains an empty crawl. It returns "" when pages were scraped
// fine and simply carried no addresses.
func diagnose(s Stats) string {
	switch {
	case s.PagesDiscovered == 0:
		return msgNoPagesDiscovered
	case s.PagesFailed == s.PagesDiscovered:
		return fmt.Sprintf("All %d pages failed", s.PagesDiscovered)
	case s.PagesScraped == 0:
		return msgNoPagesScraped
	default:
		return ""
	}
}

func filterSpam(found map[string]struct{}) []string {
	out := make([]string, 0, len(found))
	for email := range found {
		lower := strings.ToLower(email)
		if containsAny(lower, spamMarkers) {
			continue
		}
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}
