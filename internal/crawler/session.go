package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-contact-crawler/internal/policy/ratelimit"
)

// ErrCircuitOpen is returned once sustained 429 responses have tripped the
// session breaker. No further requests are issued by that session.
var ErrCircuitOpen = errors.New("crawler: circuit breaker open")

// HTTPError reports a non-success status that exhausted its retries.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// SessionConfig tunes a fetch session.
type SessionConfig struct {
	MaxAttempts int
	RateControl ratelimit.AdaptiveConfig
}

// Session is the ephemeral fetch state for one store's crawl. It owns the
// adaptive delay and breaker and must not be shared across stores.
type Session struct {
	transport Transport
	control   *ratelimit.Adaptive
	retry     *ExponentialRetryPolicy
	pauser    sleeper
	logger    *zap.Logger
	now       func() time.Time
}

// NewSession builds a Session over transport.
func NewSession(transport Transport, cfg SessionConfig, logger *zap.Logger, pauser sleeper) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pauser == nil {
		pauser = wallSleeper{}
	}
	return &Session{
		transport: transport,
		control:   ratelimit.NewAdaptive(cfg.RateControl),
		retry:     NewExponentialRetryPolicy(cfg.MaxAttempts),
		pauser:    pauser,
		logger:    logger,
		now:       time.Now,
	}
}

// Delay returns the current adaptive inter-request delay.
func (s *Session) Delay() time.Duration {
	return s.control.Delay()
}

// CircuitOpen reports whether the breaker has tripped.
func (s *Session) CircuitOpen() bool {
	return s.control.Open()
}

// Reset restores the base delay and closes the breaker.
func (s *Session) Reset() {
	s.control.Reset()
}

// Pause sleeps for d unless ctx ends first.
func (s *Session) Pause(ctx context.Context, d time.Duration) {
	s.pauser.Pause(ctx, d)
}

// Fetch GETs rawURL with retries and adaptive rate control.
//
// A 404 is not an error: it returns an empty Page. A 429 grows the delay and
// counts toward the breaker; when the breaker trips Fetch returns
// ErrCircuitOpen immediately. Other failures back off 2^attempt seconds.
func (s *Session) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if s.control.Open() {
		return Page{}, ErrCircuitOpen
	}
	var lastErr error
	for attempt := 0; attempt < s.retry.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return Page{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		resp, err := s.transport.Get(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return Page{}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
			}
			lastErr = err
			metrics.ObservePage(rawURL, "error", 0)
			if s.retry.ShouldRetry(err, attempt) {
				backoff := s.retry.Backoff(attempt)
				s.logger.Debug("fetch error, backing off",
					zap.String("url", rawURL), zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))
				s.pauser.Pause(ctx, backoff)
			}
			continue
		}

		switch code := resp.StatusCode; {
		case code == http.StatusNotFound:
			s.control.ReportNotFound()
			metrics.ObservePage(rawURL, "not_found", 0)
			return Page{URL: rawURL, FinalURL: finalURL(resp, rawURL), StatusCode: code}, nil

		case code == http.StatusTooManyRequests:
			hint := parseRetryAfter(resp.Headers.Get("Retry-After"), s.now())
			wait, opened := s.control.ReportThrottled(hint)
			metrics.ObservePage(rawURL, "throttled", 0)
			metrics.ObserveThrottleWait(wait)
			if opened {
				metrics.ObserveCircuitOpen()
				s.logger.Warn("circuit breaker opened",
					zap.String("url", rawURL), zap.Int("consecutive_429", s.control.Consecutive429()))
				return Page{}, ErrCircuitOpen
			}
			s.logger.Debug("throttled",
				zap.String("url", rawURL), zap.Int("attempt", attempt+1), zap.Duration("wait", wait))
			lastErr = &HTTPError{URL: rawURL, StatusCode: code}
			if attempt < s.retry.MaxAttempts()-1 {
				s.pauser.Pause(ctx, wait)
			}

		case code >= http.StatusBadRequest:
			lastErr = &HTTPError{URL: rawURL, StatusCode: code}
			metrics.ObservePage(rawURL, "http_error", 0)
			if s.retry.ShouldRetry(lastErr, attempt) {
				s.pauser.Pause(ctx, s.retry.Backoff(attempt))
			}

		default:
			if code >= 200 && code < 300 {
				s.control.ReportSuccess()
			}
			metrics.ObservePage(rawURL, "ok", len(resp.Body))
			return Page{
				URL:        rawURL,
				FinalURL:   finalURL(resp, rawURL),
				StatusCode: code,
				Body:       resp.Body,
			}, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no attempts made")
	}
	return Page{}, fmt.Errorf("fetch %s after %d attempts: %w", rawURL, s.retry.MaxAttempts(), lastErr)
}

func finalURL(resp Response, fallback string) string {
	if resp.URL != "" {
		return resp.URL
	}
	return fallback
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Unparseable or past
// values yield zero, meaning "no hint".
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
