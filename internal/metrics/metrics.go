// Package metrics exposes Prometheus collectors for the contact crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	crawlerCircuitOpenTotal    prometheus.Counter
	crawlerThrottleWaitSeconds prometheus.Histogram
	crawlerEmailsTotal         *prometheus.CounterVec
	storeOutcomesTotal         *prometheus.CounterVec
	resolverCallsTotal         *prometheus.CounterVec
	poolActiveWorkers          *prometheus.GaugeVec
	providerWaitSeconds        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerCircuitOpenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_circuit_open_total",
				Help: "Total crawl sessions aborted by the 429 circuit breaker.",
			},
		)

		crawlerThrottleWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_throttle_wait_seconds",
				Help:    "Histogram of waits imposed after HTTP 429 responses.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		crawlerEmailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_emails_total",
				Help: "Emails found per crawl, labeled by stage (raw or accepted).",
			},
			[]string{"stage"},
		)

		storeOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_outcomes_total",
				Help: "Store lifecycle transitions written by workers, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		resolverCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_calls_total",
				Help: "Resolver provider calls, labeled by provider and result.",
			},
			[]string{"provider", "result"},
		)

		poolActiveWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pool_active_workers",
				Help: "Number of worker slots currently processing a store.",
			},
			[]string{"pool"},
		)

		providerWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resolver_rate_limit_wait_seconds",
				Help:    "Histogram of client-side rate limit waits before provider calls.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one page fetch outcome.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCircuitOpen counts a session whose breaker tripped.
func ObserveCircuitOpen() {
	Init()
	crawlerCircuitOpenTotal.Inc()
}

// ObserveThrottleWait records the wait chosen after a 429.
func ObserveThrottleWait(wait time.Duration) {
	Init()
	crawlerThrottleWaitSeconds.Observe(wait.Seconds())
}

// ObserveEmails adds n emails to the given stage counter.
func ObserveEmails(stage string, n int) {
	Init()
	if n > 0 {
		crawlerEmailsTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveStoreOutcome counts a status written for a store.
func ObserveStoreOutcome(stage, status string) {
	Init()
	storeOutcomesTotal.WithLabelValues(stage, status).Inc()
}

// ObserveResolverCall counts a provider call result ("ok", "empty", "error").
func ObserveResolverCall(provider, result string) {
	Init()
	resolverCallsTotal.WithLabelValues(provider, result).Inc()
}

// IncActiveWorkers increments the active workers gauge for pool.
func IncActiveWorkers(pool string) {
	Init()
	poolActiveWorkers.WithLabelValues(pool).Inc()
}

// DecActiveWorkers decrements the active workers gauge for pool.
func DecActiveWorkers(pool string) {
	Init()
	poolActiveWorkers.WithLabelValues(pool).Dec()
}

// ObserveRateLimitDelay records the duration of a provider rate limit wait.
func ObserveRateLimitDelay(provider string, duration time.Duration) {
	Init()
	providerWaitSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}
