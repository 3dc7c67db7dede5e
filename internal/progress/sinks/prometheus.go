package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
)

// PrometheusSink exports run and page progress. It owns its collectors so
// tests can register against a private registry.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   *prometheus.GaugeVec
	runRuntime    *prometheus.HistogramVec

	pageFetches  *prometheus.CounterVec
	pageBytes    *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	reviewPages prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_runs_started_total",
			Help: "Runs started, by kind (email, url, reviews).",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_runs_completed_total",
			Help: "Runs completed, by kind and result.",
		}, []string{"kind", "result"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "progress_runs_running",
			Help: "Runs currently in flight, by kind.",
		}, []string{"kind"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind", "result"}),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_page_fetches_total",
			Help: "Crawled pages by site and status class.",
		}, []string{"site", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_page_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_page_duration_seconds",
			Help:    "Page fetch duration including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status_class"}),
		reviewPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progress_review_pages_total",
			Help: "Review listing pages scraped.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pageFetches,
		s.pageBytes,
		s.pageDuration,
		s.reviewPages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			s.handleRunEvent(evt)
		case progress.StagePageDone:
			s.handlePageEvent(evt)
		case progress.StageReviewPage:
			s.reviewPages.Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	kind := string(evt.Kind)
	if evt.Stage == progress.StageRunStart {
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.WithLabelValues(kind).Inc()
		}
		return
	}
	result := "success"
	if evt.Stage == progress.StageRunError {
		result = "error"
	}
	s.runsCompleted.WithLabelValues(kind, result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.WithLabelValues(kind).Dec()
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.pageFetches.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
