// Package api exposes the HTTP interface for the contact crawler.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/dispatcher"
	"github.com/JakeFAU/storefront-contact-crawler/internal/export"
	"github.com/JakeFAU/storefront-contact-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-contact-crawler/internal/reviews"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	requestTimeout   = 60 * time.Second
)

// Pool is the control surface of a worker pool.
type Pool interface {
	StartBatch(ctx context.Context) int
	TryAdmit(ctx context.Context) (bool, error)
	Stop()
	Status() dispatcher.Status
}

// StoreProcessor handles one store synchronously.
type StoreProcessor interface {
	Process(ctx context.Context, id int64) error
}

// Ingester records review listings.
type Ingester interface {
	Ingest(ctx context.Context, req reviews.Request) (reviews.Outcome, error)
	Complete(ctx context.Context, jobID int64, processed int) error
}

// Exporter renders store exports.
type Exporter interface {
	WriteTo(ctx context.Context, w io.Writer, req export.Request) (int, error)
	Upload(ctx context.Context, req export.Request) (export.Result, error)
}

// Deps are the collaborators behind the routes. Nil pools, ingester or
// exporter make their routes answer 503.
type Deps struct {
	Repo      store.Repository
	EmailPool Pool
	URLPool   Pool
	URLJob    StoreProcessor
	Ingester  Ingester
	Exporter  Exporter
	Clock     crawler.Clock
	// BaseContext parents work that outlives a request, such as ingests.
	BaseContext context.Context
}

// Options configures middleware.
type Options struct {
	AuthEnabled bool
	APIKey      string
}

// Server wires HTTP handlers to the repository and worker pools.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Use(timeoutMiddleware(requestTimeout))

		r.Route("/stores", func(r chi.Router) {
			r.Get("/", s.listStores)
			r.Post("/delete", s.deleteStores)
			r.Route("/{store_id}", func(r chi.Router) {
				r.Get("/", s.getStore)
				r.Post("/skip", s.skipStore)
				r.Put("/url", s.setStoreURL)
				r.Put("/emails", s.setStoreEmails)
				r.Post("/review-select", s.selectReviewURL)
			})
		})
		r.Route("/queues", func(r chi.Router) {
			r.Get("/pending-url", s.pendingURLQueue)
			r.Get("/pending-email", s.pendingEmailQueue)
			r.Get("/review", s.reviewQueue)
		})
		r.Route("/email-scraping", func(r chi.Router) {
			r.Post("/start-next", s.startNextEmail)
			r.Post("/start", s.startPool(func() Pool { return s.deps.EmailPool }))
			r.Post("/stop", s.stopPool(func() Pool { return s.deps.EmailPool }))
			r.Get("/status", s.poolStatus(func() Pool { return s.deps.EmailPool }))
		})
		r.Route("/url-finding", func(r chi.Router) {
			r.Post("/start", s.startPool(func() Pool { return s.deps.URLPool }))
			r.Post("/stop", s.stopPool(func() Pool { return s.deps.URLPool }))
			r.Get("/status", s.poolStatus(func() Pool { return s.deps.URLPool }))
			r.Post("/process-one", s.processOneURL)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/", s.submitJob)
			r.Get("/{job_id}", s.getJob)
			r.Post("/{job_id}/complete", s.completeJob)
		})
		r.Get("/statistics", s.statistics)
		r.Get("/export", s.downloadExport)
		r.Post("/export", s.uploadExport)
	})

	s.router = r
	return s
}

func (s *Server) now() time.Time {
	if s.deps.Clock == nil {
		return time.Now().UTC()
	}
	return s.deps.Clock.Now().UTC()
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository unavailable")
		return
	}
	if _, err := s.deps.Repo.ListJobs(r.Context(), 1, 0); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "repository unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeStoreError maps domain errors onto HTTP status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, "store is being processed")
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reviews.ErrJobCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error(action+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", param)
	}
	return id, nil
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	limit := defaultListLimit
	offset := 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(v, maxListLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
		offset = v
	}
	return limit, offset, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
