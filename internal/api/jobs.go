package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/export"
	"github.com/JakeFAU/storefront-contact-crawler/internal/reviews"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

type completeJobRequest struct {
	StoresProcessed int `json:"stores_processed"`
}

func errInvalidStatus(s store.Status) error {
	return fmt.Errorf("unknown status %q", s)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.deps.Repo.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, err, "list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": nonNil(jobs)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "job_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.deps.Repo.GetJob(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// submitJob starts a review listing ingest in the background. Progress is
// visible through GET /v1/jobs once the scraper reports its first page.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingester unavailable")
		return
	}
	var req reviews.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := url.Parse(strings.TrimSpace(req.AppURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "app_url must be an absolute http(s) URL")
		return
	}
	if req.MaxPages < 0 || req.MaxReviews < 0 {
		writeError(w, http.StatusBadRequest, "limits must be >= 0")
		return
	}
	if job, err := s.deps.Repo.JobByURL(r.Context(), req.AppURL); err == nil && job.Status == store.JobCompleted {
		s.writeStoreError(w, reviews.ErrJobCompleted, "submit job")
		return
	}

	reqID := requestID(r.Context())
	go func(ctx context.Context) {
		out, err := s.deps.Ingester.Ingest(ctx, req)
		if err != nil {
			s.logger.Error("ingest failed",
				zap.String("request_id", reqID),
				zap.String("app_url", req.AppURL),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("ingest finished",
			zap.String("request_id", reqID),
			zap.Int64("job_id", out.Job.ID),
			zap.Int("inserted", out.Inserted),
			zap.Bool("resumed", out.Resumed),
		)
	}(s.deps.BaseContext)

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "app_url": req.AppURL})
}

func (s *Server) completeJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingester unavailable")
		return
	}
	id, err := pathID(r, "job_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req completeJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Ingester.Complete(r.Context(), id, req.StoresProcessed); err != nil {
		s.writeStoreError(w, err, "complete job")
		return
	}
	job, err := s.deps.Repo.GetJob(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func exportRequest(r *http.Request) (export.Request, error) {
	q := r.URL.Query()
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		return export.Request{}, err
	}
	req := export.Request{
		AppName: strings.TrimSpace(q.Get("app")),
		Status:  store.Status(strings.TrimSpace(q.Get("status"))),
		Format:  format,
	}
	if req.Status != "" && !req.Status.Valid() {
		return export.Request{}, errInvalidStatus(req.Status)
	}
	return req, nil
}

// downloadExport renders the file in memory first so a failed query still
// yields a JSON error instead of a truncated attachment.
func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exporter unavailable")
		return
	}
	req, err := exportRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var buf bytes.Buffer
	rows, err := s.deps.Exporter.WriteTo(r.Context(), &buf, req)
	if err != nil {
		s.writeStoreError(w, err, "export stores")
		return
	}
	name := export.FileName(req, s.now())
	w.Header().Set("Content-Type", req.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Export-Rows", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes()) //nolint:errcheck // client went away
}

func (s *Server) uploadExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exporter unavailable")
		return
	}
	req, err := exportRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Exporter.Upload(r.Context(), req)
	if err != nil {
		s.writeStoreError(w, err, "upload export")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
