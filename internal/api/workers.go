package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

type processOneRequest struct {
	StoreID int64 `json:"store_id"`
}

func (s *Server) startNextEmail(w http.ResponseWriter, r *http.Request) {
	pool := s.deps.EmailPool
	if pool == nil {
		writeError(w, http.StatusServiceUnavailable, "email pool unavailable")
		return
	}
	started, err := pool.TryAdmit(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "start next store")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": started, "status": pool.Status()})
}

// startPool opens admission. Stores run on the pool's own context, so the
// request returning does not cancel them.
func (s *Server) startPool(get func() Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pool := get()
		if pool == nil {
			writeError(w, http.StatusServiceUnavailable, "pool unavailable")
			return
		}
		n := pool.StartBatch(r.Context())
		s.logger.Info("pool started", zap.String("pool", pool.Status().Name), zap.Int("admitted", n))
		writeJSON(w, http.StatusAccepted, map[string]any{"started": n, "status": pool.Status()})
	}
}

func (s *Server) stopPool(get func() Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		pool := get()
		if pool == nil {
			writeError(w, http.StatusServiceUnavailable, "pool unavailable")
			return
		}
		pool.Stop()
		writeJSON(w, http.StatusOK, map[string]any{"status": pool.Status()})
	}
}

func (s *Server) poolStatus(get func() Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		pool := get()
		if pool == nil {
			writeError(w, http.StatusServiceUnavailable, "pool unavailable")
			return
		}
		writeJSON(w, http.StatusOK, pool.Status())
	}
}

// processOneURL resolves one store inline: the requested id, or the next
// pending store no running URL worker holds.
func (s *Server) processOneURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.URLJob == nil {
		writeError(w, http.StatusServiceUnavailable, "url resolver unavailable")
		return
	}
	var req processOneRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.StoreID
	if id == 0 {
		var exclude []int64
		if s.deps.URLPool != nil {
			exclude = s.deps.URLPool.Status().ActiveIDs
		}
		pending, err := s.deps.Repo.PendingURLStores(r.Context(), 1, exclude)
		if err != nil {
			s.writeStoreError(w, err, "list pending url stores")
			return
		}
		if len(pending) == 0 {
			writeJSON(w, http.StatusOK, map[string]any{"processed": false})
			return
		}
		id = pending[0].ID
	}
	if err := s.deps.URLJob.Process(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "resolve store url")
		return
	}
	st, err := s.deps.Repo.GetStore(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "load store")
		return
	}
	if st.Status == store.StatusProcessing {
		writeError(w, http.StatusConflict, "store is being processed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": true, "store": st})
}
