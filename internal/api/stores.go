package api

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

type setURLRequest struct {
	URL string `json:"url"`
}

type setEmailsRequest struct {
	Emails []string `json:"emails"`
}

type reviewSelectRequest struct {
	Index int `json:"index"`
}

type deleteStoresRequest struct {
	StoreIDs []int64 `json:"store_ids"`
}

// storeFilter reads app, status, limit and offset query parameters.
func storeFilter(r *http.Request) (store.StoreFilter, error) {
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		return store.StoreFilter{}, err
	}
	f := store.StoreFilter{
		AppName: strings.TrimSpace(r.URL.Query().Get("app")),
		Status:  store.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:   limit,
		Offset:  offset,
	}
	if f.Status != "" && !f.Status.Valid() {
		return store.StoreFilter{}, errInvalidStatus(f.Status)
	}
	return f, nil
}

func (s *Server) listStores(w http.ResponseWriter, r *http.Request) {
	f, err := storeFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stores, err := s.deps.Repo.ListStores(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, err, "list stores")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": nonNil(stores), "count": len(stores)})
}

func (s *Server) getStore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.deps.Repo.GetStore(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "load store")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store": st})
}

func (s *Server) skipStore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Repo.Skip(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "skip store")
		return
	}
	s.respondStore(w, r, id)
}

func (s *Server) setStoreURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req setURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if err := s.deps.Repo.SetManualURL(r.Context(), id, req.URL); err != nil {
		s.writeStoreError(w, err, "set store url")
		return
	}
	s.respondStore(w, r, id)
}

func (s *Server) setStoreEmails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req setEmailsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Repo.SetManualEmails(r.Context(), id, req.Emails); err != nil {
		s.writeStoreError(w, err, "set store emails")
		return
	}
	s.respondStore(w, r, id)
}

func (s *Server) selectReviewURL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req reviewSelectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	url, err := s.deps.Repo.SelectReviewURL(r.Context(), id, req.Index)
	if err != nil {
		s.writeStoreError(w, err, "select review url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store_id": id, "url": url})
}

func (s *Server) deleteStores(w http.ResponseWriter, r *http.Request) {
	var req deleteStoresRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.StoreIDs) == 0 {
		writeError(w, http.StatusBadRequest, "store_ids required")
		return
	}
	res, err := s.deps.Repo.DeleteStores(r.Context(), req.StoreIDs)
	if err != nil {
		s.writeStoreError(w, err, "delete stores")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) pendingURLQueue(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stores, err := s.deps.Repo.PendingURLStores(r.Context(), limit, nil)
	if err != nil {
		s.writeStoreError(w, err, "list pending url stores")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": nonNil(stores), "count": len(stores)})
}

func (s *Server) pendingEmailQueue(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stores, err := s.deps.Repo.PendingEmailStores(r.Context(), store.EmailQuery{
		AppName: strings.TrimSpace(r.URL.Query().Get("app")),
		Limit:   limit,
	})
	if err != nil {
		s.writeStoreError(w, err, "list pending email stores")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": nonNil(stores), "count": len(stores)})
}

func (s *Server) reviewQueue(w http.ResponseWriter, r *http.Request) {
	f, err := storeFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Status = store.StatusNeedsReview
	stores, err := s.deps.Repo.ListStores(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, err, "list review queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": nonNil(stores), "count": len(stores)})
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Repo.Statistics(r.Context(), strings.TrimSpace(r.URL.Query().Get("app")))
	if err != nil {
		s.writeStoreError(w, err, "load statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) respondStore(w http.ResponseWriter, r *http.Request, id int64) {
	st, err := s.deps.Repo.GetStore(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "load store")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store": st})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
