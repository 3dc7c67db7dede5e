// Package memory holds in-process implementations of the store repository
// and the export blob store for tests and single-binary development runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/storefront-contact-crawler/internal/clock/system"
	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// Repository implements store.Repository in memory for development and tests.
// Every transition holds one mutex, which gives Claim the same atomicity as
// the conditional UPDATE in Postgres.
type Repository struct {
	mu      sync.RWMutex
	clock   crawler.Clock
	jobs    map[int64]store.Job
	stores  map[int64]store.Store
	nextJob int64
	nextID  int64
}

var _ store.Repository = (*Repository)(nil)

// NewRepository constructs an empty Repository. A nil clock uses wall time.
func NewRepository(clock crawler.Clock) *Repository {
	if clock == nil {
		clock = system.New()
	}
	return &Repository{
		clock:  clock,
		jobs:   make(map[int64]store.Job),
		stores: make(map[int64]store.Store),
	}
}

// CreateJob inserts a job in scraping_reviews status.
func (r *Repository) CreateJob(_ context.Context, appName, appURL string, maxReviews, maxPages int) (store.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextJob++
	now := r.clock.Now()
	job := store.Job{
		ID:         r.nextJob,
		AppName:    appName,
		AppURL:     appURL,
		Status:     store.JobScrapingReviews,
		MaxReviews: maxReviews,
		MaxPages:   maxPages,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.jobs[job.ID] = job
	return job, nil
}

// JobByURL returns the newest job for appURL.
func (r *Repository) JobByURL(_ context.Context, appURL string) (store.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found store.Job
		ok    bool
	)
	for _, job := range r.jobs {
		if job.AppURL == appURL && (!ok || job.ID > found.ID) {
			found, ok = job, true
		}
	}
	if !ok {
		return store.Job{}, store.ErrNotFound
	}
	return found, nil
}

// UpdateJobProgress applies the non-nil fields of p.
func (r *Repository) UpdateJobProgress(_ context.Context, jobID int64, p store.JobProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if p.Status != "" {
		job.Status = p.Status
	}
	setString(&job.ProgressMessage, p.Message)
	setInt(&job.CurrentPage, p.CurrentPage)
	setInt(&job.TotalPages, p.TotalPages)
	setInt(&job.ReviewsScraped, p.ReviewsScraped)
	setInt(&job.TotalStores, p.TotalStores)
	setInt(&job.StoresProcessed, p.StoresProcessed)
	job.UpdatedAt = r.clock.Now()
	r.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (r *Repository) GetJob(_ context.Context, jobID int64) (store.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.Job{}, store.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (r *Repository) ListJobs(_ context.Context, limit, offset int) ([]store.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, offset), nil
}

// InsertStores adds review rows as pending_url stores.
func (r *Repository) InsertStores(_ context.Context, jobID int64, appName string, rows []store.NewStore) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for _, row := range rows {
		r.nextID++
		r.stores[r.nextID] = store.Store{
			ID:            r.nextID,
			JobID:         jobID,
			AppName:       appName,
			Name:          row.Name,
			Country:       row.Country,
			ReviewDate:    row.ReviewDate,
			ReviewText:    row.ReviewText,
			UsageDuration: row.UsageDuration,
			Rating:        row.Rating,
			Status:        store.StatusPendingURL,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return len(rows), nil
}

// GetStore fetches one store.
func (r *Repository) GetStore(_ context.Context, id int64) (store.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stores[id]
	if !ok {
		return store.Store{}, store.ErrNotFound
	}
	return clone(st), nil
}

// ListStores returns stores ordered by id.
func (r *Repository) ListStores(_ context.Context, f store.StoreFilter) ([]store.Store, error) {
	return r.selectStores(func(st store.Store) bool {
		return (f.AppName == "" || st.AppName == f.AppName) && (f.Status == "" || st.Status == f.Status)
	}, f.Limit, f.Offset), nil
}

// PendingURLStores lists pending_url stores not in exclude.
func (r *Repository) PendingURLStores(_ context.Context, limit int, exclude []int64) ([]store.Store, error) {
	return r.selectStores(func(st store.Store) bool {
		return st.Status == store.StatusPendingURL && !slices.Contains(exclude, st.ID)
	}, limit, 0), nil
}

// PendingEmailStores lists stores with a URL that still need a crawl.
func (r *Repository) PendingEmailStores(_ context.Context, q store.EmailQuery) ([]store.Store, error) {
	cutoff := r.clock.Now().Add(-q.Cooldown)
	return r.selectStores(func(st store.Store) bool {
		if st.URL == "" || slices.Contains(q.Exclude, st.ID) {
			return false
		}
		if q.AppName != "" && st.AppName != q.AppName {
			return false
		}
		switch st.Status {
		case store.StatusURLVerified, store.StatusURLFound:
			return len(st.Emails) == 0
		case store.StatusScrapeFailed:
			return st.FailedAt == nil || st.FailedAt.Before(cutoff)
		default:
			return false
		}
	}, q.Limit, 0), nil
}

// Claim moves a store into processing unless another live claim holds it.
func (r *Repository) Claim(_ context.Context, id int64, staleAfter time.Duration) (store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[id]
	if !ok {
		return store.Store{}, store.ErrNotFound
	}
	now := r.clock.Now()
	if st.Status == store.StatusProcessing && now.Sub(st.UpdatedAt) < staleAfter {
		return store.Store{}, store.ErrAlreadyProcessing
	}
	if st.Status != store.StatusProcessing {
		st.LockedFrom = st.Status
	}
	st.Status = store.StatusProcessing
	st.ClaimedAt = &now
	st.UpdatedAt = now
	r.stores[id] = st
	return clone(st), nil
}

// Release restores the pre-claim status if the store is still processing.
func (r *Repository) Release(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[id]
	if !ok {
		return store.ErrNotFound
	}
	r.stores[id] = r.release(st)
	return nil
}

// ReleaseStale force-releases processing rows older than olderThan.
func (r *Repository) ReleaseStale(_ context.Context, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock.Now().Add(-olderThan)
	released := 0
	for id, st := range r.stores {
		if st.Status == store.StatusProcessing && st.UpdatedAt.Before(cutoff) {
			r.stores[id] = r.release(st)
			released++
		}
	}
	return released, nil
}

func (r *Repository) release(st store.Store) store.Store {
	if st.Status != store.StatusProcessing {
		return st
	}
	st.Status = st.LockedFrom
	if st.Status == "" {
		st.Status = store.StatusPendingURL
	}
	st.LockedFrom = ""
	st.UpdatedAt = r.clock.Now()
	return st
}

// SaveURLResult writes a resolver decision.
func (r *Repository) SaveURLResult(_ context.Context, id int64, o store.URLOutcome) error {
	return r.mutate(id, func(st *store.Store, _ time.Time) error {
		st.Status = o.Status
		st.URL = o.URL
		st.URLVerified = o.Status == store.StatusURLVerified
		st.Confidence = &o.Confidence
		st.Provider = o.Provider
		st.CandidateURLs = append([]string(nil), o.Candidates...)
		st.LastError = o.Reason
		return nil
	})
}

// IncrementURLAttempts bumps the resolution attempt counter.
func (r *Repository) IncrementURLAttempts(_ context.Context, id int64) (int, error) {
	var attempts int
	err := r.mutate(id, func(st *store.Store, _ time.Time) error {
		st.URLAttempts++
		attempts = st.URLAttempts
		return nil
	})
	return attempts, err
}

// UpdateEmails stores crawl output; a failure status written during the
// current claim, or a permanent failure, is kept.
func (r *Repository) UpdateEmails(_ context.Context, id int64, emails, raw []string) (store.Status, error) {
	var status store.Status
	err := r.mutate(id, func(st *store.Store, now time.Time) error {
		current := st.EffectiveStatus()
		status = store.EmailStatus(current, failedDuringClaim(*st), len(emails))
		if st.Status != store.StatusProcessing || status == store.StatusEmailsFound || status == store.StatusNoEmailsFound {
			st.Status = status
		} else {
			st.LockedFrom = status
		}
		st.Emails = append([]string{}, emails...)
		st.RawEmails = append([]string{}, raw...)
		st.ScrapedAt = &now
		return nil
	})
	return status, err
}

// MarkEmailScrapingFailed records a crawl that could not proceed.
func (r *Repository) MarkEmailScrapingFailed(
	_ context.Context,
	id int64,
	errType, msg string,
	maxAttempts int,
) (store.Status, error) {
	var status store.Status
	err := r.mutate(id, func(st *store.Store, now time.Time) error {
		st.EmailAttempts++
		st.LastError = fmt.Sprintf("%s: %s", errType, msg)
		st.FailedAt = &now
		status = store.StatusScrapeFailed
		if maxAttempts > 0 && st.EmailAttempts >= maxAttempts {
			status = store.StatusPermanentFailure
		}
		st.Status = status
		st.LockedFrom = ""
		return nil
	})
	return status, err
}

// Skip marks a store as manually skipped.
func (r *Repository) Skip(_ context.Context, id int64) error {
	return r.mutate(id, func(st *store.Store, _ time.Time) error {
		st.Status = store.StatusSkipped
		st.LockedFrom = ""
		return nil
	})
}

// SetManualURL records a human-supplied URL as verified.
func (r *Repository) SetManualURL(_ context.Context, id int64, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w: url is required", store.ErrInvalidInput)
	}
	return r.mutate(id, func(st *store.Store, _ time.Time) error {
		st.URL = url
		st.URLVerified = true
		st.Status = store.StatusURLVerified
		st.Provider = "manual"
		st.LockedFrom = ""
		return nil
	})
}

// SetManualEmails records human-supplied emails.
func (r *Repository) SetManualEmails(_ context.Context, id int64, emails []string) error {
	return r.mutate(id, func(st *store.Store, now time.Time) error {
		st.Emails = append([]string{}, emails...)
		st.Status = store.StatusNoEmailsFound
		if len(emails) > 0 {
			st.Status = store.StatusEmailsFound
		}
		st.ScrapedAt = &now
		st.LockedFrom = ""
		return nil
	})
}

// SelectReviewURL promotes a review candidate to the verified URL.
func (r *Repository) SelectReviewURL(_ context.Context, id int64, index int) (string, error) {
	var url string
	err := r.mutate(id, func(st *store.Store, _ time.Time) error {
		if index < 0 || index >= len(st.CandidateURLs) {
			return fmt.Errorf("%w: candidate %d out of range", store.ErrInvalidInput, index)
		}
		url = st.CandidateURLs[index]
		st.URL = url
		st.URLVerified = true
		st.Status = store.StatusURLVerified
		st.LockedFrom = ""
		return nil
	})
	return url, err
}

// DeleteStores removes stores and every job of the affected apps.
func (r *Repository) DeleteStores(_ context.Context, ids []int64) (store.DeleteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := store.DeleteResult{AppURLs: []string{}}
	apps := make(map[string]struct{})
	for _, id := range ids {
		st, ok := r.stores[id]
		if !ok {
			continue
		}
		if st.AppName != "" {
			apps[st.AppName] = struct{}{}
		}
		delete(r.stores, id)
		res.StoresDeleted++
	}
	for id, job := range r.jobs {
		if _, ok := apps[job.AppName]; ok {
			res.AppURLs = append(res.AppURLs, job.AppURL)
			delete(r.jobs, id)
			res.JobsDeleted++
		}
	}
	sort.Strings(res.AppURLs)
	return res, nil
}

// Statistics summarizes stores, optionally scoped to one app.
func (r *Repository) Statistics(_ context.Context, appName string) (store.Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stats store.Statistics
	for _, st := range r.stores {
		if appName == "" || st.AppName == appName {
			stats.Add(st)
		}
	}
	return stats, nil
}

func (r *Repository) mutate(id int64, fn func(*store.Store, time.Time) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[id]
	if !ok {
		return store.ErrNotFound
	}
	now := r.clock.Now()
	if err := fn(&st, now); err != nil {
		return err
	}
	st.UpdatedAt = now
	r.stores[id] = st
	return nil
}

func (r *Repository) selectStores(keep func(store.Store) bool, limit, offset int) []store.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Store, 0)
	for _, st := range r.stores {
		if keep(st) {
			out = append(out, clone(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset)
}

// failedDuringClaim reports a failure written after the current claim began.
func failedDuringClaim(st store.Store) bool {
	if st.FailedAt == nil {
		return false
	}
	if st.ClaimedAt == nil {
		return true
	}
	return !st.FailedAt.Before(*st.ClaimedAt)
}

func clone(st store.Store) store.Store {
	st.Emails = append([]string{}, st.Emails...)
	st.RawEmails = append([]string{}, st.RawEmails...)
	st.CandidateURLs = append([]string(nil), st.CandidateURLs...)
	return st
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
