package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/progress"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// ErrJobCompleted rejects a listing that has already been fully processed.
var ErrJobCompleted = errors.New("reviews: listing already completely scraped")

// Repository is the store surface Ingester needs.
type Repository interface {
	store.JobRepository
	InsertStores(ctx context.Context, jobID int64, appName string, stores []store.NewStore) (int, error)
	ListStores(ctx context.Context, f store.StoreFilter) ([]store.Store, error)
}

// Request asks for one listing to be ingested.
type Request struct {
	AppURL     string `json:"app_url"`
	MaxReviews int    `json:"max_reviews"`
	MaxPages   int    `json:"max_pages"`
}

// Outcome reports an ingest.
type Outcome struct {
	Job      store.Job `json:"job"`
	Inserted int       `json:"inserted"`
	Resumed  bool      `json:"resumed"`
}

// Ingester records review listings as jobs and their reviews as stores.
type Ingester struct {
	repo    Repository
	scraper *Scraper
	ids     crawler.IDGenerator
	clock   crawler.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewIngester wires an Ingester. emitter may be nil.
func NewIngester(
	repo Repository,
	scraper *Scraper,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{repo: repo, scraper: scraper, ids: ids, clock: clock, emitter: emitter, logger: logger}
}

// Ingest scrapes req.AppURL and inserts the reviewing stores. A listing seen
// before resumes after its last scraped page. Store names are deduplicated
// per app, case-insensitively. On success the job moves to finding_urls.
func (in *Ingester) Ingest(ctx context.Context, req Request) (Outcome, error) {
	appURL := strings.TrimSpace(req.AppURL)
	if appURL == "" {
		return Outcome{}, fmt.Errorf("%w: app url is required", store.ErrInvalidInput)
	}
	if req.MaxReviews < 0 || req.MaxPages < 0 {
		return Outcome{}, fmt.Errorf("%w: max_reviews and max_pages must be >= 0", store.ErrInvalidInput)
	}
	appName := AppName(appURL)

	var out Outcome
	job, err := in.repo.JobByURL(ctx, appURL)
	switch {
	case errors.Is(err, store.ErrNotFound):
		job, err = in.repo.CreateJob(ctx, appName, appURL, req.MaxReviews, req.MaxPages)
		if err != nil {
			return Outcome{}, fmt.Errorf("create job: %w", err)
		}
	case err != nil:
		return Outcome{}, fmt.Errorf("lookup job: %w", err)
	case job.Status == store.JobCompleted:
		return Outcome{Job: job}, ErrJobCompleted
	default:
		out.Resumed = true
	}

	lim := Limits{MaxPages: req.MaxPages, MaxReviews: req.MaxReviews, StartPage: 1}
	already := 0
	if out.Resumed {
		lim.StartPage = job.CurrentPage + 1
		already = job.ReviewsScraped
		if lim.MaxReviews == 0 {
			lim.MaxReviews = job.MaxReviews
		}
		if lim.MaxReviews > 0 {
			lim.MaxReviews -= already
			if lim.MaxReviews <= 0 {
				out.Job = job
				return out, nil
			}
		}
	}

	runID, err := in.ids.NewRunID()
	if err != nil {
		return Outcome{}, fmt.Errorf("run id: %w", err)
	}
	logger := in.logger.With(zap.Int64("job_id", job.ID), zap.String("app_name", appName))
	in.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, JobID: job.ID})

	res, err := in.scraper.Scrape(ctx, appURL, lim, func(msg string, current, total, count int) {
		in.emit(progress.Event{
			RunID:       runID,
			Stage:       progress.StageReviewPage,
			JobID:       job.ID,
			Message:     msg,
			CurrentPage: current,
			TotalPages:  total,
			Count:       already + count,
		})
	})
	if err != nil {
		msg := fmt.Sprintf("Error scraping reviews: %v", err)
		in.emit(progress.Event{RunID: runID, Stage: progress.StageRunError, JobID: job.ID, Message: msg})
		if uerr := in.repo.UpdateJobProgress(context.WithoutCancel(ctx), job.ID, store.JobProgress{
			Status: store.JobError, Message: &msg,
		}); uerr != nil {
			logger.Error("record job error failed", zap.Error(uerr))
		}
		return Outcome{Job: job, Resumed: out.Resumed}, fmt.Errorf("scrape reviews: %w", err)
	}

	rows, err := in.newStores(ctx, appName, res.Reviews)
	if err != nil {
		return Outcome{}, err
	}
	if len(rows) > 0 {
		if out.Inserted, err = in.repo.InsertStores(ctx, job.ID, appName, rows); err != nil {
			return Outcome{}, fmt.Errorf("insert stores: %w", err)
		}
	}

	total := already + len(res.Reviews)
	stores := job.TotalStores + out.Inserted
	msg := fmt.Sprintf("Finished scraping. Total reviews: %d. Ready for URL finding.", total)
	if !res.Exhausted {
		msg = fmt.Sprintf("Scraped %d total reviews (%d new). Limit reached; submit the URL again to continue.", total, len(res.Reviews))
	}
	lastPage := max(res.LastPage, job.CurrentPage)
	if err := in.repo.UpdateJobProgress(ctx, job.ID, store.JobProgress{
		Status:         store.JobFindingURLs,
		Message:        &msg,
		CurrentPage:    &lastPage,
		ReviewsScraped: &total,
		TotalStores:    &stores,
	}); err != nil {
		return Outcome{}, fmt.Errorf("update job: %w", err)
	}
	in.emit(progress.Event{RunID: runID, Stage: progress.StageRunDone, JobID: job.ID, Count: total})
	logger.Info("reviews ingested", zap.Int("reviews", len(res.Reviews)), zap.Int("inserted", out.Inserted))

	if out.Job, err = in.repo.GetJob(ctx, job.ID); err != nil {
		return Outcome{}, fmt.Errorf("reload job: %w", err)
	}
	return out, nil
}

// Complete marks a job done once URL finding has processed its stores.
func (in *Ingester) Complete(ctx context.Context, jobID int64, processed int) error {
	msg := fmt.Sprintf("URL finding complete. %d stores processed.", processed)
	return in.repo.UpdateJobProgress(ctx, jobID, store.JobProgress{
		Status:          store.JobCompleted,
		Message:         &msg,
		StoresProcessed: &processed,
	})
}

// newStores drops rows whose store name was already seen for appName.
func (in *Ingester) newStores(ctx context.Context, appName string, rows []store.NewStore) ([]store.NewStore, error) {
	existing, err := in.repo.ListStores(ctx, store.StoreFilter{AppName: appName})
	if err != nil {
		return nil, fmt.Errorf("list existing stores: %w", err)
	}
	seen := make(map[string]struct{}, len(existing)+len(rows))
	for _, st := range existing {
		seen[strings.ToLower(strings.TrimSpace(st.Name))] = struct{}{}
	}
	out := make([]store.NewStore, 0, len(rows))
	for _, r := range rows {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

func (in *Ingester) emit(evt progress.Event) {
	if in.emitter == nil {
		return
	}
	evt.Kind = progress.KindReviews
	evt.TS = in.clock.Now().UTC()
	in.emitter.Emit(evt)
}
