package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/id/uuid"
	"github.com/JakeFAU/storefront-contact-crawler/internal/metrics"
	"github.com/JakeFAU/storefront-contact-crawler/internal/relevance"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// EmailRepository is the store surface EmailJob needs.
type EmailRepository interface {
	Claimer
	PendingEmailStores(ctx context.Context, q store.EmailQuery) ([]store.Store, error)
	UpdateEmails(ctx context.Context, id int64, emails, raw []string) (store.Status, error)
	MarkEmailScrapingFailed(ctx context.Context, id int64, errType, msg string, maxAttempts int) (store.Status, error)
}

// Crawler runs one store crawl. *crawler.Engine satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, baseURL string, runID [16]byte) (crawler.Result, error)
}

// RelevanceFilter selects the addresses that belong to a store.
type RelevanceFilter interface {
	Filter(ctx context.Context, raw []string, storeURL, storeName string) relevance.Result
}

// EmailConfig tunes EmailJob.
type EmailConfig struct {
	AppName     string
	MaxAttempts int
	StaleAfter  time.Duration
	Cooldown    time.Duration
	Topic       string
}

// EmailJob crawls one store for contact addresses.
type EmailJob struct {
	repo      EmailRepository
	crawler   Crawler
	filter    RelevanceFilter
	ids       crawler.IDGenerator
	publisher Publisher
	clock     crawler.Clock
	cfg       EmailConfig
	logger    *zap.Logger
}

// NewEmailJob wires an EmailJob. publisher may be nil.
func NewEmailJob(
	repo EmailRepository,
	c Crawler,
	filter RelevanceFilter,
	ids crawler.IDGenerator,
	publisher Publisher,
	clock crawler.Clock,
	cfg EmailConfig,
	logger *zap.Logger,
) *EmailJob {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailJob{
		repo:      repo,
		crawler:   c,
		filter:    filter,
		ids:       ids,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Name identifies the job in logs and metrics.
func (j *EmailJob) Name() string { return "email" }

// Pending lists stores eligible for a crawl.
func (j *EmailJob) Pending(ctx context.Context, limit int, exclude []int64) ([]store.Store, error) {
	return j.repo.PendingEmailStores(ctx, store.EmailQuery{
		AppName:  j.cfg.AppName,
		Limit:    limit,
		Exclude:  exclude,
		Cooldown: j.cfg.Cooldown,
	})
}

// Process claims and crawls one store. Returned errors are for logging only;
// the store row carries the outcome.
func (j *EmailJob) Process(ctx context.Context, id int64) error {
	return withClaim(ctx, j.repo, id, j.cfg.StaleAfter, j.logger, func(st store.Store) error {
		return j.crawl(ctx, st)
	})
}

func (j *EmailJob) crawl(ctx context.Context, st store.Store) error {
	runID, err := j.ids.NewRunID()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	logger := j.logger.With(
		zap.Int64("store_id", st.ID),
		zap.String("store_name", st.Name),
		zap.String("run_id", uuid.Format(runID)),
	)

	res, err := j.crawler.Crawl(ctx, st.URL, runID)
	switch {
	case errors.Is(err, crawler.ErrStopped), ctx.Err() != nil:
		// Interrupted crawls are not failures; the release restores the row.
		logger.Info("crawl interrupted", zap.Error(err))
		return err
	case err != nil:
		return j.fail(ctx, logger, st, "invalid_url", err.Error())
	}

	metrics.ObserveEmails("raw", len(res.RawEmails))
	failed := res.Failed()
	if failed {
		errType := "crawl_failed"
		if res.Stats.CircuitOpen {
			errType = "rate_limited"
		}
		if err := j.fail(ctx, logger, st, errType, res.Error); err != nil {
			return err
		}
		if len(res.RawEmails) == 0 {
			return nil
		}
		// Partial data is still written; the failure status recorded above
		// stays authoritative.
	}

	filtered := j.filter.Filter(ctx, res.RawEmails, st.URL, st.Name)
	accepted := relevance.Restrict(filtered.All(), res.RawEmails)
	status, err := j.repo.UpdateEmails(ctx, st.ID, accepted, res.RawEmails)
	if err != nil {
		return fmt.Errorf("update emails: %w", err)
	}
	metrics.ObserveEmails("accepted", len(accepted))
	logger.Info("crawl stored",
		zap.String("status", string(status)),
		zap.Int("raw", len(res.RawEmails)),
		zap.Int("accepted", len(accepted)),
		zap.Int("pages_scraped", res.Stats.PagesScraped),
	)
	if failed {
		return nil
	}
	metrics.ObserveStoreOutcome("email", string(status))
	j.publish(ctx, logger, st, status, accepted, runID)
	return nil
}

func (j *EmailJob) fail(ctx context.Context, logger *zap.Logger, st store.Store, errType, msg string) error {
	status, err := j.repo.MarkEmailScrapingFailed(ctx, st.ID, errType, msg, j.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	metrics.ObserveStoreOutcome("email", string(status))
	logger.Warn("crawl failed", zap.String("error_type", errType), zap.String("error", msg), zap.String("status", string(status)))
	return nil
}

func (j *EmailJob) publish(ctx context.Context, logger *zap.Logger, st store.Store, status store.Status, emails []string, runID [16]byte) {
	if j.publisher == nil || j.cfg.Topic == "" {
		return
	}
	evt := StoreCompleted{
		StoreID:     st.ID,
		AppName:     st.AppName,
		StoreName:   st.Name,
		URL:         st.URL,
		Status:      status,
		Emails:      emails,
		RunID:       uuid.Format(runID),
		CompletedAt: j.clock.Now().UTC(),
	}
	if _, err := j.publisher.Publish(ctx, j.cfg.Topic, evt); err != nil {
		logger.Warn("publish completion failed", zap.Error(err))
	}
}
