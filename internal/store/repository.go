package store

import (
	"context"
	"time"
)

// JobRepository persists review-listing jobs.
type JobRepository interface {
	// CreateJob inserts a job in scraping_reviews status.
	CreateJob(ctx context.Context, appName, appURL string, maxReviews, maxPages int) (Job, error)
	// JobByURL returns the job created for appURL or ErrNotFound.
	JobByURL(ctx context.Context, appURL string) (Job, error)
	UpdateJobProgress(ctx context.Context, jobID int64, p JobProgress) error
	GetJob(ctx context.Context, jobID int64) (Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]Job, error)
}

// StoreRepository persists stores and owns every lifecycle transition.
type StoreRepository interface {
	InsertStores(ctx context.Context, jobID int64, appName string, stores []NewStore) (int, error)
	GetStore(ctx context.Context, id int64) (Store, error)
	ListStores(ctx context.Context, f StoreFilter) ([]Store, error)

	// PendingURLStores lists pending_url stores, skipping ids in exclude.
	PendingURLStores(ctx context.Context, limit int, exclude []int64) ([]Store, error)
	// PendingEmailStores lists stores with a URL that still need a crawl.
	PendingEmailStores(ctx context.Context, q EmailQuery) ([]Store, error)

	// Claim atomically moves a store into processing. It fails with
	// ErrAlreadyProcessing unless the row is free or its lock is older than
	// staleAfter. The returned Store carries the pre-claim status in LockedFrom.
	Claim(ctx context.Context, id int64, staleAfter time.Duration) (Store, error)
	// Release restores the pre-claim status if the row is still processing.
	Release(ctx context.Context, id int64) error
	// ReleaseStale force-releases locks older than olderThan.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)

	SaveURLResult(ctx context.Context, id int64, o URLOutcome) error
	IncrementURLAttempts(ctx context.Context, id int64) (int, error)
	// UpdateEmails stores the crawl output. Status follows EmailStatus.
	UpdateEmails(ctx context.Context, id int64, emails, raw []string) (Status, error)
	// MarkEmailScrapingFailed records a crawl that could not proceed. Once
	// attempts reach maxAttempts the store becomes permanently failed.
	MarkEmailScrapingFailed(ctx context.Context, id int64, errType, msg string, maxAttempts int) (Status, error)

	Skip(ctx context.Context, id int64) error
	SetManualURL(ctx context.Context, id int64, url string) error
	SetManualEmails(ctx context.Context, id int64, emails []string) error
	// SelectReviewURL promotes candidate index of a needs_review store.
	SelectReviewURL(ctx context.Context, id int64, index int) (string, error)
	// DeleteStores removes stores and the jobs of their apps.
	DeleteStores(ctx context.Context, ids []int64) (DeleteResult, error)
	Statistics(ctx context.Context, appName string) (Statistics, error)
}

// Repository is the full persistence surface.
type Repository interface {
	JobRepository
	StoreRepository
}
