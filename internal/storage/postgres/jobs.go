package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// CreateJob inserts a job in scraping_reviews status.
func (r *Repository) CreateJob(ctx context.Context, appName, appURL string, maxReviews, maxPages int) (store.Job, error) {
	query := `
		INSERT INTO jobs (app_name, app_url, status, max_reviews_limit, max_pages_limit)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + jobColumns
	job, err := scanJob(r.db.QueryRow(ctx, query, appName, appURL, string(store.JobScrapingReviews), maxReviews, maxPages))
	if err != nil {
		return store.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// JobByURL returns the newest job for appURL.
func (r *Repository) JobByURL(ctx context.Context, appURL string) (store.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE app_url = $1 ORDER BY id DESC LIMIT 1`
	job, err := scanJob(r.db.QueryRow(ctx, query, appURL))
	if err != nil {
		return store.Job{}, fmt.Errorf("job by url: %w", err)
	}
	return job, nil
}

// UpdateJobProgress applies the non-nil fields of p.
func (r *Repository) UpdateJobProgress(ctx context.Context, jobID int64, p store.JobProgress) error {
	query := `
		UPDATE jobs SET
			status = COALESCE(NULLIF($2::text, ''), status),
			progress_message = COALESCE($3::text, progress_message),
			current_page = COALESCE($4::int, current_page),
			total_pages = COALESCE($5::int, total_pages),
			reviews_scraped = COALESCE($6::int, reviews_scraped),
			total_stores = COALESCE($7::int, total_stores),
			stores_processed = COALESCE($8::int, stores_processed),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, jobID, string(p.Status), p.Message,
		p.CurrentPage, p.TotalPages, p.ReviewsScraped, p.TotalStores, p.StoresProcessed)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetJob loads one job.
func (r *Repository) GetJob(ctx context.Context, jobID int64) (store.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		return store.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (r *Repository) ListJobs(ctx context.Context, limit, offset int) ([]store.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, nullableLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	jobs := make([]store.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}
