package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// InsertStores adds review rows as pending_url stores in one batch.
func (r *Repository) InsertStores(ctx context.Context, jobID int64, appName string, rows []store.NewStore) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query := `
		INSERT INTO stores (job_id, app_name, store_name, country, review_date, review_text,
			usage_duration, rating, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	inserted := 0
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		for _, row := range rows {
			if _, err := tx.Exec(ctx, query, jobID, appName, row.Name, row.Country, row.ReviewDate,
				row.ReviewText, row.UsageDuration, row.Rating, string(store.StatusPendingURL)); err != nil {
				return fmt.Errorf("insert store %q: %w", row.Name, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetStore loads one store.
func (r *Repository) GetStore(ctx context.Context, id int64) (store.Store, error) {
	st, err := scanStore(r.db.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id))
	if err != nil {
		return store.Store{}, fmt.Errorf("get store: %w", err)
	}
	return st, nil
}

// ListStores returns stores ordered by id.
func (r *Repository) ListStores(ctx context.Context, f store.StoreFilter) ([]store.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores
		WHERE ($1::text = '' OR app_name = $1) AND ($2::text = '' OR status = $2)
		ORDER BY id LIMIT $3 OFFSET $4`
	rows, err := r.db.Query(ctx, query, f.AppName, string(f.Status), nullableLimit(f.Limit), f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return collectStores(rows)
}

// PendingURLStores lists pending_url stores not in exclude.
func (r *Repository) PendingURLStores(ctx context.Context, limit int, exclude []int64) ([]store.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores
		WHERE status = $1 AND NOT (id = ANY($2::bigint[]))
		ORDER BY id LIMIT $3`
	rows, err := r.db.Query(ctx, query, string(store.StatusPendingURL), nonNilIDs(exclude), nullableLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("pending url stores: %w", err)
	}
	return collectStores(rows)
}

// PendingEmailStores lists stores with a URL that still need a crawl,
// including failed stores whose cooldown has elapsed.
func (r *Repository) PendingEmailStores(ctx context.Context, q store.EmailQuery) ([]store.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores
		WHERE COALESCE(base_url, '') <> ''
		AND NOT (id = ANY($1::bigint[]))
		AND ($2::text = '' OR app_name = $2)
		AND (
			(status IN ('url_verified', 'url_found') AND cardinality(emails) = 0)
			OR (status = 'email_scraping_failed' AND (email_scraping_failed_at IS NULL
				OR email_scraping_failed_at < NOW() - make_interval(secs => $3)))
		)
		ORDER BY id LIMIT $4`
	rows, err := r.db.Query(ctx, query, nonNilIDs(q.Exclude), q.AppName, q.Cooldown.Seconds(), nullableLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("pending email stores: %w", err)
	}
	return collectStores(rows)
}

// Claim is a single conditional UPDATE so two workers can never both win.
func (r *Repository) Claim(ctx context.Context, id int64, staleAfter time.Duration) (store.Store, error) {
	query := `
		UPDATE stores SET
			locked_from = CASE WHEN status = 'processing' THEN locked_from ELSE status END,
			status = 'processing',
			claimed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND (status <> 'processing' OR updated_at < NOW() - make_interval(secs => $2))
		RETURNING ` + storeColumns
	st, err := scanStore(r.db.QueryRow(ctx, query, id, staleAfter.Seconds()))
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Store{}, fmt.Errorf("claim store: %w", err)
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stores WHERE id = $1)`, id).Scan(&exists); err != nil {
		return store.Store{}, fmt.Errorf("claim store: %w", err)
	}
	if !exists {
		return store.Store{}, store.ErrNotFound
	}
	return store.Store{}, store.ErrAlreadyProcessing
}

const releaseSet = `status = COALESCE(NULLIF(locked_from, ''), 'pending_url'), locked_from = NULL, updated_at = NOW()`

// Release restores the pre-claim status if the store is still processing.
func (r *Repository) Release(ctx context.Context, id int64) error {
	query := `UPDATE stores SET ` + releaseSet + ` WHERE id = $1 AND status = 'processing'`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release store: %w", err)
	}
	return nil
}

// ReleaseStale force-releases processing rows older than olderThan.
func (r *Repository) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `UPDATE stores SET ` + releaseSet + `
		WHERE status = 'processing' AND updated_at < NOW() - make_interval(secs => $1)`
	tag, err := r.db.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("release stale stores: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SaveURLResult writes a resolver decision. The status lands directly, which
// also ends any claim held on the row.
func (r *Repository) SaveURLResult(ctx context.Context, id int64, o store.URLOutcome) error {
	query := `
		UPDATE stores SET
			status = $2,
			base_url = NULLIF($3::text, ''),
			url_verified = $4,
			verified_at = CASE WHEN $4 THEN NOW() ELSE verified_at END,
			confidence = $5,
			provider = NULLIF($6::text, ''),
			candidate_urls = $7,
			email_scraping_last_error = NULLIF($8::text, ''),
			locked_from = NULL,
			updated_at = NOW()
		WHERE id = $1`
	verified := o.Status == store.StatusURLVerified
	tag, err := r.db.Exec(ctx, query, id, string(o.Status), o.URL, verified, o.Confidence,
		o.Provider, nonNilStrings(o.Candidates), o.Reason)
	if err != nil {
		return fmt.Errorf("save url result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementURLAttempts bumps the resolution attempt counter.
func (r *Repository) IncrementURLAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`UPDATE stores SET url_attempts = url_attempts + 1, updated_at = NOW() WHERE id = $1 RETURNING url_attempts`,
		id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("increment url attempts: %w", err)
	}
	return attempts, nil
}

// UpdateEmails locks the row, derives the status with store.EmailStatus and
// writes the crawl output. While a claim is held the derived failure status is
// parked in locked_from so Release restores it.
func (r *Repository) UpdateEmails(ctx context.Context, id int64, emails, raw []string) (store.Status, error) {
	var next store.Status
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			status, lockedFrom string
			failedInRun        bool
		)
		err := tx.QueryRow(ctx, `
			SELECT status, COALESCE(locked_from, ''),
				email_scraping_failed_at IS NOT NULL
					AND (claimed_at IS NULL OR email_scraping_failed_at >= claimed_at)
			FROM stores WHERE id = $1 FOR UPDATE`, id).Scan(&status, &lockedFrom, &failedInRun)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("lock store: %w", err)
		}
		current := store.Store{Status: store.Status(status), LockedFrom: store.Status(lockedFrom)}
		next = store.EmailStatus(current.EffectiveStatus(), failedInRun, len(emails))

		column := "status"
		if current.Status == store.StatusProcessing &&
			next != store.StatusEmailsFound && next != store.StatusNoEmailsFound {
			column = "locked_from"
		}
		query := fmt.Sprintf(`
			UPDATE stores SET %s = $2, emails = $3, raw_emails = $4, emails_found = $5,
				emails_scraped_at = NOW(), updated_at = NOW()
			WHERE id = $1`, column)
		if _, err := tx.Exec(ctx, query, id, string(next), nonNilStrings(emails), nonNilStrings(raw), len(emails)); err != nil {
			return fmt.Errorf("update emails: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// MarkEmailScrapingFailed records a failed crawl and escalates to permanent
// failure once attempts reach maxAttempts.
func (r *Repository) MarkEmailScrapingFailed(
	ctx context.Context,
	id int64,
	errType, msg string,
	maxAttempts int,
) (store.Status, error) {
	query := `
		UPDATE stores SET
			email_scraping_attempts = email_scraping_attempts + 1,
			email_scraping_last_error = $2,
			email_scraping_failed_at = NOW(),
			status = CASE WHEN $3::int > 0 AND email_scraping_attempts + 1 >= $3::int
				THEN 'email_scraping_permanent_failure' ELSE 'email_scraping_failed' END,
			locked_from = NULL,
			updated_at = NOW()
		WHERE id = $1
		RETURNING status`
	var status string
	if err := r.db.QueryRow(ctx, query, id, fmt.Sprintf("%s: %s", errType, msg), maxAttempts).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("mark email scraping failed: %w", err)
	}
	return store.Status(status), nil
}

// Skip marks a store as manually skipped.
func (r *Repository) Skip(ctx context.Context, id int64) error {
	return r.execOne(ctx, "skip store",
		`UPDATE stores SET status = $2, locked_from = NULL, updated_at = NOW() WHERE id = $1`,
		id, string(store.StatusSkipped))
}

// SetManualURL records a human-supplied URL as verified.
func (r *Repository) SetManualURL(ctx context.Context, id int64, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w: url is required", store.ErrInvalidInput)
	}
	return r.execOne(ctx, "set manual url", `
		UPDATE stores SET base_url = $2, url_verified = TRUE, verified_at = NOW(), provider = 'manual',
			status = $3, locked_from = NULL, updated_at = NOW()
		WHERE id = $1`, id, url, string(store.StatusURLVerified))
}

// SetManualEmails records human-supplied emails.
func (r *Repository) SetManualEmails(ctx context.Context, id int64, emails []string) error {
	status := store.StatusNoEmailsFound
	if len(emails) > 0 {
		status = store.StatusEmailsFound
	}
	return r.execOne(ctx, "set manual emails", `
		UPDATE stores SET emails = $2, emails_found = $3, emails_scraped_at = NOW(),
			status = $4, locked_from = NULL, updated_at = NOW()
		WHERE id = $1`, id, nonNilStrings(emails), len(emails), string(status))
}

// SelectReviewURL promotes candidate index to the verified URL.
func (r *Repository) SelectReviewURL(ctx context.Context, id int64, index int) (string, error) {
	st, err := r.GetStore(ctx, id)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(st.CandidateURLs) {
		return "", fmt.Errorf("%w: candidate %d out of range", store.ErrInvalidInput, index)
	}
	url := st.CandidateURLs[index]
	if err := r.SetManualURL(ctx, id, url); err != nil {
		return "", err
	}
	return url, nil
}

// DeleteStores removes stores and every job of the affected apps.
func (r *Repository) DeleteStores(ctx context.Context, ids []int64) (store.DeleteResult, error) {
	res := store.DeleteResult{AppURLs: []string{}}
	if len(ids) == 0 {
		return res, nil
	}
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		apps, err := collectStrings(tx.Query(ctx,
			`SELECT DISTINCT app_name FROM stores WHERE id = ANY($1::bigint[]) AND app_name <> ''`, ids))
		if err != nil {
			return fmt.Errorf("select apps: %w", err)
		}
		if len(apps) > 0 {
			res.AppURLs, err = collectStrings(tx.Query(ctx,
				`SELECT app_url FROM jobs WHERE app_name = ANY($1::text[]) ORDER BY app_url`, apps))
			if err != nil {
				return fmt.Errorf("select app urls: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM stores WHERE id = ANY($1::bigint[])`, ids)
		if err != nil {
			return fmt.Errorf("delete stores: %w", err)
		}
		res.StoresDeleted = int(tag.RowsAffected())
		if len(apps) > 0 {
			tag, err = tx.Exec(ctx, `DELETE FROM jobs WHERE app_name = ANY($1::text[])`, apps)
			if err != nil {
				return fmt.Errorf("delete jobs: %w", err)
			}
			res.JobsDeleted = int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return store.DeleteResult{}, err
	}
	return res, nil
}

// Statistics summarizes stores, optionally scoped to one app.
func (r *Repository) Statistics(ctx context.Context, appName string) (store.Statistics, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending_url'),
			COUNT(*) FILTER (WHERE status IN ('url_verified', 'url_found')),
			COUNT(*) FILTER (WHERE status = 'needs_review'),
			COUNT(*) FILTER (WHERE status = 'not_found'),
			COUNT(*) FILTER (WHERE status = 'emails_found'),
			COUNT(*) FILTER (WHERE status = 'no_emails_found'),
			COUNT(*) FILTER (WHERE status = 'email_scraping_failed'),
			COUNT(*) FILTER (WHERE status = 'email_scraping_permanent_failure'),
			COUNT(*) FILTER (WHERE status = 'skipped'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COALESCE(SUM(emails_found), 0)
		FROM stores WHERE ($1::text = '' OR app_name = $1)`
	var s store.Statistics
	err := r.db.QueryRow(ctx, query, appName).Scan(
		&s.Total, &s.PendingURL, &s.URLVerified, &s.NeedsReview, &s.NotFound, &s.EmailsFound,
		&s.NoEmailsFound, &s.ScrapeFailed, &s.PermanentFailure, &s.Skipped, &s.Processing, &s.TotalEmails,
	)
	if err != nil {
		return store.Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	return s, nil
}

func (r *Repository) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func collectStrings(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
