package postgres

// schema is applied by Migrate. Columns are additive so it can run against a
// database created by an older build.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                BIGSERIAL PRIMARY KEY,
	app_name          TEXT NOT NULL,
	app_url           TEXT NOT NULL,
	total_stores      INTEGER NOT NULL DEFAULT 0,
	stores_processed  INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'pending',
	progress_message  TEXT,
	current_page      INTEGER NOT NULL DEFAULT 0,
	total_pages       INTEGER NOT NULL DEFAULT 0,
	reviews_scraped   INTEGER NOT NULL DEFAULT 0,
	max_reviews_limit INTEGER NOT NULL DEFAULT 0,
	max_pages_limit   INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS jobs_app_url_idx ON jobs (app_url);

CREATE TABLE IF NOT EXISTS stores (
	id                        BIGSERIAL PRIMARY KEY,
	job_id                    BIGINT,
	app_name                  TEXT NOT NULL DEFAULT '',
	store_name                TEXT NOT NULL,
	country                   TEXT,
	review_date               TEXT,
	review_text               TEXT,
	usage_duration            TEXT,
	rating                    INTEGER,
	base_url                  TEXT,
	url_verified              BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at               TIMESTAMPTZ,
	confidence                DOUBLE PRECISION,
	provider                  TEXT,
	candidate_urls            TEXT[],
	emails                    TEXT[] NOT NULL DEFAULT '{}',
	raw_emails                TEXT[] NOT NULL DEFAULT '{}',
	emails_found              INTEGER NOT NULL DEFAULT 0,
	emails_scraped_at         TIMESTAMPTZ,
	status                    TEXT NOT NULL DEFAULT 'pending_url',
	locked_from               TEXT,
	claimed_at                TIMESTAMPTZ,
	url_attempts              INTEGER NOT NULL DEFAULT 0,
	email_scraping_attempts   INTEGER NOT NULL DEFAULT 0,
	email_scraping_last_error TEXT,
	email_scraping_failed_at  TIMESTAMPTZ,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS stores_status_idx ON stores (status);
CREATE INDEX IF NOT EXISTS stores_app_name_idx ON stores (app_name);
`

const storeColumns = `id, COALESCE(job_id, 0), app_name, store_name,
	COALESCE(country, ''), COALESCE(review_date, ''), COALESCE(review_text, ''),
	COALESCE(usage_duration, ''), COALESCE(rating, 0),
	COALESCE(base_url, ''), url_verified, confidence, COALESCE(provider, ''),
	COALESCE(candidate_urls, '{}'), emails, raw_emails,
	status, COALESCE(locked_from, ''), url_attempts, email_scraping_attempts,
	COALESCE(email_scraping_last_error, ''), email_scraping_failed_at, claimed_at,
	emails_scraped_at, created_at, updated_at`

const jobColumns = `id, app_name, app_url, status, total_stores, stores_processed,
	COALESCE(progress_message, ''), current_page, total_pages, reviews_scraped,
	max_reviews_limit, max_pages_limit, created_at, updated_at`
