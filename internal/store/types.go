package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrAlreadyProcessing is returned by Claim when another worker holds the row.
	ErrAlreadyProcessing = errors.New("store: already processing")
	// ErrInvalidInput rejects malformed manual overrides.
	ErrInvalidInput = errors.New("store: invalid input")
)

// Status is the lifecycle state of a Store.
type Status string

// Store lifecycle statuses persisted in stores.status.
const (
	StatusPendingURL       Status = "pending_url"
	StatusURLFound         Status = "url_found"
	StatusURLVerified      Status = "url_verified"
	StatusNeedsReview      Status = "needs_review"
	StatusNotFound         Status = "not_found"
	StatusEmailsFound      Status = "emails_found"
	StatusNoEmailsFound    Status = "no_emails_found"
	StatusScrapeFailed     Status = "email_scraping_failed"
	StatusPermanentFailure Status = "email_scraping_permanent_failure"
	StatusSkipped          Status = "skipped"
	StatusProcessing       Status = "processing"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingURL, StatusURLFound, StatusURLVerified, StatusNeedsReview, StatusNotFound,
		StatusEmailsFound, StatusNoEmailsFound, StatusScrapeFailed, StatusPermanentFailure,
		StatusSkipped, StatusProcessing:
		return true
	}
	return false
}

// Terminal reports whether no automated stage will pick the store up again.
func (s Status) Terminal() bool {
	switch s {
	case StatusEmailsFound, StatusNoEmailsFound, StatusPermanentFailure, StatusSkipped, StatusNotFound:
		return true
	}
	return false
}

// JobStatus is the coarse state of a review-listing job.
type JobStatus string

// Job statuses persisted in jobs.status.
const (
	JobPending         JobStatus = "pending"
	JobScrapingReviews JobStatus = "scraping_reviews"
	JobFindingURLs     JobStatus = "finding_urls"
	JobCompleted       JobStatus = "completed"
	JobError           JobStatus = "error"
)

// Store is one storefront tracked through URL resolution and email crawling.
type Store struct {
	ID            int64  `json:"id"`
	JobID         int64  `json:"job_id,omitempty"`
	AppName       string `json:"app_name"`
	Name          string `json:"store_name"`
	Country       string `json:"country,omitempty"`
	ReviewDate    string `json:"review_date,omitempty"`
	ReviewText    string `json:"review_text,omitempty"`
	UsageDuration string `json:"usage_duration,omitempty"`
	Rating        int    `json:"rating,omitempty"`

	URL           string   `json:"base_url,omitempty"`
	URLVerified   bool     `json:"url_verified"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	CandidateURLs []string `json:"candidate_urls,omitempty"`

	Emails    []string `json:"emails"`
	RawEmails []string `json:"raw_emails"`

	Status        Status     `json:"status"`
	LockedFrom    Status     `json:"-"`
	URLAttempts   int        `json:"url_attempts"`
	EmailAttempts int        `json:"email_scraping_attempts"`
	LastError     string     `json:"last_error,omitempty"`
	FailedAt      *time.Time `json:"email_scraping_failed_at,omitempty"`
	ClaimedAt     *time.Time `json:"-"`
	ScrapedAt     *time.Time `json:"emails_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EffectiveStatus returns the status a processing store held before it was
// claimed, or its current status otherwise.
func (s Store) EffectiveStatus() Status {
	if s.Status == StatusProcessing && s.LockedFrom != "" {
		return s.LockedFrom
	}
	return s.Status
}

// NewStore is a review-listing row ingested as a pending store.
type NewStore struct {
	Name          string `json:"store_name"`
	Country       string `json:"country"`
	ReviewDate    string `json:"review_date"`
	ReviewText    string `json:"review_text"`
	UsageDuration string `json:"usage_duration"`
	Rating        int    `json:"rating"`
}

// Job groups the stores ingested from one review listing.
type Job struct {
	ID              int64     `json:"id"`
	AppName         string    `json:"app_name"`
	AppURL          string    `json:"app_url"`
	Status          JobStatus `json:"status"`
	TotalStores     int       `json:"total_stores"`
	StoresProcessed int       `json:"stores_processed"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	CurrentPage     int       `json:"current_page"`
	TotalPages      int       `json:"total_pages"`
	ReviewsScraped  int       `json:"reviews_scraped"`
	MaxReviews      int       `json:"max_reviews_limit"`
	MaxPages        int       `json:"max_pages_limit"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// JobProgress updates a job. Nil pointers leave the column untouched.
type JobProgress struct {
	Status          JobStatus
	Message         *string
	CurrentPage     *int
	TotalPages      *int
	ReviewsScraped  *int
	TotalStores     *int
	StoresProcessed *int
}

// URLOutcome is the resolver decision written back to a store.
type URLOutcome struct {
	Status     Status
	URL        string
	Confidence float64
	Provider   string
	Candidates []string
	Reason     string
}

// StoreFilter narrows ListStores.
type StoreFilter struct {
	AppName string
	Status  Status
	Limit   int
	Offset  int
}

// EmailQuery selects stores eligible for email crawling. Stores in
// email_scraping_failed become eligible again once Cooldown has elapsed
// since their last failure.
type EmailQuery struct {
	AppName  string
	Limit    int
	Exclude  []int64
	Cooldown time.Duration
}

// Statistics summarizes store statuses.
type Statistics struct {
	Total            int `json:"total"`
	PendingURL       int `json:"pending_url"`
	URLVerified      int `json:"url_verified"`
	NeedsReview      int `json:"needs_review"`
	NotFound         int `json:"not_found"`
	EmailsFound      int `json:"emails_found"`
	NoEmailsFound    int `json:"no_emails_found"`
	ScrapeFailed     int `json:"email_scraping_failed"`
	PermanentFailure int `json:"email_scraping_permanent_failure"`
	Skipped          int `json:"skipped"`
	Processing       int `json:"processing"`
	TotalEmails      int `json:"total_emails"`
}

// Add counts one store into the summary.
func (s *Statistics) Add(st Store) {
	s.Total++
	s.TotalEmails += len(st.Emails)
	switch st.Status {
	case StatusPendingURL:
		s.PendingURL++
	case StatusURLVerified, StatusURLFound:
		s.URLVerified++
	case StatusNeedsReview:
		s.NeedsReview++
	case StatusNotFound:
		s.NotFound++
	case StatusEmailsFound:
		s.EmailsFound++
	case StatusNoEmailsFound:
		s.NoEmailsFound++
	case StatusScrapeFailed:
		s.ScrapeFailed++
	case StatusPermanentFailure:
		s.PermanentFailure++
	case StatusSkipped:
		s.Skipped++
	case StatusProcessing:
		s.Processing++
	}
}

// DeleteResult reports a bulk delete.
type DeleteResult struct {
	StoresDeleted int      `json:"stores_deleted"`
	JobsDeleted   int      `json:"jobs_deleted"`
	AppURLs       []string `json:"app_urls"`
}

// EmailStatus derives the post-crawl status. A failure status already on the
// row (set earlier in the same run, or terminal) wins over fresh data.
func EmailStatus(current Status, failureInRun bool, accepted int) Status {
	switch {
	case current == StatusPermanentFailure:
		return current
	case current == StatusScrapeFailed && failureInRun:
		return current
	case accepted > 0:
		return StatusEmailsFound
	default:
		return StatusNoEmailsFound
	}
}
