package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// Priority orders candidate pages; lower values are visited first.
type Priority int

// Priority tiers assigned during discovery.
const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// CandidatePage is a URL queued for crawling.
type CandidatePage struct {
	URL      string   `json:"url"`
	Priority Priority `json:"priority"`
}

// Response is what a Transport returns for one HTTP exchange.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page is the outcome of a Session fetch after retries. A 404 yields a Page
// with StatusCode 404 and no body.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Stats diagnoses a crawl. PagesFailed == PagesDiscovered with no emails
// usually means the site is blocking us; PagesDiscovered == 0 usually means a
// bad base URL.
type Stats struct {
	PagesDiscovered int  `json:"pages_discovered"`
	PagesAttempted  int  `json:"pages_attempted"`
	PagesScraped    int  `json:"pages_scraped"`
	PagesFailed     int  `json:"pages_failed"`
	PagesWithEmails int  `json:"pages_with_emails"`
	CircuitOpen     bool `json:"circuit_open"`
}

// Result aggregates one store's crawl.
type Result struct {
	BaseURL   string        `json:"base_url"`
	RawEmails []string      `json:"raw_emails"`
	Stats     Stats         `json:"stats"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the crawl could not proceed at all, as opposed to
// completing and finding nothing.
func (r Result) Failed() bool {
	return r.Error != ""
}
