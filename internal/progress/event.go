package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StagePageDone   Stage = "PAGE_DONE"
	StageReviewPage Stage = "REVIEW_PAGE"
)

// Kind names the pipeline stage that produced a run.
type Kind string

// Run kinds.
const (
	KindEmail   Kind = "email"
	KindURL     Kind = "url"
	KindReviews Kind = "reviews"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress observation. Review ingest fills Message,
// CurrentPage, TotalPages and Count; crawls fill the page fields.
type Event struct {
	// RunID identifies one crawl, resolution or ingest run (UUID bytes).
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Kind  Kind
	// StoreID and JobID link the run to persisted rows when known.
	StoreID int64
	JobID   int64

	Site        string
	URL         string
	Bytes       int64
	StatusClass StatusClass
	Dur         time.Duration

	Message     string
	CurrentPage int
	TotalPages  int
	Count       int
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
		if e.Kind == "" {
			return errors.New("run events require kind")
		}
	case StagePageDone:
		if e.Site == "" {
			return errors.New("page done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StageReviewPage:
		if e.JobID <= 0 {
			return errors.New("review page requires job id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID for logging.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes. A zero code (transport failure)
// is "other".
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// SiteOf returns the lowercased host of rawURL without port or "www.".
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
