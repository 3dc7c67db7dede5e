package crawler

import (
	"context"
	"time"
)

// Transport performs exactly one HTTP GET, following redirects, with no
// retry or rate control of its own.
type Transport interface {
	Get(ctx context.Context, rawURL string) (Response, error)
}

// Fetcher is the retrying, rate-aware fetch contract used by discovery.
// Session satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Hasher computes digests used to skip identical page bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// ExtractFunc turns a page body into candidate emails.
type ExtractFunc func(body []byte, pageURL string) []string

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run and request identifiers.
type IDGenerator interface {
	NewID() (string, error)
	NewRunID() ([16]byte, error)
}
