package crawler

import (
	"context"
	"time"
)

// pageSet holds the normalized URLs a crawl has already fetched. Pages of
// one crawl are fetched one after another, so it needs no locking.
type pageSet map[string]struct{}

// add records key and reports whether it was new. Empty keys are never new.
func (s pageSet) add(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}

// sleeper is how a session waits out its inter-page delay, throttle waits
// and retry backoff. Tests substitute one that only records.
type sleeper interface {
	Pause(ctx context.Context, d time.Duration)
}

// wallSleeper waits on a real timer and returns early when ctx ends, so a
// stopped worker is not held by a long Retry-After.
type wallSleeper struct{}

func (wallSleeper) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
