// Package ratelimit implements client-side rate control: keyed token buckets
// for outbound provider calls and the adaptive 429 controller used by crawl
// sessions.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/storefront-contact-crawler/internal/metrics"
)

// Config sizes every bucket a Limiter hands out. RPS <= 0 means unlimited.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter paces calls per key. The resolver keys by provider name so a slow
// Perplexity quota never delays Custom Search; review scraping keys by host.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns a Limiter whose buckets start full.
func New(cfg Config) *Limiter {
	l := &Limiter{limit: rate.Inf, burst: max(cfg.Burst, 1), buckets: map[string]*rate.Limiter{}}
	if cfg.RPS > 0 {
		l.limit = rate.Limit(cfg.RPS)
	}
	return l
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Wait blocks until key may make another call or ctx ends. Waits longer
// than a millisecond are recorded per key.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if key == "" {
		key = "unknown"
	}
	start := time.Now()
	if err := l.bucket(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}
	return nil
}
