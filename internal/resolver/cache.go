package resolver

import (
	"sync"
	"time"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
)

// DefaultCacheTTL is how long a winning provider answer is reused.
const DefaultCacheTTL = 24 * time.Hour

type cacheEntry struct {
	result Result
	stored time.Time
}

// Cache remembers provider answers per normalized query.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   crawler.Clock
	entries map[string]cacheEntry
}

// NewCache builds a Cache. A non-positive ttl uses DefaultCacheTTL.
func NewCache(ttl time.Duration, clock crawler.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, clock: clock, entries: make(map[string]cacheEntry)}
}

func (c *Cache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if c.clock.Now().Sub(e.stored) > c.ttl {
		delete(c.entries, key)
		return Result{}, false
	}
	return e.result, true
}

func (c *Cache) put(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: r, stored: c.clock.Now()}
}

// Len returns the number of cached answers, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
