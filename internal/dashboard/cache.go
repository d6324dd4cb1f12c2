package dashboard

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/alert-district-etl/internal/observability"
)

// responseCache is a thread-safe TTL cache for API responses. Entries
// expire on read; Invalidate drops everything at once so a refresh
// serves fresh data immediately instead of waiting out the TTL.
type responseCache struct {
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

func newResponseCache(ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *responseCache {
	return &responseCache{
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
		entries: make(map[string]cacheEntry),
	}
}

func (c *responseCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.clock.Now().After(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.value, true
}

func (c *responseCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.clock.Now().Add(c.ttl)}
}

// invalidate empties the cache.
func (c *responseCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
