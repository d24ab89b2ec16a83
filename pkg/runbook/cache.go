// Package runbook resolves, fetches and caches the runbook content attached
// to an alert: URL validation against a domain allowlist, GitHub blob→raw
// rewriting, and a TTL cache so duplicate or retried alerts don't refetch
// the same document.
package runbook

import (
	"sync"
	"time"
)

type cacheEntry struct {
	content   string
	fetchedAt time.Time
}

// Cache is an in-memory TTL cache keyed by URL. Expiry is lazy — stale
// entries are dropped when a Get finds them, with no background sweeper.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

// NewCache creates a cache whose entries live for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached content for url if present and fresh.
func (c *Cache) Get(url string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		// Re-check under the write lock: a concurrent Set may have swapped
		// in a fresh entry between the RUnlock above and this Lock, and
		// deleting that one would throw away a valid fetch.
		c.mu.Lock()
		if current, ok := c.entries[url]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, url)
		}
		c.mu.Unlock()
		return "", false
	}

	return entry.content, true
}

// Set stores content for url, stamped now.
func (c *Cache) Set(url string, content string) {
	c.mu.Lock()
	c.entries[url] = &cacheEntry{content: content, fetchedAt: time.Now()}
	c.mu.Unlock()
}
