package analyzer

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// cacheEntry holds a cached analysis with a timestamp for TTL expiration.
type cacheEntry struct {
	result   models.AnalysisResult
	cachedAt time.Time
}

// Cache is a thread-safe in-memory cache keyed by thread content hash.
// Expired entries are cleaned up lazily on Get; finding an expired entry also
// triggers an opportunistic sweep of the whole map. The cache is advisory:
// correctness never depends on it.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
}

// NewCache creates a cache with the given TTL and entry bound.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// ContentKey computes the deterministic cache key for a thread: a hash over
// the concatenated message contents.
func ContentKey(t *models.Thread) string {
	h := sha256.New()
	for _, msg := range t.Messages() {
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached result if present and not expired.
func (c *Cache) Get(key string) (models.AnalysisResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return models.AnalysisResult{}, false
	}

	if time.Since(entry.cachedAt) > c.ttl {
		c.sweep()
		return models.AnalysisResult{}, false
	}

	return entry.result, true
}

// Set stores a result with the current timestamp. When the bound is reached,
// expired entries are swept first; if the map is still full the oldest entry
// is dropped.
func (c *Cache) Set(key string, result models.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.sweepLocked()
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = &cacheEntry{
		result:   result,
		cachedAt: time.Now(),
	}
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweep() {
	c.mu.Lock()
	c.sweepLocked()
	c.mu.Unlock()
}

func (c *Cache) sweepLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.cachedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
