package governor

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value        interface{}
	expiresAt    time.Time // zero means no expiry
	accessCount  int
	lastAccessed time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is a bounded in-memory cache with per-entry TTL. When full, the
// least-used entry (fewest accesses, oldest access as tie-break) is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
	now     func() time.Time
}

// NewCache creates a cache holding at most maxSize entries. A maxSize of 0
// defaults to 1000.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached value, or nil and false when absent or expired.
// Expired entries are removed on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if entry.expired(now) {
		delete(c.entries, key)
		return nil, false
	}

	entry.accessCount++
	entry.lastAccessed = now
	return entry.value, true
}

// Set stores a value with the given TTL. A TTL of 0 never expires.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLeastUsed()
	}

	now := c.now()
	entry := &cacheEntry{value: value, lastAccessed: now}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	c.entries[key] = entry
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len returns the number of entries, including any not yet expired-swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictLeastUsed() {
	var victim string
	var victimEntry *cacheEntry
	for key, entry := range c.entries {
		if victimEntry == nil ||
			entry.accessCount < victimEntry.accessCount ||
			(entry.accessCount == victimEntry.accessCount && entry.lastAccessed.Before(victimEntry.lastAccessed)) {
			victim = key
			victimEntry = entry
		}
	}
	if victimEntry != nil {
		delete(c.entries, victim)
	}
}
