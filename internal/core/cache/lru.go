package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry represents a cached item
type Entry[V any] struct {
	Key         string
	Value       V
	StoredAt    time.Time
	TTL         time.Duration
	AccessCount uint64
	LastAccess  time.Time
}

// Expired reports whether the entry is past its TTL at now
func (e *Entry[V]) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.StoredAt) >= e.TTL
}

// LRU is a size-bounded cache with per-entry TTL. Eviction is strict
// least-recently-used once the cache is full.
type LRU[V any] struct {
	entries   *simplelru.LRU[string, *Entry[V]]
	evicted   string
	evictions uint64
	mutex     sync.Mutex
}

// NewLRU creates an LRU holding at most capacity entries
func NewLRU[V any](capacity int) *LRU[V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &LRU[V]{}
	// NewLRU only fails on a non-positive size
	c.entries, _ = simplelru.NewLRU[string, *Entry[V]](capacity, func(key string, _ *Entry[V]) {
		c.evicted = key
	})
	return c
}

// Get returns the entry for key. A live entry is marked most recently used
// and counted as accessed; an expired entry is returned untouched so callers
// can treat it as a miss without promoting it.
func (c *LRU[V]) Get(key string, now time.Time) (Entry[V], bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries.Peek(key)
	if !ok {
		return Entry[V]{}, false
	}
	if entry.Expired(now) {
		return *entry, true
	}
	c.entries.Get(key)
	entry.AccessCount++
	entry.LastAccess = now
	return *entry, true
}

// Peek returns the entry without touching recency or access counts
func (c *LRU[V]) Peek(key string) (Entry[V], bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries.Peek(key)
	if !ok {
		return Entry[V]{}, false
	}
	return *entry, true
}

// Put stores value under key. It returns the key evicted to make room, if any.
func (c *LRU[V]) Put(key string, value V, ttl time.Duration, now time.Time) (string, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry, ok := c.entries.Get(key); ok {
		entry.Value = value
		entry.StoredAt = now
		entry.TTL = ttl
		entry.LastAccess = now
		return "", false
	}

	c.evicted = ""
	didEvict := c.entries.Add(key, &Entry[V]{
		Key:        key,
		Value:      value,
		StoredAt:   now,
		TTL:        ttl,
		LastAccess: now,
	})
	if !didEvict {
		return "", false
	}
	c.evictions++
	return c.evicted, true
}

// Remove deletes key from the cache
func (c *LRU[V]) Remove(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.entries.Remove(key)
}

// PurgeExpired drops every expired entry and returns how many were removed
func (c *LRU[V]) PurgeExpired(now time.Time) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for _, key := range c.entries.Keys() {
		if entry, ok := c.entries.Peek(key); ok && entry.Expired(now) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Keys returns keys from most to least recently used
func (c *LRU[V]) Keys() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	oldestFirst := c.entries.Keys()
	keys := make([]string, len(oldestFirst))
	for i, key := range oldestFirst {
		keys[len(keys)-1-i] = key
	}
	return keys
}

// Len returns the number of entries
func (c *LRU[V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.entries.Len()
}

// Evictions returns the number of capacity evictions since creation
func (c *LRU[V]) Evictions() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.evictions
}

// Clear removes all entries
func (c *LRU[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries.Purge()
}
