// Package cache provides retrieval-response caching for EngramDB.
//
// Repeated retrievals with the same query and options inside a short time
// bucket return the previously fused result set instead of re-querying all
// three indices.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration checked on read (no background sweeps)
// - Time-bucketed keys so cached responses age out naturally
// - Thread-safe operations with hit/miss statistics
//
// Usage:
//
//	rc := cache.NewResultCache(256, 5*time.Minute)
//
//	key := rc.Key("deploy failures", "limit=10", time.Now())
//	if res, ok := rc.Get(key); ok {
//		return res // cache hit
//	}
//
//	res := runRetrieval(query)
//	rc.Put(key, res)
package cache

import (
	"container/list"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// ResultCache is a thread-safe LRU cache for fused retrieval results.
//
// The cache pairs a hash map for O(1) lookups with a doubly-linked list for
// LRU ordering. Entries expire after the configured TTL; expiry is checked on
// read rather than by periodic scanning.
type ResultCache struct {
	mu sync.RWMutex

	maxSize int
	ttl     time.Duration

	list  *list.List
	items map[uint64]*list.Element

	hits   uint64
	misses uint64
}

// resultEntry holds a cached value with its expiry.
type resultEntry struct {
	key       uint64
	value     any
	expiresAt time.Time
}

// NewResultCache creates a result cache.
//
// maxSize bounds the entry count (LRU eviction past it); ttl is the entry
// lifetime (0 = no expiration). Non-positive maxSize falls back to 256.
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &ResultCache{
		maxSize: maxSize,
		ttl:     ttl,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// Key builds a cache key from the query text, a canonical rendering of the
// retrieval options, and the 5-minute bucket the given time falls in. Two
// identical retrievals inside the same bucket share a key; the bucket rolls
// the key over so stale responses cannot outlive their window indefinitely.
func (c *ResultCache) Key(query, options string, at time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(options))

	var bucket [8]byte
	binary.BigEndian.PutUint64(bucket[:], uint64(at.Unix()/300))
	h.Write(bucket[:])

	return h.Sum64()
}

// Get retrieves a cached result if present and not expired.
// Moves the entry to the front of the LRU list on hit.
func (c *ResultCache) Get(key uint64) (any, bool) {
	c.mu.RLock()
	elem, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*resultEntry)

	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		c.removeElement(elem)
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.mu.Lock()
	c.list.MoveToFront(elem)
	c.mu.Unlock()

	atomic.AddUint64(&c.hits, 1)
	return entry.value, true
}

// Put stores a result, evicting the least recently used entry when full.
// Storing an existing key updates the value and refreshes the TTL.
func (c *ResultCache) Put(key uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*resultEntry)
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &resultEntry{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
}

// Clear removes all entries.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

// Stats holds cache performance counters.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64 // percentage, 0-100
}

// Stats returns a point-in-time snapshot of cache statistics.
func (c *ResultCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.RLock()
	size := c.list.Len()
	c.mu.RUnlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *ResultCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *ResultCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*resultEntry).key)
}
