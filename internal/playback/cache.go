package playback

import (
	"sync"
	"sync/atomic"
)

// Default cache bounds.
const (
	DefaultCacheBytes   = 256 << 20
	DefaultCacheEntries = 900
)

// FrameCache memoizes rendered preview frames with LRU eviction bounded by
// total bytes and entry count.
type FrameCache struct {
	entries     map[int]*cacheEntry
	mutex       sync.RWMutex
	maxBytes    int64
	maxEntries  int
	currentSize int64
	// LRU doubly-linked list with sentinel head and tail
	head *cacheEntry
	tail *cacheEntry

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	frame int
	value []byte
	size  int64
	prev  *cacheEntry
	next  *cacheEntry
}

// CacheStats is a point-in-time view of cache usage.
type CacheStats struct {
	Entries    int     `json:"entries"`
	Bytes      int64   `json:"bytes"`
	MaxBytes   int64   `json:"maxBytes"`
	MaxEntries int     `json:"maxEntries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	HitRate    float64 `json:"hitRate"`
}

// NewFrameCache creates a cache. Non-positive bounds use the defaults.
func NewFrameCache(maxBytes int64, maxEntries int) *FrameCache {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheBytes
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	c := &FrameCache{
		entries:    make(map[int]*cacheEntry),
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		head:       &cacheEntry{},
		tail:       &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the cached frame and marks it recently used.
func (c *FrameCache) Get(frame int) ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[frame]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	c.moveToFront(entry)
	atomic.AddInt64(&c.hits, 1)
	return entry.value, true
}

// Contains reports whether frame is cached without touching LRU order or
// stats.
func (c *FrameCache) Contains(frame int) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.entries[frame]
	return ok
}

// Set stores a frame. A value larger than the byte bound is not cached.
func (c *FrameCache) Set(frame int, value []byte) {
	size := int64(len(value))

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if size > c.maxBytes {
		return
	}

	if existing, ok := c.entries[frame]; ok {
		c.currentSize += size - existing.size
		existing.value = value
		existing.size = size
		c.moveToFront(existing)
		c.evictIfNeeded(0, 0)
		return
	}

	c.evictIfNeeded(size, 1)

	entry := &cacheEntry{frame: frame, value: value, size: size}
	c.entries[frame] = entry
	c.currentSize += size
	c.addToFront(entry)
}

// Clear drops every entry. Stats are kept.
func (c *FrameCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[int]*cacheEntry)
	c.currentSize = 0
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len is the number of cached frames.
func (c *FrameCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Stats returns current usage.
func (c *FrameCache) Stats() CacheStats {
	c.mutex.RLock()
	s := CacheStats{
		Entries:    len(c.entries),
		Bytes:      c.currentSize,
		MaxBytes:   c.maxBytes,
		MaxEntries: c.maxEntries,
	}
	c.mutex.RUnlock()

	s.Hits = atomic.LoadInt64(&c.hits)
	s.Misses = atomic.LoadInt64(&c.misses)
	s.Evictions = atomic.LoadInt64(&c.evictions)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// evictIfNeeded removes least recently used entries until newSize bytes and
// newEntries entries fit.
func (c *FrameCache) evictIfNeeded(newSize int64, newEntries int) {
	for (c.currentSize+newSize > c.maxBytes || len(c.entries)+newEntries > c.maxEntries) && c.tail.prev != c.head {
		lru := c.tail.prev
		c.removeFromList(lru)
		delete(c.entries, lru.frame)
		c.currentSize -= lru.size
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *FrameCache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *FrameCache) removeFromList(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *FrameCache) moveToFront(entry *cacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
