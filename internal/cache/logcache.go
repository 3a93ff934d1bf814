// Package cache keeps recently viewed merged logs parsed in memory so paging
// through a log does not re-read the file on every request.
package cache

import (
	"container/list"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeekshard/zeekshard/internal/zeeklog"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
}

// LogCache is an LRU cache of parsed logs keyed by file path. Entries are
// invalidated when the file's size or modification time changes.
type LogCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64

	// items maps path → list element (whose value is *cacheEntry)
	items map[string]*list.Element
	order *list.List // front = most recently used

	metrics Metrics
}

type cacheEntry struct {
	path    string
	size    int64
	modTime time.Time
	log     *zeeklog.Log
}

// NewLogCache creates a cache holding logs up to maxBytes of source file size
// (default 256MB).
func NewLogCache(maxBytes int64) *LogCache {
	if maxBytes <= 0 {
		maxBytes = 256 * 1024 * 1024
	}
	return &LogCache{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Load returns the parsed log at path, reading it on a miss. The returned
// log is shared and must not be modified.
func (c *LogCache) Load(path string) (*zeeklog.Log, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if l := c.get(path, info); l != nil {
		c.metrics.Hits.Add(1)
		return l, nil
	}
	c.metrics.Misses.Add(1)

	l, err := zeeklog.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c.put(&cacheEntry{path: path, size: info.Size(), modTime: info.ModTime(), log: l})
	return l, nil
}

func (c *LogCache) get(path string, info os.FileInfo) *zeeklog.Log {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[path]
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if entry.size != info.Size() || !entry.modTime.Equal(info.ModTime()) {
		c.removeLocked(elem)
		return nil
	}
	c.order.MoveToFront(elem)
	return entry.log
}

func (c *LogCache) put(entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[entry.path]; ok {
		c.removeLocked(elem)
	}
	c.items[entry.path] = c.order.PushFront(entry)
	c.curBytes += entry.size

	// The newest entry is kept even when it alone exceeds the limit.
	for c.curBytes > c.maxBytes && c.order.Len() > 1 {
		c.removeLocked(c.order.Back())
		c.metrics.Evictions.Add(1)
	}
}

// Caller must hold c.mu.
func (c *LogCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.path)
	c.curBytes -= entry.size
}

// Invalidate drops every entry whose path is under prefix.
func (c *LogCache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, elem := range c.items {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			c.removeLocked(elem)
		}
	}
}

// Size returns the total source size of cached logs in bytes.
func (c *LogCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// Len returns the number of cached entries.
func (c *LogCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit, miss and eviction counts.
func (c *LogCache) Stats() (hits, misses, evictions int64) {
	return c.metrics.Hits.Load(), c.metrics.Misses.Load(), c.metrics.Evictions.Load()
}
