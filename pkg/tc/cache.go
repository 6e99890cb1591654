package tc

import (
	"log"
	"sync"
	"time"

	"github.com/iklop007/galaxytx/pkg/store"
)

// StatusCache is an LRU+TTL cache of GlobalStatus lookups keyed by xid. It
// exists so that GlobalStatus (a read-heavy operation reachable by any TM
// polling a long-running transaction) does not hit the metadata store on
// every call.
type StatusCache struct {
	entries map[string]*statusEntry
	lru     *lruList
	config  StatusCacheConfig
	mutex   sync.RWMutex
	stats   CacheStats
	lastGC  time.Time
}

type statusEntry struct {
	xid       string
	status    store.GlobalStatus
	createdAt time.Time
	prev      *statusEntry
	next      *statusEntry
}

type lruList struct {
	head *statusEntry
	tail *statusEntry
	size int
}

// StatusCacheConfig configures the coordinator's GlobalStatus cache.
type StatusCacheConfig struct {
	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration
	Enabled         bool
}

// DefaultStatusCacheConfig returns sensible defaults.
func DefaultStatusCacheConfig() StatusCacheConfig {
	return StatusCacheConfig{
		MaxSize:         2000,
		TTL:             2 * time.Second,
		CleanupInterval: time.Minute,
		Enabled:         true,
	}
}

// CacheStats reports cache performance counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// NewStatusCache builds a StatusCache.
func NewStatusCache(config StatusCacheConfig) *StatusCache {
	if config.MaxSize <= 0 {
		config.MaxSize = 2000
	}
	if config.TTL <= 0 {
		config.TTL = 2 * time.Second
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	return &StatusCache{
		entries: make(map[string]*statusEntry),
		lru:     &lruList{},
		config:  config,
		lastGC:  time.Now(),
	}
}

// Get returns the cached status for xid, if present and unexpired. The
// cache is intentionally short-lived (default TTL 2s) since a stale status
// read is tolerable for polling clients but must not mask a terminal
// transition for long.
func (c *StatusCache) Get(xid string) (store.GlobalStatus, bool) {
	if !c.config.Enabled {
		return "", false
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[xid]
	if !ok {
		c.stats.Misses++
		return "", false
	}
	if time.Since(entry.createdAt) > c.config.TTL {
		c.removeEntry(entry)
		c.stats.Expirations++
		return "", false
	}
	c.moveToFront(entry)
	c.stats.Hits++
	return entry.status, true
}

// Set stores xid's current status, invalidating any prior entry.
func (c *StatusCache) Set(xid string, status store.GlobalStatus) {
	if !c.config.Enabled {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, ok := c.entries[xid]; ok {
		existing.status = status
		existing.createdAt = time.Now()
		c.moveToFront(existing)
		return
	}

	entry := &statusEntry{xid: xid, status: status, createdAt: time.Now()}
	c.entries[xid] = entry
	c.addToFront(entry)

	if c.lru.size > c.config.MaxSize {
		c.evictLRU()
	}
	if time.Since(c.lastGC) > c.config.CleanupInterval {
		go c.cleanupExpired()
	}
}

// Invalidate removes xid from the cache. Called on every status transition
// so that the next Get reflects the coordinator's authoritative state
// rather than a stale terminal-adjacent entry.
func (c *StatusCache) Invalidate(xid string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if entry, ok := c.entries[xid]; ok {
		c.removeEntry(entry)
	}
}

func (c *StatusCache) addToFront(entry *statusEntry) {
	if c.lru.head == nil {
		c.lru.head = entry
		c.lru.tail = entry
	} else {
		entry.next = c.lru.head
		c.lru.head.prev = entry
		c.lru.head = entry
	}
	c.lru.size++
}

func (c *StatusCache) removeFromList(entry *statusEntry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.lru.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.lru.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
	c.lru.size--
}

func (c *StatusCache) moveToFront(entry *statusEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}

func (c *StatusCache) removeEntry(entry *statusEntry) {
	delete(c.entries, entry.xid)
	c.removeFromList(entry)
}

func (c *StatusCache) evictLRU() {
	if c.lru.tail == nil {
		return
	}
	lru := c.lru.tail
	c.removeEntry(lru)
	c.stats.Evictions++
}

func (c *StatusCache) cleanupExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	var expired []string
	for xid, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.config.TTL {
			expired = append(expired, xid)
		}
	}
	for _, xid := range expired {
		if entry, ok := c.entries[xid]; ok {
			c.removeEntry(entry)
			c.stats.Expirations++
		}
	}
	c.lastGC = now
	if len(expired) > 0 {
		log.Printf("[tc] status cache cleaned up %d expired entries", len(expired))
	}
}

// GetStats returns current cache performance counters.
func (c *StatusCache) GetStats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}

// Size returns the number of entries currently cached.
func (c *StatusCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lru.size
}
