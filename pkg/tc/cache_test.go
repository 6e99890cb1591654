package tc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iklop007/galaxytx/pkg/store"
)

func TestStatusCacheSetGetHitAndMiss(t *testing.T) {
	c := NewStatusCache(DefaultStatusCacheConfig())

	_, ok := c.Get("xid-1")
	assert.False(t, ok)

	c.Set("xid-1", store.StatusCommitted)
	status, ok := c.Get("xid-1")
	assert.True(t, ok)
	assert.Equal(t, store.StatusCommitted, status)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestStatusCacheInvalidateRemovesEntry(t *testing.T) {
	c := NewStatusCache(DefaultStatusCacheConfig())
	c.Set("xid-1", store.StatusBegin)
	c.Invalidate("xid-1")

	_, ok := c.Get("xid-1")
	assert.False(t, ok)
}

func TestStatusCacheExpiresEntriesPastTTL(t *testing.T) {
	cfg := DefaultStatusCacheConfig()
	cfg.TTL = time.Millisecond
	c := NewStatusCache(cfg)

	c.Set("xid-1", store.StatusBegin)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("xid-1")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats().Expirations)
}

func TestStatusCacheEvictsLRUBeyondMaxSize(t *testing.T) {
	cfg := DefaultStatusCacheConfig()
	cfg.MaxSize = 2
	c := NewStatusCache(cfg)

	c.Set("xid-1", store.StatusBegin)
	c.Set("xid-2", store.StatusBegin)
	c.Set("xid-3", store.StatusBegin) // evicts xid-1, the least recently used

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("xid-1")
	assert.False(t, ok)
	_, ok = c.Get("xid-3")
	assert.True(t, ok)
}

func TestStatusCacheDisabledNeverStores(t *testing.T) {
	cfg := DefaultStatusCacheConfig()
	cfg.Enabled = false
	c := NewStatusCache(cfg)

	c.Set("xid-1", store.StatusBegin)
	_, ok := c.Get("xid-1")
	assert.False(t, ok)
}
