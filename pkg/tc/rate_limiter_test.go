package tc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 3, CleanupInterval: time.Hour})
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1")) // burst exhausted, refill rate too slow to help immediately
}

func TestRateLimiterTracksDistinctRemoteAddrsIndependently(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2")) // a different client has its own bucket
}

func TestRateLimiterEmptyRemoteAddrFallsBackToUnknownBucket(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	assert.True(t, rl.Allow(""))
	assert.False(t, rl.Allow(""))
}

func TestRateLimiterNilConfigUsesDefaults(t *testing.T) {
	rl := NewRateLimiter(nil)
	defer rl.Stop()

	stats := rl.GetStats()
	assert.Equal(t, DefaultRateLimiterConfig().RequestsPerSecond, stats.RequestsPerSecond)
	assert.Equal(t, DefaultRateLimiterConfig().BurstSize, stats.BurstSize)
}

func TestRateLimiterGetStatsReflectsActiveClients(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{RequestsPerSecond: 100, BurstSize: 200, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	assert.Equal(t, 2, rl.GetStats().ActiveClients)
}
