package tc

import (
	"sync"
	"time"
)

// RateLimiterConfig holds configuration for the per-connection wire rate
// limiter.
type RateLimiterConfig struct {
	RequestsPerSecond int
	BurstSize         int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig returns sensible defaults for the coordinator's
// wire surface.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		CleanupInterval:   5 * time.Minute,
	}
}

// tokenBucket is a token bucket for a single remote address.
type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
	mutex      sync.Mutex
}

func newTokenBucket(capacity, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// RateLimiter throttles inbound wire requests per remote address so that a
// single misbehaving client (TM or RM) cannot starve the coordinator's
// worker pool.
type RateLimiter struct {
	config  *RateLimiterConfig
	buckets map[string]*tokenBucket
	mutex   sync.RWMutex
	stopCh  chan struct{}
}

// NewRateLimiter builds a RateLimiter. A nil config applies
// DefaultRateLimiterConfig.
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*tokenBucket),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request from remoteAddr may proceed, consuming a
// token if so.
func (rl *RateLimiter) Allow(remoteAddr string) bool {
	if remoteAddr == "" {
		remoteAddr = "unknown"
	}

	rl.mutex.RLock()
	bucket, exists := rl.buckets[remoteAddr]
	rl.mutex.RUnlock()

	if !exists {
		rl.mutex.Lock()
		bucket, exists = rl.buckets[remoteAddr]
		if !exists {
			bucket = newTokenBucket(float64(rl.config.BurstSize), float64(rl.config.RequestsPerSecond))
			rl.buckets[remoteAddr] = bucket
		}
		rl.mutex.Unlock()
	}

	return bucket.Allow()
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.performCleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) performCleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	const cutoff = 10 * time.Minute

	for addr, bucket := range rl.buckets {
		bucket.mutex.Lock()
		inactive := now.Sub(bucket.lastRefill) > cutoff
		bucket.mutex.Unlock()

		if inactive {
			delete(rl.buckets, addr)
		}
	}
}

// Stop halts the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Stats reports current rate-limiter occupancy.
type Stats struct {
	ActiveClients     int
	RequestsPerSecond int
	BurstSize         int
}

// GetStats returns current rate limiter statistics.
func (rl *RateLimiter) GetStats() Stats {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	return Stats{
		ActiveClients:     len(rl.buckets),
		RequestsPerSecond: rl.config.RequestsPerSecond,
		BurstSize:         rl.config.BurstSize,
	}
}
