package rm

import (
	"context"
	"time"

	"github.com/iklop007/galaxytx/pkg/store"
)

// RetryPolicy configures the exponential-backoff retry driver shared by
// every handler.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultRetryPolicies returns the per-resource-type attempt ceilings named
// in the dispatch table: AT=5, TCC=5, HTTP=3, MQ=3, XA=3, all sharing a
// 1.5x backoff capped at 30s.
func DefaultRetryPolicies() map[store.BranchType]RetryPolicy {
	base := RetryPolicy{InitialInterval: time.Second, Multiplier: 1.5, MaxInterval: 30 * time.Second}
	at := base
	at.MaxAttempts = 5
	tcc := base
	tcc.MaxAttempts = 5
	httpP := base
	httpP.MaxAttempts = 3
	mq := base
	mq.MaxAttempts = 3
	xa := base
	xa.MaxAttempts = 3
	return map[store.BranchType]RetryPolicy{
		store.BranchAT:   at,
		store.BranchTCC:  tcc,
		store.BranchHTTP: httpP,
		store.BranchMQ:   mq,
		store.BranchXA:   xa,
	}
}

// WithRetry invokes attempt up to policy.MaxAttempts times, backing off
// exponentially between retryable failures. The first non-retryable
// result, the first success, or exhaustion of attempts ends the loop.
func WithRetry(ctx context.Context, policy RetryPolicy, attempt func(ctx context.Context) CommunicationResult) CommunicationResult {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	interval := policy.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 1.5
	}
	maxInterval := policy.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}

	var last CommunicationResult
	for i := 0; i < maxAttempts; i++ {
		last = attempt(ctx)
		if last.Success() || !last.retryable() {
			return last
		}
		if i == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return CommunicationResult{Status: Timeout, Err: ctx.Err()}
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * multiplier)
		if interval > maxInterval {
			interval = maxInterval
		}
	}
	return last
}
