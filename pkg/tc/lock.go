package tc

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/txerr"
)

// LockManager arbitrates AT-mode global row locks. The default
// implementation delegates to the metadata Store; an optional
// Redis-backed implementation is available for deployments that want the
// lock table kept out of the relational store's write path, mirroring the
// distributed-lock split a multi-datacenter 2PC controller uses to keep
// its hot lock path off the primary record store.
type LockManager interface {
	// Acquire attempts to hold every rowKey in lockKeys for (xid,
	// branchID), retrying per the configured policy. It returns
	// LockConflict if any key is held by a different xid after retries
	// are exhausted; already-acquired keys are released before
	// returning so a partial acquisition never lingers.
	Acquire(ctx context.Context, xid string, branchID int64, lockKeys []string) error
	// Release drops every lock held by (xid, branchID).
	Release(xid string, branchID int64) error
}

// LockPolicy bounds the retry behaviour of Acquire.
type LockPolicy struct {
	MaxRetries        int
	RetryInterval     time.Duration
	JitterFraction    float64
}

// DefaultLockPolicy matches the coordinator's default lock configuration:
// 30 retries at a 10ms interval.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{MaxRetries: 30, RetryInterval: 10 * time.Millisecond, JitterFraction: 0.2}
}

// StoreLockManager acquires locks through the metadata Store's
// AcquireLock/ReleaseLocks operations.
type StoreLockManager struct {
	store  store.Store
	policy LockPolicy
}

// NewStoreLockManager builds a LockManager backed directly by store.
func NewStoreLockManager(s store.Store, policy LockPolicy) *StoreLockManager {
	return &StoreLockManager{store: s, policy: policy}
}

func (m *StoreLockManager) Acquire(ctx context.Context, xid string, branchID int64, lockKeys []string) error {
	acquired := make([]string, 0, len(lockKeys))
	for _, key := range lockKeys {
		ok, err := m.acquireOne(ctx, key, xid, branchID)
		if err != nil {
			m.releaseKeys(xid, branchID, acquired)
			return txerr.Wrap(txerr.Internal, "acquire lock", err)
		}
		if !ok {
			m.releaseKeys(xid, branchID, acquired)
			return txerr.New(txerr.LockConflict, "row "+key+" held by another transaction")
		}
		acquired = append(acquired, key)
	}
	return nil
}

func (m *StoreLockManager) acquireOne(ctx context.Context, rowKey, xid string, branchID int64) (bool, error) {
	maxRetries := m.policy.MaxRetries
	interval := m.policy.RetryInterval
	if maxRetries <= 0 {
		maxRetries = 30
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ok, err := m.store.AcquireLock(rowKey, xid, branchID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == maxRetries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(jitter(interval, m.policy.JitterFraction)):
		}
	}
	return false, nil
}

func (m *StoreLockManager) releaseKeys(xid string, branchID int64, keys []string) {
	if len(keys) == 0 {
		return
	}
	_ = m.store.ReleaseLocks(xid, branchID)
}

func (m *StoreLockManager) Release(xid string, branchID int64) error {
	return m.store.ReleaseLocks(xid, branchID)
}

func jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return base
	}
	delta := float64(base) * fraction
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

// RedisLockManager acquires AT-mode locks against a Redis instance via
// SETNX, keeping the hot lock-acquisition path off the relational metadata
// store entirely. Locks are still mirrored into the Store for
// ListLocks/admin visibility once acquired.
type RedisLockManager struct {
	rdb    *redis.Client
	store  store.Store
	policy LockPolicy
	ttl    time.Duration
}

// NewRedisLockManager builds a LockManager backed by Redis SETNX, falling
// back to the given Store for lock listing only (never for the
// acquisition decision itself).
func NewRedisLockManager(rdb *redis.Client, s store.Store, policy LockPolicy) *RedisLockManager {
	return &RedisLockManager{rdb: rdb, store: s, policy: policy, ttl: time.Hour}
}

func (m *RedisLockManager) Acquire(ctx context.Context, xid string, branchID int64, lockKeys []string) error {
	acquired := make([]string, 0, len(lockKeys))
	for _, key := range lockKeys {
		ok, err := m.acquireOne(ctx, key, xid)
		if err != nil {
			m.rollback(xid, branchID, acquired)
			return txerr.Wrap(txerr.Internal, "redis acquire lock", err)
		}
		if !ok {
			m.rollback(xid, branchID, acquired)
			return txerr.New(txerr.LockConflict, "row "+key+" held by another transaction")
		}
		acquired = append(acquired, key)
		_, _ = m.store.AcquireLock(key, xid, branchID)
	}
	return nil
}

func (m *RedisLockManager) acquireOne(ctx context.Context, rowKey, xid string) (bool, error) {
	maxRetries := m.policy.MaxRetries
	interval := m.policy.RetryInterval
	if maxRetries <= 0 {
		maxRetries = 30
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	redisKey := "galaxytx:lock:" + rowKey

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ok, err := m.rdb.SetNX(ctx, redisKey, xid, m.ttl).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		// Re-acquisition by the same owner succeeds, matching the
		// Store-backed manager's semantics.
		owner, err := m.rdb.Get(ctx, redisKey).Result()
		if err == nil && owner == xid {
			return true, nil
		}
		if attempt == maxRetries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(jitter(interval, m.policy.JitterFraction)):
		}
	}
	return false, nil
}

func (m *RedisLockManager) rollback(xid string, branchID int64, keys []string) {
	for _, key := range keys {
		redisKey := "galaxytx:lock:" + key
		owner, err := m.rdb.Get(context.Background(), redisKey).Result()
		if err == nil && owner == xid {
			m.rdb.Del(context.Background(), redisKey)
		}
	}
	_ = m.store.ReleaseLocks(xid, branchID)
}

func (m *RedisLockManager) Release(xid string, branchID int64) error {
	locks, err := m.store.ListLocks(xid)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, l := range locks {
		if l.BranchID != branchID {
			continue
		}
		redisKey := "galaxytx:lock:" + l.RowKey
		owner, err := m.rdb.Get(ctx, redisKey).Result()
		if err == nil && owner == xid {
			m.rdb.Del(ctx, redisKey)
		}
	}
	return m.store.ReleaseLocks(xid, branchID)
}
