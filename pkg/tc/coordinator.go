// Package tc implements the Transaction Coordinator: global-transaction
// lifecycle, branch registry, lock arbitration, phase-2 driving and
// timeout scanning.
package tc

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/iklop007/galaxytx/pkg/idgen"
	"github.com/iklop007/galaxytx/pkg/rm"
	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/txerr"
)

// Config bounds the coordinator's timeout, lock and retry behaviour.
type Config struct {
	DefaultTimeoutMs int64
	MaxTimeoutMs     int64
	MinTimeoutMs     int64
	BranchTimeoutMs  int64
	LockPolicy       LockPolicy
	ScanInterval     time.Duration
}

// DefaultConfig mirrors the values named in the coordinator's
// configuration-key table.
func DefaultConfig() Config {
	return Config{
		DefaultTimeoutMs: 60000,
		MaxTimeoutMs:     300000,
		MinTimeoutMs:     1000,
		BranchTimeoutMs:  30000,
		LockPolicy:       DefaultLockPolicy(),
		ScanInterval:     60 * time.Second,
	}
}

// Coordinator is the TC: it owns the global/branch state machines, the
// lock manager and the phase-2 dispatcher; the background timeout Scanner
// is a separate type that runs over it. Every mutating operation on a given xid is serialized through
// a per-xid keyed lock so that operations on distinct xids proceed fully
// in parallel (per the concurrency model), while operations on the same
// xid never race.
type Coordinator struct {
	store   store.Store
	locks   LockManager
	ids     *idgen.Generator
	cache   *StatusCache
	dispatcher *rm.Dispatcher
	cfg     Config
	tcc     *rm.TCCRegistry

	keyedMu sync.Map // xid -> *sync.Mutex
}

// New builds a Coordinator.
func New(s store.Store, locks LockManager, ids *idgen.Generator, dispatcher *rm.Dispatcher, cfg Config) *Coordinator {
	return &Coordinator{
		store:      s,
		locks:      locks,
		ids:        ids,
		cache:      NewStatusCache(DefaultStatusCacheConfig()),
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// SetTCCRegistry wires the TCC confirm/cancel registry into
// ReportBranchStatus's Try-acceptance check as well, so a Try that
// finally completes after phase two already cancelled its branch without
// ever seeing it is rejected instead of recorded as done. Optional: a
// deployment with no TCC-mode resources never calls it, and
// ReportBranchStatus skips the check entirely when nil.
func (c *Coordinator) SetTCCRegistry(r *rm.TCCRegistry) {
	c.tcc = r
}

// phaseTwoBudget bounds how long drivePhaseTwo is allowed to run for a
// single GlobalCommit/GlobalRollback RPC: generous enough to cover every
// branch's retry policy exhausting at its worst case.
func (c *Coordinator) phaseTwoBudget() time.Duration {
	return time.Duration(c.cfg.BranchTimeoutMs)*time.Millisecond + 5*time.Minute
}

func (c *Coordinator) lockXID(xid string) func() {
	v, _ := c.keyedMu.LoadOrStore(xid, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Begin creates a new GlobalTransaction and returns its xid. timeoutMs is
// clamped into [MinTimeoutMs, MaxTimeoutMs] — the caller's value is
// authoritative within that range (the teacher's source silently
// overwrote it; this coordinator does not).
func (c *Coordinator) Begin(applicationID, transactionName string, timeoutMs int64) (string, error) {
	if timeoutMs <= 0 {
		timeoutMs = c.cfg.DefaultTimeoutMs
	}
	timeoutMs = store.Clamp(timeoutMs, c.cfg.MinTimeoutMs, c.cfg.MaxTimeoutMs)

	xid := c.ids.NextXID(applicationID)
	g := &store.GlobalTransaction{
		XID:             xid,
		Status:          store.StatusBegin,
		ApplicationID:   applicationID,
		TransactionName: transactionName,
		TimeoutMs:       timeoutMs,
		BeginTimeMs:     store.NowMs(),
	}
	if err := c.store.CreateGlobal(g); err != nil {
		return "", txerr.Wrap(txerr.Internal, "create global transaction", err)
	}
	log.Printf("[tc] begin xid=%s app=%s name=%s timeoutMs=%d", xid, applicationID, transactionName, timeoutMs)
	return xid, nil
}

// RegisterBranch registers a new branch participant, acquiring AT-mode
// global locks synchronously when lockKey is non-empty.
func (c *Coordinator) RegisterBranch(ctx context.Context, xid, resourceGroupID, resourceID string, branchType store.BranchType, lockKey string, appData []byte) (int64, error) {
	unlock := c.lockXID(xid)
	defer unlock()

	g, err := c.store.GetGlobal(xid)
	if err != nil {
		return 0, txerr.Wrap(txerr.Internal, "load global transaction", err)
	}
	if g == nil {
		return 0, txerr.New(txerr.GlobalNotFound, "xid "+xid+" not found")
	}
	if g.Status.Terminal() {
		return 0, txerr.New(txerr.GlobalNotActive, "xid "+xid+" is terminal")
	}

	branchID := c.ids.NextBranchID()
	if lockKey != "" {
		keys := splitLockKeys(lockKey)
		lockCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.BranchTimeoutMs)*time.Millisecond)
		defer cancel()
		if err := c.locks.Acquire(lockCtx, xid, branchID, keys); err != nil {
			return 0, err
		}
	}

	b := &store.BranchTransaction{
		BranchID:        branchID,
		XID:             xid,
		ResourceGroupID: resourceGroupID,
		ResourceID:      resourceID,
		BranchType:      branchType,
		LockKey:         lockKey,
		Status:          store.BranchRegistered,
		ApplicationData: appData,
		BeginTimeMs:     store.NowMs(),
		TimeoutMs:       c.cfg.BranchTimeoutMs,
	}
	if err := c.store.CreateBranch(b); err != nil {
		if lockKey != "" {
			_ = c.locks.Release(xid, branchID)
		}
		return 0, txerr.Wrap(txerr.Internal, "create branch", err)
	}
	return branchID, nil
}

// ReportBranchStatus applies an idempotent, forward-only phase-1 status
// transition reported by an RM. This is the Try-acceptance point for TCC
// branches: a Try that finally completes after phase two already
// dispatched a Cancel against this branch (the cancel-without-try case)
// is rejected rather than recorded as a success, per the registry's
// anti-suspension marker.
func (c *Coordinator) ReportBranchStatus(xid string, branchID int64, status store.BranchStatus) error {
	unlock := c.lockXID(xid)
	defer unlock()

	b, err := c.store.GetBranch(branchID)
	if err != nil {
		return txerr.Wrap(txerr.Internal, "load branch", err)
	}
	if b == nil {
		return txerr.New(txerr.ResourceNotFound, "branch not found")
	}
	if status == store.BranchPhaseOneDone && b.BranchType == store.BranchTCC && c.tcc != nil {
		if !c.tcc.TryAllowed(xid, branchID) {
			return txerr.New(txerr.GlobalNotActive, "late try rejected: branch already cancelled without a try")
		}
	}
	if !forwardTransition(b.Status, status) {
		return nil // backward or repeated report, discarded
	}
	return c.store.UpdateBranchStatus(branchID, status)
}

// forwardTransition reports whether moving from 'from' to 'to' is a valid
// forward phase-1 transition per the branch state machine.
func forwardTransition(from, to store.BranchStatus) bool {
	if from == to {
		return false
	}
	order := map[store.BranchStatus]int{
		store.BranchRegistered:     0,
		store.BranchPhaseOneDone:   1,
		store.BranchPhaseOneFailed: 1,
		store.BranchTimeout:        1,
	}
	fromRank, fromOK := order[from]
	toRank, toOK := order[to]
	if !fromOK || !toOK {
		return true // phase-2 transitions are handled by the coordinator itself
	}
	return toRank > fromRank
}

// GlobalCommit drives phase-2 commit across every branch of xid.
// Idempotent: calling it again on an already-terminal xid returns the
// existing status without re-driving phase-2.
func (c *Coordinator) GlobalCommit(ctx context.Context, xid string) (store.GlobalStatus, error) {
	return c.drivePhaseTwo(ctx, xid, true)
}

// GlobalRollback drives phase-2 rollback across every branch of xid.
func (c *Coordinator) GlobalRollback(ctx context.Context, xid string) (store.GlobalStatus, error) {
	return c.drivePhaseTwo(ctx, xid, false)
}

func (c *Coordinator) drivePhaseTwo(ctx context.Context, xid string, commit bool) (store.GlobalStatus, error) {
	unlock := c.lockXID(xid)
	g, err := c.store.GetGlobal(xid)
	if err != nil {
		unlock()
		return "", txerr.Wrap(txerr.Internal, "load global transaction", err)
	}
	if g == nil {
		unlock()
		return "", txerr.New(txerr.GlobalNotFound, "xid "+xid+" not found")
	}
	if g.Status.Terminal() {
		status := g.Status
		unlock()
		return status, nil
	}

	drivingStatus := store.StatusCommitting
	if !commit {
		drivingStatus = store.StatusRollbacking
	}
	if g.Status == store.StatusTimeoutRollbacking {
		drivingStatus = store.StatusTimeoutRollbacking
		commit = false
	}
	_ = c.store.UpdateGlobalStatus(xid, drivingStatus)
	c.cache.Invalidate(xid)
	unlock()

	branches, err := c.store.ListBranches(xid)
	if err != nil {
		return "", txerr.Wrap(txerr.Internal, "list branches", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	anyFailed := false
	atBranchesDone := make(chan struct{}, len(branches))

	for _, b := range branches {
		if !b.Status.EligibleForPhaseTwo() {
			continue
		}
		wg.Add(1)
		go func(b *store.BranchTransaction) {
			defer wg.Done()
			ok := c.dispatchBranch(ctx, b, commit)
			if !ok {
				mu.Lock()
				anyFailed = true
				mu.Unlock()
			}
			if b.BranchType == store.BranchAT {
				atBranchesDone <- struct{}{}
			}
		}(b)
	}
	wg.Wait()
	close(atBranchesDone)

	// Locks are released strictly after every AT branch reaches a
	// PhaseTwo-final state, which Wait() above already guarantees.
	for _, b := range branches {
		if b.BranchType == store.BranchAT {
			_ = c.locks.Release(xid, b.BranchID)
		}
	}

	unlock = c.lockXID(xid)
	defer unlock()

	var finalStatus store.GlobalStatus
	switch {
	case commit && anyFailed:
		finalStatus = store.StatusCommitFailed
	case commit && !anyFailed:
		finalStatus = store.StatusCommitted
	case !commit && drivingStatus == store.StatusTimeoutRollbacking && !anyFailed:
		finalStatus = store.StatusTimeoutRollbacked
	case !commit && anyFailed:
		finalStatus = store.StatusRollbackFailed
	default:
		finalStatus = store.StatusRollbacked
	}
	if err := c.store.UpdateGlobalStatus(xid, finalStatus); err != nil {
		return "", txerr.Wrap(txerr.Internal, "update global status", err)
	}
	c.cache.Set(xid, finalStatus)
	log.Printf("[tc] xid=%s phase-2 complete status=%s branches=%d failed=%v", xid, finalStatus, len(branches), anyFailed)
	return finalStatus, nil
}

// dispatchBranch drives one branch's phase-2 transition and resource-
// manager dispatch, persisting its final branch status. It returns false
// if the branch ends in a PhaseTwo-failed state.
func (c *Coordinator) dispatchBranch(ctx context.Context, b *store.BranchTransaction, commit bool) bool {
	committing := store.BranchPhaseTwoCommitting
	if !commit {
		committing = store.BranchPhaseTwoRollbacking
	}
	_ = c.store.UpdateBranchStatus(b.BranchID, committing)

	result := c.dispatcher.Dispatch(ctx, b, commit)

	var final store.BranchStatus
	if result.Success() {
		if commit {
			final = store.BranchPhaseTwoCommitted
		} else {
			final = store.BranchPhaseTwoRollbacked
		}
	} else {
		if commit {
			final = store.BranchPhaseTwoCommitFailed
		} else {
			final = store.BranchPhaseTwoRollbackFailed
		}
		log.Printf("[tc] branch %d dispatch failed: %v", b.BranchID, result.Error())
	}
	_ = c.store.UpdateBranchStatus(b.BranchID, final)
	return result.Success()
}

// GlobalStatus returns xid's current status, consulting the short-lived
// status cache before falling through to the store.
func (c *Coordinator) GlobalStatus(xid string) (store.GlobalStatus, error) {
	if status, ok := c.cache.Get(xid); ok {
		return status, nil
	}
	g, err := c.store.GetGlobal(xid)
	if err != nil {
		return "", txerr.Wrap(txerr.Internal, "load global transaction", err)
	}
	if g == nil {
		return "", txerr.New(txerr.GlobalNotFound, "xid "+xid+" not found")
	}
	c.cache.Set(xid, g.Status)
	return g.Status, nil
}

func splitLockKeys(lockKey string) []string {
	var keys []string
	start := 0
	for i := 0; i <= len(lockKey); i++ {
		if i == len(lockKey) || lockKey[i] == ',' {
			if i > start {
				keys = append(keys, lockKey[start:i])
			}
			start = i + 1
		}
	}
	return keys
}
