package tc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iklop007/galaxytx/pkg/idgen"
	"github.com/iklop007/galaxytx/pkg/rm"
	"github.com/iklop007/galaxytx/pkg/store"
)

type stubRMHandler struct {
	commitResult   rm.CommunicationResult
	rollbackResult rm.CommunicationResult
}

func (h *stubRMHandler) Commit(ctx context.Context, b *store.BranchTransaction) rm.CommunicationResult {
	return h.commitResult
}

func (h *stubRMHandler) Rollback(ctx context.Context, b *store.BranchTransaction) rm.CommunicationResult {
	return h.rollbackResult
}

func newTestCoordinator(t *testing.T, handler rm.Handler) *Coordinator {
	t.Helper()
	s := store.NewMemoryStore()
	locks := NewStoreLockManager(s, LockPolicy{MaxRetries: 1, RetryInterval: time.Millisecond})
	ids, err := idgen.New(1)
	require.NoError(t, err)

	dispatcher := rm.NewDispatcher()
	dispatcher.Register(store.BranchAT, handler)

	cfg := DefaultConfig()
	cfg.BranchTimeoutMs = 2000
	return New(s, locks, ids, dispatcher, cfg)
}

func TestCoordinatorBeginClampsTimeout(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{commitResult: rm.CommunicationResult{Status: rm.Success}})

	xid, err := c.Begin("orders-app", "place-order", 1)
	require.NoError(t, err)
	assert.NotEmpty(t, xid)

	g, err := c.store.GetGlobal(xid)
	require.NoError(t, err)
	assert.Equal(t, c.cfg.MinTimeoutMs, g.TimeoutMs)

	status, err := c.GlobalStatus(xid)
	require.NoError(t, err)
	assert.Equal(t, store.StatusBegin, status)
}

func TestCoordinatorRegisterBranchRejectsUnknownXID(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	_, err := c.RegisterBranch(context.Background(), "no-such-xid", "default", "orders-db", store.BranchAT, "", nil)
	require.Error(t, err)
}

func TestCoordinatorRegisterBranchAcquiresLock(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	xid, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)

	branchID, err := c.RegisterBranch(context.Background(), xid, "default", "orders-db", store.BranchAT, "orders:1", nil)
	require.NoError(t, err)
	assert.NotZero(t, branchID)

	// A second branch contending for the same row under a different xid
	// must fail to register while the first branch's lock is held.
	xid2, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)
	_, err = c.RegisterBranch(context.Background(), xid2, "default", "orders-db", store.BranchAT, "orders:1", nil)
	require.Error(t, err)
}

func TestCoordinatorReportBranchStatusIsForwardOnly(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	xid, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)
	branchID, err := c.RegisterBranch(context.Background(), xid, "default", "orders-db", store.BranchAT, "", nil)
	require.NoError(t, err)

	require.NoError(t, c.ReportBranchStatus(xid, branchID, store.BranchPhaseOneDone))
	// Reporting Registered again (backward) must be silently discarded.
	require.NoError(t, c.ReportBranchStatus(xid, branchID, store.BranchRegistered))

	b, err := c.store.GetBranch(branchID)
	require.NoError(t, err)
	assert.Equal(t, store.BranchPhaseOneDone, b.Status)
}

func TestCoordinatorGlobalCommitHappyPath(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{commitResult: rm.CommunicationResult{Status: rm.Success}})
	xid, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)
	branchID, err := c.RegisterBranch(context.Background(), xid, "default", "orders-db", store.BranchAT, "orders:1", nil)
	require.NoError(t, err)
	require.NoError(t, c.ReportBranchStatus(xid, branchID, store.BranchPhaseOneDone))

	status, err := c.GlobalCommit(context.Background(), xid)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCommitted, status)

	// Idempotent: calling again on a terminal xid returns the same status
	// without re-driving phase-2.
	status, err = c.GlobalCommit(context.Background(), xid)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCommitted, status)
}

func TestCoordinatorGlobalCommitMarksCommitFailedWhenHandlerFails(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{commitResult: rm.CommunicationResult{Status: rm.AuthError, Err: assert.AnError}})
	xid, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)
	branchID, err := c.RegisterBranch(context.Background(), xid, "default", "orders-db", store.BranchAT, "", nil)
	require.NoError(t, err)
	require.NoError(t, c.ReportBranchStatus(xid, branchID, store.BranchPhaseOneDone))

	status, err := c.GlobalCommit(context.Background(), xid)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCommitFailed, status)
}

func TestCoordinatorGlobalRollbackHappyPath(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{rollbackResult: rm.CommunicationResult{Status: rm.Success}})
	xid, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)
	branchID, err := c.RegisterBranch(context.Background(), xid, "default", "orders-db", store.BranchAT, "", nil)
	require.NoError(t, err)
	require.NoError(t, c.ReportBranchStatus(xid, branchID, store.BranchPhaseOneDone))

	status, err := c.GlobalRollback(context.Background(), xid)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRollbacked, status)
}

func TestCoordinatorGlobalStatusRejectsUnknownXID(t *testing.T) {
	c := newTestCoordinator(t, &stubRMHandler{})
	_, err := c.GlobalStatus("no-such-xid")
	require.Error(t, err)
}

// TestCoordinatorReportBranchStatusRejectsLateTryAfterCancelWithoutTry
// exercises the anti-suspension path: phase two cancels a TCC branch
// before its Try ever reported completion, and the Try that finally
// arrives afterward must be rejected rather than recorded as done.
func TestCoordinatorReportBranchStatusRejectsLateTryAfterCancelWithoutTry(t *testing.T) {
	s := store.NewMemoryStore()
	locks := NewStoreLockManager(s, LockPolicy{MaxRetries: 1, RetryInterval: time.Millisecond})
	ids, err := idgen.New(1)
	require.NoError(t, err)

	tccRegistry := rm.NewTCCRegistry(nil)
	tccRegistry.Register("orders-db", func() error { return nil }, func() error { return nil })

	dispatcher := rm.NewDispatcher()
	dispatcher.Register(store.BranchTCC, rm.NewTCCHandler(tccRegistry))

	cfg := DefaultConfig()
	cfg.BranchTimeoutMs = 2000
	c := New(s, locks, ids, dispatcher, cfg)
	c.SetTCCRegistry(tccRegistry)

	xid, err := c.Begin("orders-app", "place-order", 30000)
	require.NoError(t, err)
	branchID, err := c.RegisterBranch(context.Background(), xid, "default", "orders-db", store.BranchTCC, "", nil)
	require.NoError(t, err)

	// Global rollback before the Try ever reports phase-one-done: the TCC
	// handler cancels a branch that was never marked tried, setting the
	// cancel-without-try marker.
	status, err := c.GlobalRollback(context.Background(), xid)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRollbacked, status)

	// The slow Try finally completes and reports success: it must be
	// rejected, not recorded.
	err = c.ReportBranchStatus(xid, branchID, store.BranchPhaseOneDone)
	require.Error(t, err)

	b, err := s.GetBranch(branchID)
	require.NoError(t, err)
	assert.NotEqual(t, store.BranchPhaseOneDone, b.Status)
}
