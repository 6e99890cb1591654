package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGlobalLifecycle(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.CreateGlobal(&GlobalTransaction{XID: "xid-1", Status: StatusBegin, TimeoutMs: 1000, BeginTimeMs: NowMs()}))

	g, err := s.GetGlobal("xid-1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, StatusBegin, g.Status)

	nonTerminal, err := s.ListNonTerminalGlobals()
	require.NoError(t, err)
	assert.Len(t, nonTerminal, 1)

	require.NoError(t, s.UpdateGlobalStatus("xid-1", StatusCommitted))
	nonTerminal, err = s.ListNonTerminalGlobals()
	require.NoError(t, err)
	assert.Empty(t, nonTerminal)

	require.NoError(t, s.DeleteGlobal("xid-1"))
	g, err = s.GetGlobal("xid-1")
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestMemoryStoreGetGlobalReturnsACopy(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateGlobal(&GlobalTransaction{XID: "xid-1", Status: StatusBegin}))

	g, err := s.GetGlobal("xid-1")
	require.NoError(t, err)
	g.Status = StatusCommitted // mutating the returned copy must not affect the store

	g2, err := s.GetGlobal("xid-1")
	require.NoError(t, err)
	assert.Equal(t, StatusBegin, g2.Status)
}

func TestMemoryStoreBranchLifecycleAndFailedListing(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateBranch(&BranchTransaction{BranchID: 1, XID: "xid-1", BranchType: BranchAT, Status: BranchRegistered}))
	require.NoError(t, s.CreateBranch(&BranchTransaction{BranchID: 2, XID: "xid-1", BranchType: BranchTCC, Status: BranchRegistered}))

	branches, err := s.ListBranches("xid-1")
	require.NoError(t, err)
	assert.Len(t, branches, 2)

	require.NoError(t, s.UpdateBranchStatus(1, BranchPhaseTwoCommitFailed))
	failed, err := s.ListFailedBranches()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, int64(1), failed[0].BranchID)

	require.NoError(t, s.DeleteBranch(2))
	branches, err = s.ListBranches("xid-1")
	require.NoError(t, err)
	assert.Len(t, branches, 1)
}

func TestMemoryStoreAcquireLockIsIdempotentForSameXIDAndExclusiveAcrossXIDs(t *testing.T) {
	s := NewMemoryStore()

	ok, err := s.AcquireLock("orders:1", "xid-a", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock("orders:1", "xid-a", 1) // same holder re-acquiring
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock("orders:1", "xid-b", 2) // different xid contends
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseLocks("xid-a", 1))
	ok, err = s.AcquireLock("orders:1", "xid-b", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreListLocksScopedToXID(t *testing.T) {
	s := NewMemoryStore()
	_, _ = s.AcquireLock("orders:1", "xid-a", 1)
	_, _ = s.AcquireLock("orders:2", "xid-b", 2)

	locks, err := s.ListLocks("xid-a")
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "orders:1", locks[0].RowKey)
}
