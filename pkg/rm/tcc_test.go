package rm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iklop007/galaxytx/pkg/store"
)

func TestTCCRegistryTryAllowedDefaultsTrueForAFreshBranch(t *testing.T) {
	r := NewTCCRegistry(nil)
	assert.True(t, r.TryAllowed("xid-1", 1))
}

func TestTCCRegistryRollbackWithoutPriorTryMarksCancelledWithoutTry(t *testing.T) {
	cancelled := false
	r := NewTCCRegistry(nil)
	r.Register("orders-db", func() error { return nil }, func() error { cancelled = true; return nil })
	h := NewTCCHandler(r)

	res := h.Rollback(context.Background(), &store.BranchTransaction{XID: "xid-1", BranchID: 1, ResourceID: "orders-db"})
	assert.True(t, res.Success())
	assert.True(t, cancelled)

	// A Try that arrives after the cancel-without-try marker must be rejected.
	assert.False(t, r.TryAllowed("xid-1", 1))
}

func TestTCCRegistryTryBeforeRollbackIsNotTreatedAsCancelledWithoutTry(t *testing.T) {
	r := NewTCCRegistry(nil)
	r.Register("orders-db", func() error { return nil }, func() error { return nil })
	h := NewTCCHandler(r)

	require.True(t, r.TryAllowed("xid-1", 1))

	res := h.Rollback(context.Background(), &store.BranchTransaction{XID: "xid-1", BranchID: 1, ResourceID: "orders-db"})
	assert.True(t, res.Success())

	// tried was already recorded before cancel, so a later Try is still
	// allowed to register (it already ran; this just isn't the
	// anti-suspension case).
	assert.True(t, r.TryAllowed("xid-1", 1))
}

func TestTCCHandlerCommitIsIdempotent(t *testing.T) {
	calls := 0
	r := NewTCCRegistry(nil)
	r.Register("orders-db", func() error { calls++; return nil }, func() error { return nil })
	h := NewTCCHandler(r)

	b := &store.BranchTransaction{XID: "xid-1", BranchID: 1, ResourceID: "orders-db"}
	res := h.Commit(context.Background(), b)
	assert.True(t, res.Success())
	res = h.Commit(context.Background(), b)
	assert.True(t, res.Success())
	assert.Equal(t, 1, calls)
}

func TestTCCHandlerCommitUnregisteredResourceFails(t *testing.T) {
	r := NewTCCRegistry(nil)
	h := NewTCCHandler(r)
	res := h.Commit(context.Background(), &store.BranchTransaction{XID: "xid-1", BranchID: 1, ResourceID: "unknown"})
	assert.False(t, res.Success())
	assert.Equal(t, ResourceError, res.Status)
}

func TestTCCHandlerCommitConfirmErrorIsRetryable(t *testing.T) {
	r := NewTCCRegistry(nil)
	r.Register("orders-db", func() error { return errors.New("confirm failed") }, func() error { return nil })
	h := NewTCCHandler(r)
	res := h.Commit(context.Background(), &store.BranchTransaction{XID: "xid-1", BranchID: 1, ResourceID: "orders-db"})
	assert.Equal(t, RetryableError, res.Status)
}
