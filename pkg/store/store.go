package store

// Store is the durable metadata backend for C3. Implementations must
// serialize per-xid mutations (see pkg/tc's keyed lock) — Store itself is
// not required to provide cross-call atomicity beyond single-row ops.
type Store interface {
	// CreateGlobal inserts a new GlobalTransaction in StatusBegin.
	CreateGlobal(g *GlobalTransaction) error
	// GetGlobal loads a GlobalTransaction by xid. Returns (nil, nil) if
	// absent.
	GetGlobal(xid string) (*GlobalTransaction, error)
	// UpdateGlobalStatus transitions a GlobalTransaction's status.
	UpdateGlobalStatus(xid string, status GlobalStatus) error
	// DeleteGlobal removes a terminal GlobalTransaction (retention sweep).
	DeleteGlobal(xid string) error
	// ListNonTerminalGlobals returns every GlobalTransaction not in a
	// terminal status, for the timeout scanner and admin tooling.
	ListNonTerminalGlobals() ([]*GlobalTransaction, error)

	// CreateBranch inserts a new BranchTransaction in BranchRegistered.
	CreateBranch(b *BranchTransaction) error
	// GetBranch loads a BranchTransaction by id. Returns (nil, nil) if
	// absent.
	GetBranch(branchID int64) (*BranchTransaction, error)
	// ListBranches returns every branch of a global transaction.
	ListBranches(xid string) ([]*BranchTransaction, error)
	// UpdateBranchStatus transitions a BranchTransaction's status.
	UpdateBranchStatus(branchID int64, status BranchStatus) error
	// DeleteBranch removes a terminal BranchTransaction (retention sweep).
	DeleteBranch(branchID int64) error
	// ListFailedBranches returns every branch in a PhaseTwo-failed state,
	// for operator tooling.
	ListFailedBranches() ([]*BranchTransaction, error)

	// AcquireLock attempts to insert (rowKey, xid, branchId). It returns
	// (true, nil) on success (including idempotent re-acquisition by the
	// same xid) and (false, nil) when a different xid already holds the
	// row.
	AcquireLock(rowKey, xid string, branchID int64) (bool, error)
	// ReleaseLocks releases every lock held by a given (xid, branchId)
	// pair.
	ReleaseLocks(xid string, branchID int64) error
	// ListLocks returns every GlobalLock row for a given xid, for testing
	// and invariant checks.
	ListLocks(xid string) ([]*GlobalLock, error)
}
