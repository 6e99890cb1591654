// Package store durably persists global/branch transaction records and
// global locks against the relational schema named in the coordinator's
// external interfaces. The business-side undo log lives in pkg/interceptor.
package store

import "time"

// GlobalStatus is the state of a GlobalTransaction.
type GlobalStatus string

const (
	StatusBegin               GlobalStatus = "Begin"
	StatusCommitting          GlobalStatus = "Committing"
	StatusCommitted           GlobalStatus = "Committed"
	StatusCommitFailed        GlobalStatus = "CommitFailed"
	StatusRollbacking         GlobalStatus = "Rollbacking"
	StatusRollbacked          GlobalStatus = "Rollbacked"
	StatusRollbackFailed      GlobalStatus = "RollbackFailed"
	StatusTimeoutRollbacking  GlobalStatus = "TimeoutRollbacking"
	StatusTimeoutRollbacked   GlobalStatus = "TimeoutRollbacked"
	StatusFinished            GlobalStatus = "Finished"
)

// Terminal reports whether s is a final global status.
func (s GlobalStatus) Terminal() bool {
	switch s {
	case StatusCommitted, StatusCommitFailed, StatusRollbacked,
		StatusRollbackFailed, StatusTimeoutRollbacked, StatusFinished:
		return true
	default:
		return false
	}
}

// BranchStatus is the state of a BranchTransaction.
type BranchStatus string

const (
	BranchRegistered              BranchStatus = "Registered"
	BranchPhaseOneDone            BranchStatus = "PhaseOneDone"
	BranchPhaseOneFailed          BranchStatus = "PhaseOneFailed"
	BranchPhaseTwoCommitting      BranchStatus = "PhaseTwoCommitting"
	BranchPhaseTwoCommitted       BranchStatus = "PhaseTwoCommitted"
	BranchPhaseTwoCommitFailed    BranchStatus = "PhaseTwoCommitFailed"
	BranchPhaseTwoRollbacking     BranchStatus = "PhaseTwoRollbacking"
	BranchPhaseTwoRollbacked      BranchStatus = "PhaseTwoRollbacked"
	BranchPhaseTwoRollbackFailed  BranchStatus = "PhaseTwoRollbackFailed"
	BranchTimeout                 BranchStatus = "Timeout"
)

// Terminal reports whether s is a final phase-2 branch status.
func (s BranchStatus) Terminal() bool {
	switch s {
	case BranchPhaseTwoCommitted, BranchPhaseTwoCommitFailed,
		BranchPhaseTwoRollbacked, BranchPhaseTwoRollbackFailed:
		return true
	default:
		return false
	}
}

// EligibleForPhaseTwo reports whether s may be dispatched to phase-2.
func (s BranchStatus) EligibleForPhaseTwo() bool {
	return s == BranchRegistered || s == BranchPhaseOneDone || s == BranchTimeout
}

// BranchType names the resource-manager kind a branch belongs to.
type BranchType string

const (
	BranchAT   BranchType = "AT"
	BranchTCC  BranchType = "TCC"
	BranchXA   BranchType = "XA"
	BranchMQ   BranchType = "MQ"
	BranchHTTP BranchType = "HTTP"
)

// GlobalTransaction is the durable record of one distributed transaction.
type GlobalTransaction struct {
	XID             string
	Status          GlobalStatus
	ApplicationID   string
	TransactionName string
	TimeoutMs       int64
	BeginTimeMs     int64
	ApplicationData []byte
}

// DeadlineMs returns the wall-clock millisecond at which this transaction's
// timeout elapses.
func (g *GlobalTransaction) DeadlineMs() int64 {
	return g.BeginTimeMs + g.TimeoutMs
}

// Expired reports whether nowMs is past this transaction's deadline.
func (g *GlobalTransaction) Expired(nowMs int64) bool {
	return nowMs-g.BeginTimeMs > g.TimeoutMs
}

// BranchTransaction is one participant's work within a GlobalTransaction.
type BranchTransaction struct {
	BranchID        int64
	XID             string
	ResourceGroupID string
	ResourceID      string
	BranchType      BranchType
	LockKey         string
	Status          BranchStatus
	ApplicationData []byte
	BeginTimeMs     int64
	EndTimeMs       int64
	TimeoutMs       int64
}

// GlobalLock is an AT-mode row-level logical lock.
type GlobalLock struct {
	RowKey       string
	XID          string
	BranchID     int64
	AcquiredAtMs int64
}

// Clamp bounds a timeoutMs value into [minTimeoutMs, maxTimeoutMs].
func Clamp(timeoutMs, minTimeoutMs, maxTimeoutMs int64) int64 {
	if timeoutMs < minTimeoutMs {
		return minTimeoutMs
	}
	if timeoutMs > maxTimeoutMs {
		return maxTimeoutMs
	}
	return timeoutMs
}

// NowMs returns the current wall-clock time in epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
