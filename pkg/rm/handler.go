// Package rm implements the resource-manager dispatch layer: per-branch-
// type phase-2 handlers (AT, TCC, XA, MQ, HTTP), a shared retry/back-off
// driver, and the TCC confirm/cancel registry.
package rm

import (
	"context"

	"github.com/iklop007/galaxytx/pkg/store"
)

// ResultStatus classifies the outcome of a single phase-2 dispatch
// attempt.
type ResultStatus int

const (
	Success ResultStatus = iota
	Failure
	Timeout
	NetworkError
	ProtocolError
	AuthError
	ResourceError
	RetryableError
	NonRetryableError
	UnknownResult
)

// CommunicationResult is the outcome of one dispatch attempt to a
// resource-manager handler.
type CommunicationResult struct {
	Status ResultStatus
	Err    error
}

// Success reports whether the final, post-retry outcome counts as a
// successful phase-2 completion.
func (r CommunicationResult) Success() bool {
	return r.Status == Success
}

// retryable reports whether this particular attempt's outcome should be
// retried per the coordinator's back-off policy.
func (r CommunicationResult) retryable() bool {
	switch r.Status {
	case Timeout, NetworkError, ResourceError, RetryableError, UnknownResult:
		return true
	default:
		return false
	}
}

// Error returns the attempt's error, if any.
func (r CommunicationResult) Error() error {
	return r.Err
}

// Handler drives phase-2 commit/rollback for one branch type.
type Handler interface {
	// Commit finalizes a branch's phase-1 work.
	Commit(ctx context.Context, b *store.BranchTransaction) CommunicationResult
	// Rollback reverses a branch's phase-1 work.
	Rollback(ctx context.Context, b *store.BranchTransaction) CommunicationResult
}
