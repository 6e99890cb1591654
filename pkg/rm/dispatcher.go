package rm

import (
	"context"

	"github.com/iklop007/galaxytx/pkg/store"
)

// Dispatcher routes a branch's phase-2 commit/rollback to the handler
// registered for its BranchType, applying that type's retry policy around
// the handler call.
type Dispatcher struct {
	handlers map[store.BranchType]Handler
	policies map[store.BranchType]RetryPolicy
}

// NewDispatcher builds a Dispatcher with the default retry policies. Use
// Register to bind a Handler to each BranchType before dispatching.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[store.BranchType]Handler),
		policies: DefaultRetryPolicies(),
	}
}

// Register binds a Handler to a BranchType.
func (d *Dispatcher) Register(branchType store.BranchType, h Handler) {
	d.handlers[branchType] = h
}

// SetPolicy overrides the retry policy for a BranchType.
func (d *Dispatcher) SetPolicy(branchType store.BranchType, policy RetryPolicy) {
	d.policies[branchType] = policy
}

// Dispatch drives commit (or rollback) for branch b, retrying per its
// type's policy. An unregistered BranchType returns ResourceError at once,
// without any retry.
func (d *Dispatcher) Dispatch(ctx context.Context, b *store.BranchTransaction, commit bool) CommunicationResult {
	handler, ok := d.handlers[b.BranchType]
	if !ok {
		return CommunicationResult{Status: ResourceError, Err: errUnregisteredHandler(b.BranchType)}
	}
	policy := d.policies[b.BranchType]

	return WithRetry(ctx, policy, func(ctx context.Context) CommunicationResult {
		if commit {
			return handler.Commit(ctx, b)
		}
		return handler.Rollback(ctx, b)
	})
}

type unregisteredHandlerError struct {
	branchType store.BranchType
}

func (e *unregisteredHandlerError) Error() string {
	return "rm: no handler registered for branch type " + string(e.branchType)
}

func errUnregisteredHandler(t store.BranchType) error {
	return &unregisteredHandlerError{branchType: t}
}
