// Package txclient is the business-process-side counterpart of the
// coordinator: the transaction manager that begins/commits/rolls back
// global transactions, and the execution-context propagation that lets
// the AT interceptor discover which xid a SQL statement belongs to.
package txclient

import "context"

type contextKey int

const (
	xidKey contextKey = iota
	resourceGroupKey
	transactionNameKey
)

// WithXID attaches xid to ctx, marking it as running inside a global
// transaction. Replaces the teacher's (and the original's) thread-local
// RootContext with Go's idiomatic context.Context value propagation.
func WithXID(ctx context.Context, xid string) context.Context {
	return context.WithValue(ctx, xidKey, xid)
}

// XID returns the xid carried by ctx, if any.
func XID(ctx context.Context) (string, bool) {
	xid, ok := ctx.Value(xidKey).(string)
	return xid, ok && xid != ""
}

// WithResourceGroupID attaches the resource group a branch should register
// under.
func WithResourceGroupID(ctx context.Context, resourceGroupID string) context.Context {
	return context.WithValue(ctx, resourceGroupKey, resourceGroupID)
}

// ResourceGroupID returns the resource group carried by ctx, if any.
func ResourceGroupID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(resourceGroupKey).(string)
	return id, ok && id != ""
}

// WithTransactionName attaches the human-readable transaction name used
// when beginning a global transaction.
func WithTransactionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, transactionNameKey, name)
}

// TransactionName returns the transaction name carried by ctx, if any.
func TransactionName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(transactionNameKey).(string)
	return name, ok && name != ""
}

// InGlobalTransaction reports whether ctx carries an active xid.
func InGlobalTransaction(ctx context.Context) bool {
	_, ok := XID(ctx)
	return ok
}
