package txclient

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/txerr"
)

// BusinessFunc is a business method run under a global transaction: it
// receives a ctx already carrying the xid (see pkg/txclient's
// WithXID/XID), does its work across however many AT/TCC/XA/MQ/HTTP
// resources, and returns an error to trigger rollback.
type BusinessFunc func(ctx context.Context) error

// TransactionInterceptor begins a global transaction before a business
// method runs, commits it on success and rolls it back on error or panic,
// unwinding the context on every exit path. It plays the role the
// teacher's Tx (state machine around one local transaction's
// BEGIN/COMMIT/ROLLBACK) plays, generalized from one database connection
// to one global transaction spanning many resource managers.
type TransactionInterceptor struct {
	client          *TcClient
	applicationID   string
	resourceGroupID string
	defaultTimeout  int64
}

// NewTransactionInterceptor builds an interceptor bound to a TcClient.
func NewTransactionInterceptor(client *TcClient, applicationID, resourceGroupID string, defaultTimeoutMs int64) *TransactionInterceptor {
	return &TransactionInterceptor{
		client: client, applicationID: applicationID,
		resourceGroupID: resourceGroupID, defaultTimeout: defaultTimeoutMs,
	}
}

// WithGlobalTransaction runs fn inside a new global transaction named
// transactionName, committing on success and rolling back on error or
// panic. The panic is re-raised after rollback completes.
func (ti *TransactionInterceptor) WithGlobalTransaction(ctx context.Context, transactionName string, fn BusinessFunc) (err error) {
	xid, err := ti.client.BeginGlobalTransaction(ctx, ti.applicationID, transactionName, ti.defaultTimeout)
	if err != nil {
		return txerr.Wrap(txerr.Internal, "begin global transaction", err)
	}

	txCtx := WithTransactionName(WithResourceGroupID(WithXID(ctx, xid), ti.resourceGroupID), transactionName)

	defer func() {
		if r := recover(); r != nil {
			ti.rollback(ctx, xid)
			panic(r)
		}
	}()

	if err = fn(txCtx); err != nil {
		ti.rollback(ctx, xid)
		return err
	}

	if _, commitErr := ti.client.CommitGlobalTransaction(ctx, xid); commitErr != nil {
		return txerr.Wrap(txerr.Internal, fmt.Sprintf("commit global transaction xid=%s", xid), commitErr)
	}
	return nil
}

func (ti *TransactionInterceptor) rollback(ctx context.Context, xid string) {
	if _, err := ti.client.RollbackGlobalTransaction(ctx, xid); err != nil {
		log.Printf("[txclient] rollback of xid=%s failed: %v", xid, err)
	}
}

// AwaitStatus polls QueryGlobalStatus until the global transaction reaches
// a terminal status or ctx is done, for callers that dispatched a global
// transaction asynchronously and need to confirm its outcome.
func (ti *TransactionInterceptor) AwaitStatus(ctx context.Context, xid string) (store.GlobalStatus, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := ti.client.QueryGlobalStatus(ctx, xid)
		if err != nil {
			return "", err
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, txerr.Wrap(txerr.Timeout, "awaiting terminal status", ctx.Err())
		case <-ticker.C:
		}
	}
}
