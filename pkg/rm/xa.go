package rm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iklop007/galaxytx/pkg/store"
)

// XAConnProvider resolves the *sql.DB a branch's resourceId maps to. XA
// mode talks to whichever business database prepared the branch, which may
// differ per resourceId.
type XAConnProvider interface {
	DB(resourceID string) (*sql.DB, error)
}

// XAHandler implements rm.Handler for XA-mode branches by issuing literal
// "XA COMMIT"/"XA ROLLBACK" against the branch's prepared XA transaction.
// The branch's ApplicationData carries the XA transaction identifier produced at
// "XA START ... XA END ... XA PREPARE" time.
type XAHandler struct {
	conns XAConnProvider
}

// NewXAHandler builds the XA rm.Handler over a connection provider.
func NewXAHandler(conns XAConnProvider) *XAHandler {
	return &XAHandler{conns: conns}
}

func (h *XAHandler) Commit(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	return h.exec(ctx, b, "XA COMMIT")
}

func (h *XAHandler) Rollback(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	return h.exec(ctx, b, "XA ROLLBACK")
}

func (h *XAHandler) exec(ctx context.Context, b *store.BranchTransaction, verb string) CommunicationResult {
	if len(b.ApplicationData) == 0 {
		return CommunicationResult{Status: NonRetryableError, Err: fmt.Errorf("rm/xa: branch %d has no XA transaction id in ApplicationData", b.BranchID)}
	}
	db, err := h.conns.DB(b.ResourceID)
	if err != nil {
		return CommunicationResult{Status: ResourceError, Err: err}
	}
	stmt := fmt.Sprintf("%s '%s'", verb, b.ApplicationData)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return CommunicationResult{Status: classifyXAErr(err), Err: err}
	}
	return CommunicationResult{Status: Success}
}

// classifyXAErr treats a missing/unknown XA transaction as a durable
// non-retryable failure (the branch is already gone, retrying can't help)
// and everything else as retryable (lock waits, connectivity blips).
func classifyXAErr(err error) ResultStatus {
	msg := err.Error()
	for _, needle := range []string{"XAER_NOTA", "Unknown XID"} {
		if strings.Contains(msg, needle) {
			return NonRetryableError
		}
	}
	return RetryableError
}
