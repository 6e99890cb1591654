package rm

import (
	"context"

	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/txerr"
)

// UndoLogStore is the narrow slice of the AT-mode interceptor's undo-log
// repository the AT handler needs: deleting on commit, compensating on
// rollback. Implemented by pkg/interceptor against the business database.
type UndoLogStore interface {
	DeleteUndoLog(xid string, branchID int64) error
	Compensate(ctx context.Context, xid string, branchID int64) error
}

// ATHandler implements rm.Handler for AT-mode branches: commit deletes the
// undo log (the before/after images are no longer needed once the branch
// is durably committed), rollback replays the undo log's reverse SQL.
type ATHandler struct {
	undo UndoLogStore
}

// NewATHandler builds the AT rm.Handler over an undo-log store.
func NewATHandler(undo UndoLogStore) *ATHandler {
	return &ATHandler{undo: undo}
}

func (h *ATHandler) Commit(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	if err := h.undo.DeleteUndoLog(b.XID, b.BranchID); err != nil {
		return CommunicationResult{Status: classifyATError(err), Err: err}
	}
	return CommunicationResult{Status: Success}
}

func (h *ATHandler) Rollback(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	if err := h.undo.Compensate(ctx, b.XID, b.BranchID); err != nil {
		return CommunicationResult{Status: classifyATError(err), Err: err}
	}
	return CommunicationResult{Status: Success}
}

// classifyATError maps a pkg/interceptor failure onto a CommunicationResult
// status. DirtyWrite and NoUndoLog are deterministic outcomes that will
// never succeed on retry, so they escalate immediately rather than burn
// through the AT retry ceiling; everything else defers to the shared
// retryable-kind classification.
func classifyATError(err error) ResultStatus {
	if txerr.Is(err, txerr.DirtyWrite) || txerr.Is(err, txerr.NoUndoLog) {
		return NonRetryableError
	}
	if txerr.IsRetryable(err) {
		return RetryableError
	}
	return NonRetryableError
}
