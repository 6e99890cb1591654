package interceptor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iklop007/galaxytx/pkg/txclient"
	"github.com/iklop007/galaxytx/pkg/txerr"
)

// BranchRegistrar is the narrow slice of the transaction-manager client the
// interceptor needs to enlist a branch in the global transaction carried by
// ctx. Satisfied by *txclient.TcClient.
type BranchRegistrar interface {
	RegisterBranch(ctx context.Context, xid, resourceGroupID, resourceID, lockKey string, applicationData []byte) (int64, error)
}

// DataSource wraps a business *sql.DB with the AT-mode execution algorithm.
// Business code calls ExecContext/Exec exactly as it would against *sql.DB;
// when ctx carries an active xid (see pkg/txclient), the interceptor
// transparently captures before/after images, registers a branch with the
// coordinator, and writes an undo log row — all inside one local
// transaction alongside the business statement. Outside a global
// transaction, calls pass straight through to db.
//
// This plays the role the teacher's Conn/Stmt pair plays for RPC-routed
// queries, redirected from "route this statement to a remote device" to
// "wrap this statement with compensable state capture".
type DataSource struct {
	db         *sql.DB
	registrar  BranchRegistrar
	undo       *UndoLogRepository
	resourceID string
	scratch    *BatchScratch
}

// NewDataSource wraps db for AT-mode interception. resourceID identifies
// this data source to the coordinator (conventionally the DSN or a
// configured alias) and is what the RM dispatcher later uses to route
// ATHandler.Commit/Rollback back to the right database.
func NewDataSource(db *sql.DB, registrar BranchRegistrar, undo *UndoLogRepository, resourceID string) *DataSource {
	return &DataSource{db: db, registrar: registrar, undo: undo, resourceID: resourceID, scratch: NewBatchScratch(32 * 1024 * 1024)}
}

// DB exposes the wrapped pool for statements the interceptor does not need
// to see (SELECTs, DDL, administrative queries).
func (ds *DataSource) DB() *sql.DB { return ds.db }

// ExecContext runs query under the AT algorithm when ctx carries an active
// xid, otherwise it is a thin passthrough to db.ExecContext.
func (ds *DataSource) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	xid, ok := txclient.XID(ctx)
	if !ok {
		return ds.db.ExecContext(ctx, query, args...)
	}

	parsed, err := Parse(query)
	if err != nil {
		return nil, txerr.Wrap(txerr.Protocol, "parse AT statement", err)
	}
	if !parsed.Type.Supported() {
		return ds.db.ExecContext(ctx, query, args...)
	}

	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, "begin AT local transaction", err)
	}
	result, commitErr := ds.execUnderTx(ctx, tx, xid, parsed, query, args)
	if commitErr != nil {
		tx.Rollback()
		return nil, commitErr
	}
	if err := tx.Commit(); err != nil {
		return nil, txerr.Wrap(txerr.Internal, "commit AT local transaction", err)
	}
	return result, nil
}

// Exec is the context-free convenience form, matching database/sql's own
// Exec/ExecContext split.
func (ds *DataSource) Exec(query string, args ...interface{}) (sql.Result, error) {
	return ds.ExecContext(context.Background(), query, args...)
}

// BatchStatement is one statement of a multi-statement AT batch.
type BatchStatement struct {
	Query string
	Args  []interface{}
}

// ExecBatchContext runs a sequence of statements under one local
// transaction and one branch registration, instead of one branch per
// statement. Each statement's before-image is parked in the scratch cache
// between capture and the final combined undo log write, so a batch with a
// large working set doesn't hold every image resident for the whole batch.
func (ds *DataSource) ExecBatchContext(ctx context.Context, branchSeq int, stmts []BatchStatement) ([]sql.Result, error) {
	xid, ok := txclient.XID(ctx)
	if !ok {
		return nil, txerr.New(txerr.Protocol, "interceptor: ExecBatchContext requires an active global transaction")
	}

	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, "begin AT batch transaction", err)
	}
	defer ds.scratch.Reset()

	results := make([]sql.Result, 0, len(stmts))
	logs := make([]*UndoLog, 0, len(stmts))
	var lockKeys []string

	for i, stmt := range stmts {
		parsed, err := Parse(stmt.Query)
		if err != nil {
			tx.Rollback()
			return nil, txerr.Wrap(txerr.Protocol, "parse AT batch statement", err)
		}
		if !parsed.Type.Supported() {
			tx.Rollback()
			return nil, txerr.New(txerr.Protocol, "unsupported statement type in AT batch: "+string(parsed.Type))
		}

		before, err := ds.captureImages(ctx, tx, parsed, stmt.Args)
		if err != nil {
			tx.Rollback()
			return nil, txerr.Wrap(txerr.Internal, "capture batch before-image", err)
		}
		if err := ds.scratch.Put(xid, branchSeq, i, before); err != nil {
			tx.Rollback()
			return nil, err
		}

		result, err := tx.ExecContext(ctx, stmt.Query, stmt.Args...)
		if err != nil {
			tx.Rollback()
			return nil, txerr.Wrap(txerr.Internal, "execute batch statement", err)
		}
		results = append(results, result)

		after, err := ds.captureImages(ctx, tx, parsed, stmt.Args)
		if err != nil {
			tx.Rollback()
			return nil, txerr.Wrap(txerr.Internal, "capture batch after-image", err)
		}
		if parsed.Type == SQLInsert && len(after) == 0 {
			if id, idErr := result.LastInsertId(); idErr == nil {
				after, err = ds.captureByID(ctx, tx, parsed.Table, id)
				if err != nil {
					tx.Rollback()
					return nil, txerr.Wrap(txerr.Internal, "capture batch insert after-image", err)
				}
			}
		}

		before, ok := ds.scratch.Take(xid, branchSeq, i)
		if !ok {
			// Evicted under memory pressure: re-capture is not possible post-exec,
			// so fall back to an empty before-image rather than fail the batch.
			before = nil
		}

		lockKeys = append(lockKeys, buildLockKey(parsed.Table, after, before))
		logs = append(logs, &UndoLog{
			XID: xid, TableName: parsed.Table, SQLType: parsed.Type,
			BeforeImages: before, AfterImages: after, SQLText: stmt.Query,
		})
	}

	resourceGroupID, _ := txclient.ResourceGroupID(ctx)
	branchID, err := ds.registrar.RegisterBranch(ctx, xid, resourceGroupID, ds.resourceID, strings.Join(lockKeys, ","), nil)
	if err != nil {
		tx.Rollback()
		return nil, txerr.Wrap(txerr.LockConflict, "register AT batch branch", err)
	}
	for _, log := range logs {
		log.BranchID = branchID
		if err := ds.undo.Insert(ctx, tx, log); err != nil {
			tx.Rollback()
			return nil, txerr.Wrap(txerr.Internal, "write batch undo log", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, txerr.Wrap(txerr.Internal, "commit AT batch transaction", err)
	}
	return results, nil
}

func (ds *DataSource) execUnderTx(ctx context.Context, tx *sql.Tx, xid string, parsed *ParsedStatement, query string, args []interface{}) (sql.Result, error) {
	before, err := ds.captureImages(ctx, tx, parsed, args)
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, "capture before-image", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, "execute business statement", err)
	}

	after, err := ds.captureImages(ctx, tx, parsed, args)
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, "capture after-image", err)
	}
	if parsed.Type == SQLInsert && len(after) == 0 {
		if id, idErr := result.LastInsertId(); idErr == nil {
			after, err = ds.captureByID(ctx, tx, parsed.Table, id)
			if err != nil {
				return nil, txerr.Wrap(txerr.Internal, "capture insert after-image", err)
			}
		}
	}

	resourceGroupID, _ := txclient.ResourceGroupID(ctx)
	lockKey := buildLockKey(parsed.Table, after, before)
	branchID, err := ds.registrar.RegisterBranch(ctx, xid, resourceGroupID, ds.resourceID, lockKey, nil)
	if err != nil {
		return nil, txerr.Wrap(txerr.LockConflict, "register AT branch", err)
	}

	log := &UndoLog{
		XID: xid, BranchID: branchID, TableName: parsed.Table, SQLType: parsed.Type,
		BeforeImages: before, AfterImages: after, SQLText: query,
	}
	if err := ds.undo.Insert(ctx, tx, log); err != nil {
		return nil, txerr.Wrap(txerr.Internal, "write undo log", err)
	}

	return result, nil
}

// captureImages re-selects the rows a DML statement targets, by WHERE
// clause for UPDATE/DELETE. INSERT has no WHERE clause to select by before
// the statement runs (before-image is empty) or until LastInsertId is
// known (after-image, handled separately by captureByID).
//
// args are the DML statement's own bound parameters. For UPDATE, any "?"
// placeholders appear first in the SET clause and last in the WHERE clause
// (sqlparser.String preserves source placeholder order), so the WHERE
// clause's share of args is always the trailing entries of args, never
// the leading ones.
func (ds *DataSource) captureImages(ctx context.Context, tx *sql.Tx, parsed *ParsedStatement, args []interface{}) ([]RowImage, error) {
	if parsed.Type == SQLInsert || parsed.Where == "" {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", parsed.Table, parsed.Where)
	return queryImages(ctx, tx, query, whereArgs(parsed.Where, args)...)
}

// whereArgs slices the trailing N entries off args, where N is the number
// of "?" placeholders in where. Returns nil if where has no placeholders
// or the statement supplied fewer bound args than where needs (a literal,
// unparameterized WHERE clause, or a caller bug we can't recover from here).
func whereArgs(where string, args []interface{}) []interface{} {
	n := strings.Count(where, "?")
	if n == 0 || n > len(args) {
		return nil
	}
	return args[len(args)-n:]
}

func (ds *DataSource) captureByID(ctx context.Context, tx *sql.Tx, table string, id int64) ([]RowImage, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = ?", table)
	return queryImages(ctx, tx, query, id)
}

func queryImages(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]RowImage, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var images []RowImage
	for rows.Next() {
		img, err := scanRowImage(rows, cols)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// buildLockKey encodes the row-level global lock keys this branch holds,
// keyed by the primary-key columns recorded on whichever image is
// populated (after for INSERT/UPDATE, before for DELETE).
func buildLockKey(table string, after, before []RowImage) string {
	images := after
	if len(images) == 0 {
		images = before
	}
	keys := make([]string, 0, len(images))
	for _, img := range images {
		pk := img.pkColumns()
		if len(pk) == 0 {
			continue
		}
		parts := make([]string, 0, len(pk))
		for _, col := range pk {
			parts = append(parts, img[col])
		}
		keys = append(keys, table+":"+strings.Join(parts, "-"))
	}
	return strings.Join(keys, ",")
}
