package interceptor

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/iklop007/galaxytx/pkg/store"
	"github.com/iklop007/galaxytx/pkg/txerr"
)

// pkColumnsKey is the reserved RowImage entry naming which columns form
// the row's primary key, comma-joined. Captured alongside the ordinary
// column values so rollback can re-select and key its reverse statement
// without a separate schema lookup.
const pkColumnsKey = "__pk_cols__"

func (img RowImage) pkColumns() []string {
	raw, ok := img[pkColumnsKey]
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Engine implements the AT-mode rollback algorithm: read the undo log,
// verify against a dirty write, build and execute the reverse statement,
// mark the row compensated, then delete it. It also satisfies
// rm.UndoLogStore so it can be injected directly into rm.NewATHandler.
type Engine struct {
	db    *sql.DB
	repo  *UndoLogRepository
	store store.Store
}

// NewEngine builds a rollback Engine. store is consulted only for the
// NoUndoLog edge case, to decide whether a branch with no undo log rows
// never ran phase-1 (success) or lost its undo log some other way
// (failure).
func NewEngine(db *sql.DB, repo *UndoLogRepository, st store.Store) *Engine {
	return &Engine{db: db, repo: repo, store: st}
}

// DeleteUndoLog implements rm.UndoLogStore for AT commit: the before/after
// images are no longer needed once the branch is durably committed.
func (e *Engine) DeleteUndoLog(xid string, branchID int64) error {
	return e.repo.DeleteByBranch(context.Background(), xid, branchID)
}

// Compensate implements rm.UndoLogStore for AT rollback.
func (e *Engine) Compensate(ctx context.Context, xid string, branchID int64) error {
	logs, err := e.repo.FindByBranch(ctx, xid, branchID)
	if err != nil {
		return txerr.Wrap(txerr.Internal, "load undo log", err)
	}
	if len(logs) == 0 {
		return e.handleNoUndoLog(branchID)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return txerr.Wrap(txerr.Internal, "begin rollback transaction", err)
	}
	defer tx.Rollback()

	for _, log := range logs {
		if err := e.compensateOne(ctx, tx, log); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return txerr.Wrap(txerr.Internal, "commit rollback transaction", err)
	}
	return nil
}

func (e *Engine) handleNoUndoLog(branchID int64) error {
	if e.store == nil {
		return txerr.New(txerr.NoUndoLog, "no undo log found and branch status unknown")
	}
	b, err := e.store.GetBranch(branchID)
	if err != nil {
		return txerr.Wrap(txerr.Internal, "load branch for NoUndoLog check", err)
	}
	if b != nil && b.Status == store.BranchRegistered {
		return nil // phase-1 never completed, nothing to undo
	}
	return txerr.New(txerr.NoUndoLog, "undo log missing for a branch past phase-1")
}

func (e *Engine) compensateOne(ctx context.Context, tx *sql.Tx, log *UndoLog) error {
	// A DELETE leaves no after-image: its rows are located through the
	// before-image, and the expected current state is "row absent".
	images := log.AfterImages
	if log.SQLType == SQLDelete {
		images = log.BeforeImages
	}
	for i, img := range images {
		current, err := e.currentRow(ctx, tx, log.TableName, img)
		if err != nil {
			return err
		}
		after := img
		if log.SQLType == SQLDelete {
			after = RowImage{}
		}
		if !rowsEqual(current, after) {
			return txerr.New(txerr.DirtyWrite, fmt.Sprintf("dirty write detected on %s for xid=%s branch=%d", log.TableName, log.XID, log.BranchID))
		}

		var before RowImage
		if i < len(log.BeforeImages) {
			before = log.BeforeImages[i]
		}
		stmt, args, err := buildReverseSQL(log.TableName, log.SQLType, before, after)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return txerr.Wrap(txerr.Internal, "execute reverse sql", err)
		}
	}

	if err := e.repo.MarkCompensated(ctx, tx, log.ID); err != nil {
		return txerr.Wrap(txerr.Internal, "mark undo log compensated", err)
	}
	if err := e.repo.Delete(ctx, tx, log.ID); err != nil {
		return txerr.Wrap(txerr.Internal, "delete undo log", err)
	}
	return nil
}

// currentRow re-selects a row by the after-image's primary-key columns to
// compare against what was captured at phase-1 time.
func (e *Engine) currentRow(ctx context.Context, tx *sql.Tx, table string, after RowImage) (RowImage, error) {
	pkCols := after.pkColumns()
	if len(pkCols) == 0 {
		return nil, txerr.New(txerr.Protocol, "after-image has no primary key columns recorded")
	}

	var where []string
	var args []interface{}
	for _, col := range pkCols {
		where = append(where, col+" = ?")
		args = append(args, after[col])
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", table, strings.Join(where, " AND "))
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, "re-select row for dirty-write check", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, txerr.Wrap(txerr.Internal, "read column list", err)
	}
	if !rows.Next() {
		// Row no longer exists: only consistent with a dirty write if the
		// after-image expected it to still be there (INSERT/UPDATE).
		return RowImage{}, nil
	}
	return scanRowImage(rows, cols)
}

// scanRowImage captures one row into a RowImage, tagging it with its
// primary-key columns so later rollback/dirty-write steps can re-select it
// without a separate schema lookup. Every table the AT interceptor manages
// is expected to expose a single auto-increment "id" column, matching the
// convention the rest of the AT path (captureByID, buildLockKey) assumes.
func scanRowImage(rows *sql.Rows, cols []string) (RowImage, error) {
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, txerr.Wrap(txerr.Internal, "scan row", err)
	}
	img := make(RowImage, len(cols)+1)
	for i, col := range cols {
		img[col] = stringify(values[i])
	}
	for _, col := range cols {
		if col == "id" {
			img[pkColumnsKey] = "id"
			break
		}
	}
	return img, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// rowsEqual compares two images on their shared, non-reserved columns.
func rowsEqual(a, b RowImage) bool {
	keys := make(map[string]struct{})
	for k := range a {
		if k != pkColumnsKey {
			keys[k] = struct{}{}
		}
	}
	for k := range b {
		if k != pkColumnsKey {
			keys[k] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

// buildReverseSQL builds the compensating statement per the original DML
// type: INSERT undoes with DELETE, UPDATE undoes with a reverse UPDATE
// setting before-image values, DELETE undoes with INSERT.
func buildReverseSQL(table string, sqlType SQLType, before, after RowImage) (string, []interface{}, error) {
	pkCols := after.pkColumns()
	if len(pkCols) == 0 {
		pkCols = before.pkColumns()
	}
	if len(pkCols) == 0 {
		return "", nil, txerr.New(txerr.Protocol, "cannot build reverse sql without primary key columns")
	}

	switch sqlType {
	case SQLInsert:
		var where []string
		var args []interface{}
		for _, col := range pkCols {
			where = append(where, col+" = ?")
			args = append(args, after[col])
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(where, " AND ")), args, nil

	case SQLDelete:
		cols := make([]string, 0, len(before))
		for col := range before {
			if col == pkColumnsKey {
				continue
			}
			cols = append(cols, col)
		}
		sort.Strings(cols) // deterministic column order across calls
		placeholders := make([]string, 0, len(cols))
		args := make([]interface{}, 0, len(cols))
		for _, col := range cols {
			placeholders = append(placeholders, "?")
			args = append(args, before[col])
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args, nil

	case SQLUpdate:
		var sets []string
		var args []interface{}
		for col, val := range before {
			if col == pkColumnsKey {
				continue
			}
			sets = append(sets, col+" = ?")
			args = append(args, val)
		}
		var where []string
		for _, col := range pkCols {
			where = append(where, col+" = ?")
			args = append(args, after[col])
		}
		return fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), strings.Join(where, " AND ")), args, nil

	default:
		return "", nil, txerr.New(txerr.Protocol, "unsupported sql type for rollback: "+string(sqlType))
	}
}
