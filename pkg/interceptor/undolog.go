package interceptor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// UndoLogSchema is the business-database DDL the interceptor depends on,
// named in the undo-log table layout: one row per logical DML statement,
// indexed for lookup by (xid, branch_id) and for retention sweeps by
// create_time.
const UndoLogSchema = `
CREATE TABLE IF NOT EXISTS UNDO_LOG (
	id BIGINT PRIMARY KEY AUTO_INCREMENT,
	xid VARCHAR(128) NOT NULL,
	branch_id BIGINT NOT NULL,
	table_name VARCHAR(128) NOT NULL,
	sql_type VARCHAR(16) NOT NULL,
	before_image TEXT,
	after_image TEXT,
	sql_text TEXT,
	parameters TEXT,
	log_status TINYINT NOT NULL DEFAULT 0,
	create_time DATETIME NOT NULL,
	update_time DATETIME NOT NULL,
	INDEX idx_xid_branch (xid, branch_id),
	INDEX idx_create_time (create_time)
)`

// UndoLogRepository persists UndoLog rows against the business database,
// always within the caller's local transaction so the undo log and the
// business DML commit or roll back atomically together.
type UndoLogRepository struct {
	db *sql.DB
}

// NewUndoLogRepository wraps the business database connection pool.
func NewUndoLogRepository(db *sql.DB) *UndoLogRepository {
	return &UndoLogRepository{db: db}
}

// Insert writes one UndoLog row using tx, the same local transaction the
// business DML ran in.
func (r *UndoLogRepository) Insert(ctx context.Context, tx *sql.Tx, log *UndoLog) error {
	before, err := json.Marshal(log.BeforeImages)
	if err != nil {
		return fmt.Errorf("interceptor: marshal before-image: %w", err)
	}
	after, err := json.Marshal(log.AfterImages)
	if err != nil {
		return fmt.Errorf("interceptor: marshal after-image: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO UNDO_LOG (xid, branch_id, table_name, sql_type, before_image, after_image, sql_text, parameters, log_status, create_time, update_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		log.XID, log.BranchID, log.TableName, string(log.SQLType), before, after, log.SQLText, log.Parameters, log.LogStatus,
	)
	if err != nil {
		return fmt.Errorf("interceptor: insert undo log: %w", err)
	}
	return nil
}

// FindByBranch loads every UndoLog row for (xid, branchId), ordered newest
// first so rollback reverses statements in the opposite order they were
// applied.
func (r *UndoLogRepository) FindByBranch(ctx context.Context, xid string, branchID int64) ([]*UndoLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, xid, branch_id, table_name, sql_type, before_image, after_image, sql_text, parameters, log_status, create_time, update_time
		 FROM UNDO_LOG WHERE xid = ? AND branch_id = ? ORDER BY id DESC`,
		xid, branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("interceptor: query undo log: %w", err)
	}
	defer rows.Close()

	var result []*UndoLog
	for rows.Next() {
		log := &UndoLog{}
		var sqlType string
		var before, after []byte
		if err := rows.Scan(&log.ID, &log.XID, &log.BranchID, &log.TableName, &sqlType,
			&before, &after, &log.SQLText, &log.Parameters, &log.LogStatus, &log.CreateTime, &log.UpdateTime); err != nil {
			return nil, fmt.Errorf("interceptor: scan undo log: %w", err)
		}
		log.SQLType = SQLType(sqlType)
		if len(before) > 0 {
			if err := json.Unmarshal(before, &log.BeforeImages); err != nil {
				return nil, fmt.Errorf("interceptor: unmarshal before-image: %w", err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &log.AfterImages); err != nil {
				return nil, fmt.Errorf("interceptor: unmarshal after-image: %w", err)
			}
		}
		result = append(result, log)
	}
	return result, rows.Err()
}

// MarkCompensated flips a row's status after successful rollback, just
// before it is deleted.
func (r *UndoLogRepository) MarkCompensated(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE UNDO_LOG SET log_status = ?, update_time = NOW() WHERE id = ?`, LogCompensated, id)
	return err
}

// Delete removes one UndoLog row, called after a successful rollback
// compensation. Commit cleanup uses DeleteByBranch instead.
func (r *UndoLogRepository) Delete(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM UNDO_LOG WHERE id = ?`, id)
	return err
}

// DeleteByBranch removes every UndoLog row for (xid, branchId); used by
// the AT commit handler, which needs no transaction of its own since
// commit cleanup does not need to be atomic with anything else.
func (r *UndoLogRepository) DeleteByBranch(ctx context.Context, xid string, branchID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM UNDO_LOG WHERE xid = ? AND branch_id = ?`, xid, branchID)
	return err
}
