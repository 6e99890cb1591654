package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLPoolConfig mirrors the pooling knobs the coordinator exposes for its
// metadata-store connection.
type MySQLPoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultMySQLPoolConfig returns conservative defaults for the coordinator's
// own metadata connection pool.
func DefaultMySQLPoolConfig() MySQLPoolConfig {
	return MySQLPoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: 10 * time.Minute,
	}
}

// MySQLStore is the durable, MySQL-backed Store implementation, persisting
// against GLOBAL_TABLE, BRANCH_TABLE and GLOBAL_LOCK.
type MySQLStore struct {
	db *sql.DB
}

// Schema is the DDL the coordinator expects its metadata database to
// already have applied. It is exported so operators can bootstrap a fresh
// database without reaching into package internals.
const Schema = `
CREATE TABLE IF NOT EXISTS GLOBAL_TABLE (
	xid VARCHAR(128) PRIMARY KEY,
	status VARCHAR(32) NOT NULL,
	application_id VARCHAR(128) NOT NULL,
	transaction_name VARCHAR(256) NOT NULL,
	timeout_ms BIGINT NOT NULL,
	begin_time_ms BIGINT NOT NULL,
	application_data BLOB
);

CREATE TABLE IF NOT EXISTS BRANCH_TABLE (
	branch_id BIGINT PRIMARY KEY,
	xid VARCHAR(128) NOT NULL,
	resource_group_id VARCHAR(128),
	resource_id VARCHAR(256) NOT NULL,
	branch_type VARCHAR(16) NOT NULL,
	lock_key TEXT,
	status VARCHAR(32) NOT NULL,
	application_data BLOB,
	begin_time_ms BIGINT NOT NULL,
	end_time_ms BIGINT,
	timeout_ms BIGINT NOT NULL,
	INDEX idx_branch_xid (xid)
);

CREATE TABLE IF NOT EXISTS GLOBAL_LOCK (
	row_key VARCHAR(256) PRIMARY KEY,
	xid VARCHAR(128) NOT NULL,
	branch_id BIGINT NOT NULL,
	acquired_at_ms BIGINT NOT NULL
);
`

// OpenMySQLStore opens a pooled connection to the metadata database at dsn
// and applies the given pool configuration.
func OpenMySQLStore(dsn string, cfg MySQLPoolConfig) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) CreateGlobal(g *GlobalTransaction) error {
	_, err := s.db.Exec(
		`INSERT INTO GLOBAL_TABLE (xid, status, application_id, transaction_name, timeout_ms, begin_time_ms, application_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.XID, g.Status, g.ApplicationID, g.TransactionName, g.TimeoutMs, g.BeginTimeMs, g.ApplicationData,
	)
	return err
}

func (s *MySQLStore) GetGlobal(xid string) (*GlobalTransaction, error) {
	row := s.db.QueryRow(
		`SELECT xid, status, application_id, transaction_name, timeout_ms, begin_time_ms, application_data
		 FROM GLOBAL_TABLE WHERE xid = ?`, xid)
	g := &GlobalTransaction{}
	var appData []byte
	if err := row.Scan(&g.XID, &g.Status, &g.ApplicationID, &g.TransactionName, &g.TimeoutMs, &g.BeginTimeMs, &appData); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	g.ApplicationData = appData
	return g, nil
}

func (s *MySQLStore) UpdateGlobalStatus(xid string, status GlobalStatus) error {
	_, err := s.db.Exec(`UPDATE GLOBAL_TABLE SET status = ? WHERE xid = ?`, status, xid)
	return err
}

func (s *MySQLStore) DeleteGlobal(xid string) error {
	_, err := s.db.Exec(`DELETE FROM GLOBAL_TABLE WHERE xid = ?`, xid)
	return err
}

func (s *MySQLStore) ListNonTerminalGlobals() ([]*GlobalTransaction, error) {
	rows, err := s.db.Query(
		`SELECT xid, status, application_id, transaction_name, timeout_ms, begin_time_ms, application_data
		 FROM GLOBAL_TABLE WHERE status NOT IN (?, ?, ?, ?, ?, ?)`,
		StatusCommitted, StatusCommitFailed, StatusRollbacked, StatusRollbackFailed, StatusTimeoutRollbacked, StatusFinished,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GlobalTransaction
	for rows.Next() {
		g := &GlobalTransaction{}
		var appData []byte
		if err := rows.Scan(&g.XID, &g.Status, &g.ApplicationID, &g.TransactionName, &g.TimeoutMs, &g.BeginTimeMs, &appData); err != nil {
			return nil, err
		}
		g.ApplicationData = appData
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CreateBranch(b *BranchTransaction) error {
	_, err := s.db.Exec(
		`INSERT INTO BRANCH_TABLE (branch_id, xid, resource_group_id, resource_id, branch_type, lock_key, status, application_data, begin_time_ms, end_time_ms, timeout_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BranchID, b.XID, b.ResourceGroupID, b.ResourceID, b.BranchType, b.LockKey, b.Status, b.ApplicationData, b.BeginTimeMs, nullIfZero(b.EndTimeMs), b.TimeoutMs,
	)
	return err
}

func nullIfZero(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func (s *MySQLStore) GetBranch(branchID int64) (*BranchTransaction, error) {
	row := s.db.QueryRow(
		`SELECT branch_id, xid, resource_group_id, resource_id, branch_type, lock_key, status, application_data, begin_time_ms, COALESCE(end_time_ms, 0), timeout_ms
		 FROM BRANCH_TABLE WHERE branch_id = ?`, branchID)
	return scanBranch(row)
}

func scanBranch(row *sql.Row) (*BranchTransaction, error) {
	b := &BranchTransaction{}
	var appData []byte
	if err := row.Scan(&b.BranchID, &b.XID, &b.ResourceGroupID, &b.ResourceID, &b.BranchType, &b.LockKey, &b.Status, &appData, &b.BeginTimeMs, &b.EndTimeMs, &b.TimeoutMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	b.ApplicationData = appData
	return b, nil
}

func (s *MySQLStore) ListBranches(xid string) ([]*BranchTransaction, error) {
	rows, err := s.db.Query(
		`SELECT branch_id, xid, resource_group_id, resource_id, branch_type, lock_key, status, application_data, begin_time_ms, COALESCE(end_time_ms, 0), timeout_ms
		 FROM BRANCH_TABLE WHERE xid = ?`, xid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BranchTransaction
	for rows.Next() {
		b := &BranchTransaction{}
		var appData []byte
		if err := rows.Scan(&b.BranchID, &b.XID, &b.ResourceGroupID, &b.ResourceID, &b.BranchType, &b.LockKey, &b.Status, &appData, &b.BeginTimeMs, &b.EndTimeMs, &b.TimeoutMs); err != nil {
			return nil, err
		}
		b.ApplicationData = appData
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *MySQLStore) UpdateBranchStatus(branchID int64, status BranchStatus) error {
	_, err := s.db.Exec(`UPDATE BRANCH_TABLE SET status = ?, end_time_ms = ? WHERE branch_id = ?`, status, NowMs(), branchID)
	return err
}

func (s *MySQLStore) DeleteBranch(branchID int64) error {
	_, err := s.db.Exec(`DELETE FROM BRANCH_TABLE WHERE branch_id = ?`, branchID)
	return err
}

func (s *MySQLStore) ListFailedBranches() ([]*BranchTransaction, error) {
	rows, err := s.db.Query(
		`SELECT branch_id, xid, resource_group_id, resource_id, branch_type, lock_key, status, application_data, begin_time_ms, COALESCE(end_time_ms, 0), timeout_ms
		 FROM BRANCH_TABLE WHERE status IN (?, ?, ?)`,
		BranchPhaseOneFailed, BranchPhaseTwoCommitFailed, BranchPhaseTwoRollbackFailed,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BranchTransaction
	for rows.Next() {
		b := &BranchTransaction{}
		var appData []byte
		if err := rows.Scan(&b.BranchID, &b.XID, &b.ResourceGroupID, &b.ResourceID, &b.BranchType, &b.LockKey, &b.Status, &appData, &b.BeginTimeMs, &b.EndTimeMs, &b.TimeoutMs); err != nil {
			return nil, err
		}
		b.ApplicationData = appData
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *MySQLStore) AcquireLock(rowKey, xid string, branchID int64) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT xid FROM GLOBAL_LOCK WHERE row_key = ?`, rowKey)
	var owner string
	err = row.Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO GLOBAL_LOCK (row_key, xid, branch_id, acquired_at_ms) VALUES (?, ?, ?, ?)`,
			rowKey, xid, branchID, NowMs()); err != nil {
			return false, err
		}
		return true, tx.Commit()
	case err != nil:
		return false, err
	case owner == xid:
		return true, tx.Commit()
	default:
		return false, tx.Commit()
	}
}

func (s *MySQLStore) ReleaseLocks(xid string, branchID int64) error {
	_, err := s.db.Exec(`DELETE FROM GLOBAL_LOCK WHERE xid = ? AND branch_id = ?`, xid, branchID)
	return err
}

func (s *MySQLStore) ListLocks(xid string) ([]*GlobalLock, error) {
	rows, err := s.db.Query(`SELECT row_key, xid, branch_id, acquired_at_ms FROM GLOBAL_LOCK WHERE xid = ?`, xid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GlobalLock
	for rows.Next() {
		l := &GlobalLock{}
		if err := rows.Scan(&l.RowKey, &l.XID, &l.BranchID, &l.AcquiredAtMs); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
