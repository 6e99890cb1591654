package interceptor

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iklop007/galaxytx/pkg/txclient"
)

type stubBranchRegistrar struct {
	branchID int64
	lockKey  string
}

func (s *stubBranchRegistrar) RegisterBranch(ctx context.Context, xid, resourceGroupID, resourceID, lockKey string, applicationData []byte) (int64, error) {
	s.lockKey = lockKey
	return s.branchID, nil
}

// TestDataSourceExecContextReusesParameterizedWhereArgsForImageCapture
// exercises the standard, non-literal way business code issues AT-mode
// DML ("UPDATE ... WHERE id = ?") and asserts the before/after image
// re-select binds the statement's own WHERE argument rather than leaving
// a dangling, unbound placeholder.
func TestDataSourceExecContextReusesParameterizedWhereArgsForImageCapture(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	registrar := &stubBranchRegistrar{branchID: 42}
	undo := NewUndoLogRepository(db)
	ds := NewDataSource(db, registrar, undo, "test-resource")

	ctx := txclient.WithXID(context.Background(), "xid-1")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM account WHERE id = ?")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bal"}).AddRow("5", "100"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE account SET bal = bal - ? WHERE id = ?")).
		WithArgs(10, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM account WHERE id = ?")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bal"}).AddRow("5", "90"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO UNDO_LOG")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err = ds.ExecContext(ctx, "UPDATE account SET bal = bal - ? WHERE id = ?", 10, 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "account:5", registrar.lockKey)
}

// TestDataSourceExecContextOutsideGlobalTransactionPassesThrough confirms
// a DataSource with no active xid in ctx never opens a local transaction
// or touches the branch registrar/undo log at all.
func TestDataSourceExecContextOutsideGlobalTransactionPassesThrough(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	undo := NewUndoLogRepository(db)
	ds := NewDataSource(db, &stubBranchRegistrar{}, undo, "test-resource")

	mock.ExpectExec(regexp.QuoteMeta("UPDATE account SET bal = bal - ? WHERE id = ?")).
		WithArgs(10, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = ds.ExecContext(context.Background(), "UPDATE account SET bal = bal - ? WHERE id = ?", 10, 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWhereArgsSlicesTrailingPlaceholdersOnly(t *testing.T) {
	args := []interface{}{10, 5}
	assert.Equal(t, []interface{}{5}, whereArgs("id = ?", args))
	assert.Equal(t, []interface{}{10, 5}, whereArgs("a = ? and b = ?", args))
	assert.Nil(t, whereArgs("", args))
	assert.Nil(t, whereArgs("a = ? and b = ? and c = ?", args))
}
