package interceptor

import "time"

// LogStatus is the lifecycle state of one UndoLog row.
type LogStatus int

const (
	LogNormal      LogStatus = 0
	LogCompensated LogStatus = 1
)

// RowImage is a single captured row, column name to stringified value.
// Values are stored as strings (not typed) so the undo log survives a
// round trip through TEXT columns without schema-specific marshaling.
type RowImage map[string]string

// UndoLog is the durable record written alongside business DML in the
// same local transaction, enabling AT-mode compensation.
type UndoLog struct {
	ID           int64
	XID          string
	BranchID     int64
	TableName    string
	SQLType      SQLType
	BeforeImages []RowImage
	AfterImages  []RowImage
	SQLText      string
	Parameters   string
	LogStatus    LogStatus
	CreateTime   time.Time
	UpdateTime   time.Time
}
