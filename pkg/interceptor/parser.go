package interceptor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// SQLType is the DML kind a parsed statement belongs to.
type SQLType string

const (
	SQLInsert  SQLType = "INSERT"
	SQLUpdate  SQLType = "UPDATE"
	SQLDelete  SQLType = "DELETE"
	SQLSelect  SQLType = "SELECT"
	SQLUnknown SQLType = "UNKNOWN"
)

// ParsedStatement is the shape the AT interceptor needs out of a DML
// statement: its kind, the single table it targets, and a WHERE clause
// usable to re-select the affected rows.
type ParsedStatement struct {
	Type      SQLType
	Table     string
	Where     string // re-serialized WHERE expression, empty for INSERT/no WHERE
	Columns   []string
}

// regexFallback matches simple single-table "UPDATE t SET ... WHERE ...",
// "DELETE FROM t WHERE ...", "INSERT INTO t (...) VALUES (...)" statements
// when the structured parser cannot handle a dialect extension.
var (
	reUpdate = regexp.MustCompile(`(?is)^\s*UPDATE\s+` + "`?" + `([a-zA-Z0-9_]+)` + "`?" + `\s+SET\s+.+?(?:\s+WHERE\s+(.+))?$`)
	reDelete = regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\s+` + "`?" + `([a-zA-Z0-9_]+)` + "`?" + `(?:\s+WHERE\s+(.+))?$`)
	reInsert = regexp.MustCompile(`(?is)^\s*INSERT\s+INTO\s+` + "`?" + `([a-zA-Z0-9_]+)` + "`?" + `\s*\(([^)]*)\)`)
)

// Parse extracts sqlType/tableName/WHERE from a single DML statement,
// using the structured parser first and falling back to regex for basic
// single-table statements the parser rejects.
func Parse(sql string) (*ParsedStatement, error) {
	stmt, err := sqlparser.Parse(sql)
	if err == nil {
		if ps := fromAST(stmt); ps != nil {
			return ps, nil
		}
		return &ParsedStatement{Type: SQLUnknown}, nil
	}
	if ps := parseFallback(sql); ps != nil {
		return ps, nil
	}
	return nil, fmt.Errorf("interceptor: cannot parse statement: %w", err)
}

func fromAST(stmt sqlparser.Statement) *ParsedStatement {
	switch s := stmt.(type) {
	case *sqlparser.Insert:
		return &ParsedStatement{
			Type:    SQLInsert,
			Table:   s.Table.Name.String(),
			Columns: columnNames(s.Columns),
		}
	case *sqlparser.Update:
		table := firstTableName(s.TableExprs)
		where := ""
		if s.Where != nil {
			where = restorePlaceholders(sqlparser.String(s.Where.Expr))
		}
		return &ParsedStatement{Type: SQLUpdate, Table: table, Where: where}
	case *sqlparser.Delete:
		table := firstTableName(s.TableExprs)
		where := ""
		if s.Where != nil {
			where = restorePlaceholders(sqlparser.String(s.Where.Expr))
		}
		return &ParsedStatement{Type: SQLDelete, Table: table, Where: where}
	case *sqlparser.Select:
		return &ParsedStatement{Type: SQLSelect}
	default:
		return nil
	}
}

// reValArg matches the ":v1", ":v2", ... names the structured parser gives
// each "?" placeholder, in source order.
var reValArg = regexp.MustCompile(`:v[0-9]+`)

// restorePlaceholders turns the parser's positional bind-variable names
// back into "?" so a re-serialized WHERE clause binds the original args.
func restorePlaceholders(expr string) string {
	return reValArg.ReplaceAllString(expr, "?")
}

func firstTableName(exprs sqlparser.TableExprs) string {
	for _, te := range exprs {
		if aliased, ok := te.(*sqlparser.AliasedTableExpr); ok {
			if tn, ok := aliased.Expr.(sqlparser.TableName); ok {
				return tn.Name.String()
			}
		}
	}
	return ""
}

func columnNames(cols sqlparser.Columns) []string {
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.String())
	}
	return names
}

func parseFallback(sql string) *ParsedStatement {
	trimmed := strings.TrimSpace(sql)
	if m := reUpdate.FindStringSubmatch(trimmed); m != nil {
		return &ParsedStatement{Type: SQLUpdate, Table: m[1], Where: strings.TrimSpace(m[2])}
	}
	if m := reDelete.FindStringSubmatch(trimmed); m != nil {
		return &ParsedStatement{Type: SQLDelete, Table: m[1], Where: strings.TrimSpace(m[2])}
	}
	if m := reInsert.FindStringSubmatch(trimmed); m != nil {
		cols := strings.Split(m[2], ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(strings.Trim(cols[i], "`"))
		}
		return &ParsedStatement{Type: SQLInsert, Table: m[1], Columns: cols}
	}
	return nil
}

// Supported reports whether t is a DML kind the interceptor acts on.
func (t SQLType) Supported() bool {
	return t == SQLInsert || t == SQLUpdate || t == SQLDelete
}
