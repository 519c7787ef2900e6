// Package dialect owns the single database session of a gateway process
// and hides the catalog and driver differences between PostgreSQL, MySQL,
// SQL Server and SQLite behind one Driver interface.
//
// A Driver is not safe for concurrent use; callers serialize access.
package dialect

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Name identifies a supported SQL dialect.
type Name string

const (
	Postgres  Name = "postgres"
	MySQL     Name = "mysql"
	SQLServer Name = "sqlserver"
	SQLite    Name = "sqlite"
)

// ErrNotFound is returned by DescribeTable when the table does not exist.
var ErrNotFound = errors.New("table not found")

// ErrReadOnlyUnsupported is returned by EnforceReadOnly when the dialect
// has no session-level read-only switch.
var ErrReadOnlyUnsupported = errors.New("dialect has no session read-only mode")

// Info describes the server behind the session.
type Info struct {
	Dialect  Name   `json:"dialect" yaml:"dialect"`
	Version  string `json:"version" yaml:"version"`
	Database string `json:"database" yaml:"database"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
}

// Column key roles.
const (
	KeyPrimary = "primary"
	KeyForeign = "foreign"
	KeyUnique  = "unique"
)

// Column is one catalog column of a table.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Key      string
	Default  string
}

// ForeignKey is one directly declared foreign key.
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

// Table is the catalog description of a table or view.
type Table struct {
	Schema      string
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// ResultColumn names a result column and its upper-cased database type
// name. Type is empty when the driver cannot tell.
type ResultColumn struct {
	Name string
	Type string
}

// Result is the raw outcome of Execute. Row values are driver values after
// textual byte slices have been turned into strings and numbers.
type Result struct {
	Columns      []ResultColumn
	Rows         [][]any
	RowsAffected int64
	Truncated    bool
}

// Driver is one open database session.
type Driver interface {
	Dialect() Name
	// Ping checks that the session is still usable.
	Ping(ctx context.Context) error
	Info(ctx context.Context) (Info, error)
	// EnforceReadOnly asks the server to refuse writes for the rest of the
	// session.
	EnforceReadOnly(ctx context.Context) error
	// ListTables returns table and view names in catalog order.
	ListTables(ctx context.Context) ([]string, error)
	// DescribeTable returns ErrNotFound when name does not resolve.
	DescribeTable(ctx context.Context, name string) (*Table, error)
	// Execute submits sql once. Row sets are read up to maxRows; when more
	// rows exist the result is marked Truncated.
	Execute(ctx context.Context, sql string, args []any, maxRows int) (*Result, error)
	Close(ctx context.Context) error
}

// ParseName parses a configured dialect name. Common aliases are accepted.
func ParseName(s string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q: use postgres, mysql, sqlserver or sqlite", s)
	}
}

// Detect derives the dialect from a connection URL scheme.
func Detect(url string) (Name, error) {
	lower := strings.ToLower(strings.TrimSpace(url))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(lower, "mysql://"), strings.HasPrefix(lower, "mariadb://"):
		return MySQL, nil
	case strings.HasPrefix(lower, "sqlserver://"), strings.HasPrefix(lower, "mssql://"):
		return SQLServer, nil
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "sqlite3://"), strings.HasPrefix(lower, "file:"):
		return SQLite, nil
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return SQLite, nil
	default:
		return "", fmt.Errorf("cannot detect dialect from connection URL: use postgres://, mysql://, sqlserver:// or sqlite:// (or set connection.dialect)")
	}
}

// Open connects to the database and returns a Driver holding exactly one
// session.
func Open(ctx context.Context, name Name, url string) (Driver, error) {
	switch name {
	case Postgres:
		return OpenPostgres(ctx, url)
	case MySQL:
		return OpenMySQL(ctx, url)
	case SQLServer:
		return OpenSQLServer(ctx, url)
	case SQLite:
		return OpenSQLite(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// splitQualified splits "schema.table" on the last unquoted dot. Quote
// characters around either part are removed.
func splitQualified(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i > 0 {
		schema, table = name[:i], name[i+1:]
	} else {
		table = name
	}
	return unquote(schema), unquote(table)
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"',
			s[0] == '`' && s[len(s)-1] == '`',
			s[0] == '[' && s[len(s)-1] == ']':
			return s[1 : len(s)-1]
		}
	}
	return s
}

// keyRole picks the strongest key role a column takes part in.
func keyRole(primary, foreign, unique bool) string {
	switch {
	case primary:
		return KeyPrimary
	case foreign:
		return KeyForeign
	case unique:
		return KeyUnique
	default:
		return ""
	}
}

// foreignKeyBuilder folds per-column catalog rows into foreign keys. Rows
// of one key must be adjacent and ordered by column position.
type foreignKeyBuilder struct {
	keys    []ForeignKey
	lastID  string
	columns map[string]bool
}

func (b *foreignKeyBuilder) add(id, name, column, refTable, refColumn string) {
	if len(b.keys) == 0 || id != b.lastID {
		b.keys = append(b.keys, ForeignKey{Name: name, ReferencedTable: refTable})
		b.lastID = id
	}
	fk := &b.keys[len(b.keys)-1]
	fk.Columns = append(fk.Columns, column)
	fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	if b.columns == nil {
		b.columns = make(map[string]bool)
	}
	b.columns[column] = true
}

func (b *foreignKeyBuilder) result() []ForeignKey {
	if b.keys == nil {
		return []ForeignKey{}
	}
	return b.keys
}

func (b *foreignKeyBuilder) has(column string) bool {
	return b.columns[column]
}
