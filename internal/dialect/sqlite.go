package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens a SQLite database with modernc.org/sqlite (pure Go).
// url may be sqlite://path, sqlite://:memory:, a file: URI or a bare path.
func OpenSQLite(ctx context.Context, url string) (Driver, error) {
	dsn := sqliteDSN(url)
	d, err := openSQL(ctx, SQLite, "sqlite", dsn, "", sqliteCatalog{path: dsn})
	if err != nil {
		return nil, err
	}
	if _, err := d.conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("sqlite: failed to enable foreign keys: %w", err)
	}
	return d, nil
}

func sqliteDSN(url string) string {
	for _, prefix := range []string{"sqlite3://", "sqlite://"} {
		if len(url) >= len(prefix) && strings.EqualFold(url[:len(prefix)], prefix) {
			return url[len(prefix):]
		}
	}
	return url
}

type sqliteCatalog struct {
	path string
}

func (c sqliteCatalog) info(ctx context.Context, conn *sql.Conn) (Info, error) {
	info := Info{Database: c.path}
	if err := conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&info.Version); err != nil {
		return Info{}, err
	}
	return info, nil
}

func (sqliteCatalog) readOnlyStatement() string {
	return "PRAGMA query_only = ON"
}

func (sqliteCatalog) listTables(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (sqliteCatalog) describeTable(ctx context.Context, conn *sql.Conn, name string) (*Table, error) {
	_, table := splitQualified(name)
	t := &Table{Schema: "main"}
	err := conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name = ? COLLATE NOCASE`, table).Scan(&t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table %q: %w", name, err)
	}

	var fks foreignKeyBuilder
	fkRows, err := conn.QueryContext(ctx,
		`SELECT id, "table", "from", COALESCE("to", '') FROM pragma_foreign_key_list(?) ORDER BY id, seq`, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	for fkRows.Next() {
		var (
			id                        int64
			refTable, from, refColumn string
		)
		if err := fkRows.Scan(&id, &refTable, &from, &refColumn); err != nil {
			fkRows.Close()
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fks.add(strconv.FormatInt(id, 10), "", from, refTable, refColumn)
	}
	fkRows.Close()
	if err := fkRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}

	unique := make(map[string]bool)
	uqRows, err := conn.QueryContext(ctx,
		`SELECT ii.name FROM pragma_index_list(?) il JOIN pragma_index_info(il.name) ii
		 WHERE il."unique" = 1 AND il.origin = 'u'`, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unique constraints: %w", err)
	}
	for uqRows.Next() {
		var col string
		if err := uqRows.Scan(&col); err != nil {
			uqRows.Close()
			return nil, fmt.Errorf("failed to scan unique constraint: %w", err)
		}
		unique[col] = true
	}
	uqRows.Close()
	if err := uqRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch unique constraints: %w", err)
	}

	colRows, err := conn.QueryContext(ctx,
		`SELECT name, type, "notnull", COALESCE(dflt_value, ''), pk FROM pragma_table_info(?) ORDER BY cid`, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer colRows.Close()
	for colRows.Next() {
		var (
			col         Column
			notNull, pk int64
		)
		if err := colRows.Scan(&col.Name, &col.Type, &notNull, &col.Default, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = notNull == 0 && pk == 0
		col.Key = keyRole(pk > 0, fks.has(col.Name), unique[col.Name])
		t.Columns = append(t.Columns, col)
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	t.ForeignKeys = fks.result()
	return t, nil
}

func (sqliteCatalog) normalize(typeName string, v any) any {
	return normalizeValue(typeName, v)
}
