package dialect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
)

const pgListTablesSQL = `
SELECT
    CASE WHEN n.nspname = current_schema() THEN c.relname
         ELSE n.nspname || '.' || c.relname
    END AS name
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND n.nspname NOT LIKE 'pg_temp_%'
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY n.nspname <> current_schema(), n.nspname, c.relname;
`

const pgResolveSQL = `
SELECT c.oid, n.nspname, c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.oid = to_regclass($1)
  AND c.relkind IN ('r', 'v', 'm', 'f', 'p');
`

const pgColumnsSQL = `
SELECT
    a.attname::text,
    pg_catalog.format_type(a.atttypid, a.atttypmod),
    NOT a.attnotnull,
    COALESCE(pg_catalog.pg_get_expr(d.adbin, d.adrelid), ''),
    EXISTS (SELECT 1 FROM pg_catalog.pg_constraint con
            WHERE con.conrelid = a.attrelid AND con.contype = 'p' AND a.attnum = ANY(con.conkey)),
    EXISTS (SELECT 1 FROM pg_catalog.pg_constraint con
            WHERE con.conrelid = a.attrelid AND con.contype = 'u' AND a.attnum = ANY(con.conkey))
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON a.attrelid = d.adrelid AND a.attnum = d.adnum
WHERE a.attrelid = $1
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum;
`

const pgForeignKeysSQL = `
SELECT
    con.conname::text,
    k.ord,
    a.attname::text,
    CASE WHEN fn.nspname = current_schema() THEN fc.relname::text
         ELSE fn.nspname || '.' || fc.relname
    END,
    fa.attname::text
FROM pg_catalog.pg_constraint con
CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
JOIN pg_catalog.pg_attribute fa ON fa.attrelid = con.confrelid AND fa.attnum = k.fattnum
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
JOIN pg_catalog.pg_namespace fn ON fn.oid = fc.relnamespace
WHERE con.contype = 'f'
  AND con.conrelid = $1
ORDER BY con.conname, k.ord;
`

// PostgresDriver is a Driver over a single pgx connection.
type PostgresDriver struct {
	conn *pgx.Conn
}

// OpenPostgres connects with pgx. Statements run in exec mode so every
// call is a single round trip without server-side prepared statements.
// A cancelled context sends a cancel request instead of dropping the
// socket, so the session survives a statement timeout.
func OpenPostgres(ctx context.Context, url string) (*PostgresDriver, error) {
	config, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	config.DefaultQueryExecMode = pgx.QueryExecModeExec
	config.BuildContextWatcherHandler = func(pc *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:          pc,
			DeadlineDelay: 5 * time.Second,
		}
	}
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return &PostgresDriver{conn: conn}, nil
}

func (d *PostgresDriver) Dialect() Name { return Postgres }

func (d *PostgresDriver) Ping(ctx context.Context) error {
	if d.conn.IsClosed() {
		return errors.New("connection is closed")
	}
	return d.conn.Ping(ctx)
}

func (d *PostgresDriver) Info(ctx context.Context) (Info, error) {
	info := Info{Dialect: Postgres, Host: d.conn.Config().Host}
	err := d.conn.QueryRow(ctx, `SELECT current_setting('server_version'), current_database(), current_user`).
		Scan(&info.Version, &info.Database, &info.User)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read server info: %w", err)
	}
	return info, nil
}

func (d *PostgresDriver) EnforceReadOnly(ctx context.Context) error {
	if _, err := d.conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
		return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
	}
	return nil
}

func (d *PostgresDriver) ListTables(ctx context.Context) ([]string, error) {
	rows, err := d.conn.Query(ctx, pgListTablesSQL)
	if err != nil {
		return nil, fmt.Errorf("list tables query failed: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables scan failed: %w", err)
	}
	return names, nil
}

func (d *PostgresDriver) DescribeTable(ctx context.Context, name string) (*Table, error) {
	var (
		oid   uint32
		table Table
	)
	err := d.conn.QueryRow(ctx, pgResolveSQL, pgQualifiedName(name)).Scan(&oid, &table.Schema, &table.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table %q: %w", name, err)
	}

	var fks foreignKeyBuilder
	rows, err := d.conn.Query(ctx, pgForeignKeysSQL, oid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	for rows.Next() {
		var (
			conName, column, refTable, refColumn string
			ord                                  int64
		)
		if err := rows.Scan(&conName, &ord, &column, &refTable, &refColumn); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fks.add(conName, conName, column, refTable, refColumn)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}

	rows, err = d.conn.Query(ctx, pgColumnsSQL, oid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			col             Column
			primary, unique bool
		)
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &primary, &unique); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Key = keyRole(primary, fks.has(col.Name), unique)
		table.Columns = append(table.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	table.ForeignKeys = fks.result()
	return &table, nil
}

// pgQualifiedName turns user input into a to_regclass argument. Already
// quoted input is passed through; bare parts are quoted after lower-casing
// so that mixed-case input finds the folded name.
func pgQualifiedName(name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, `"`) {
		return name
	}
	schema, table := splitQualified(name)
	if schema == "" {
		return quoteIdent(strings.ToLower(table))
	}
	return quoteIdent(strings.ToLower(schema)) + "." + quoteIdent(strings.ToLower(table))
}

// quoteIdent doubles embedded double-quotes and wraps in double-quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *PostgresDriver) Execute(ctx context.Context, sql string, args []any, maxRows int) (*Result, error) {
	rows, err := d.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Result{Columns: make([]ResultColumn, len(fields)), Rows: [][]any{}}
	typeMap := d.conn.TypeMap()
	for i, fd := range fields {
		result.Columns[i].Name = fd.Name
		if t, ok := typeMap.TypeForOID(fd.DataTypeOID); ok {
			result.Columns[i].Type = strings.ToUpper(t.Name)
		}
	}

	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result.Rows = append(result.Rows, values)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		result.RowsAffected = rows.CommandTag().RowsAffected()
	}
	return result, nil
}

func (d *PostgresDriver) Close(ctx context.Context) error {
	return d.conn.Close(ctx)
}

var _ Driver = (*PostgresDriver)(nil)
