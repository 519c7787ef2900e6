package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rickchristie/sql-mcp/internal/classify"
)

// catalog is the dialect-specific half of a database/sql backed driver.
type catalog interface {
	info(ctx context.Context, conn *sql.Conn) (Info, error)
	readOnlyStatement() string
	listTables(ctx context.Context, conn *sql.Conn) ([]string, error)
	describeTable(ctx context.Context, conn *sql.Conn, name string) (*Table, error)
	// normalize converts one scanned value of a column with the given
	// upper-cased database type name.
	normalize(typeName string, v any) any
}

// queryKiller is implemented by catalogs whose driver closes the session
// when a context ends mid-statement. The statement is killed on the server
// from a side connection instead, so the session survives a timeout.
type queryKiller interface {
	sessionID(ctx context.Context, conn *sql.Conn) (int64, error)
	killQuery(ctx context.Context, id int64) error
}

// killTimeout bounds the side connection that kills a statement. If the
// statement still runs killGrace after the kill, the context is cancelled
// on the session itself.
const (
	killTimeout = 5 * time.Second
	killGrace   = 5 * time.Second
)

// sqlDriver is a Driver over one pinned *sql.Conn. The pool is capped at a
// single connection so the session never changes underneath the caller.
type sqlDriver struct {
	dialect   Name
	db        *sql.DB
	conn      *sql.Conn
	host      string
	catalog   catalog
	killer    queryKiller
	sessionID int64
	killGrace time.Duration
}

func openSQL(ctx context.Context, dialect Name, driverName, dsn, host string, cat catalog) (*sqlDriver, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", dialect, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s connect: %w", dialect, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", dialect, err)
	}
	d := &sqlDriver{dialect: dialect, db: db, conn: conn, host: host, catalog: cat, killGrace: killGrace}
	if killer, ok := cat.(queryKiller); ok {
		id, err := killer.sessionID(ctx, conn)
		if err != nil {
			conn.Close()
			db.Close()
			return nil, fmt.Errorf("%s: failed to read session id: %w", dialect, err)
		}
		d.killer = killer
		d.sessionID = id
	}
	return d, nil
}

func (d *sqlDriver) Dialect() Name { return d.dialect }

func (d *sqlDriver) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *sqlDriver) Info(ctx context.Context) (Info, error) {
	info, err := d.catalog.info(ctx, d.conn)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read server info: %w", err)
	}
	info.Dialect = d.dialect
	if info.Host == "" {
		info.Host = d.host
	}
	return info, nil
}

func (d *sqlDriver) EnforceReadOnly(ctx context.Context) error {
	stmt := d.catalog.readOnlyStatement()
	if stmt == "" {
		return ErrReadOnlyUnsupported
	}
	if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to enable read-only session (%s): %w", stmt, err)
	}
	return nil
}

func (d *sqlDriver) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := d.run(ctx, func(ctx context.Context) error {
		var err error
		names, err = d.catalog.listTables(ctx, d.conn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tables query failed: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (d *sqlDriver) DescribeTable(ctx context.Context, name string) (*Table, error) {
	var table *Table
	err := d.run(ctx, func(ctx context.Context) error {
		var err error
		table, err = d.catalog.describeTable(ctx, d.conn, name)
		return err
	})
	return table, err
}

func (d *sqlDriver) Execute(ctx context.Context, query string, args []any, maxRows int) (*Result, error) {
	var result *Result
	err := d.run(ctx, func(ctx context.Context) error {
		var err error
		result, err = d.execute(ctx, query, args, maxRows)
		return err
	})
	return result, err
}

// run calls fn on the session. With a queryKiller the end of ctx kills the
// statement on the server; fn's own context is cancelled only if the kill
// fails or the statement outlives killGrace.
func (d *sqlDriver) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.killer == nil {
		return fn(ctx)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		killCtx, killCancel := context.WithTimeout(context.Background(), killTimeout)
		err := d.killer.killQuery(killCtx, d.sessionID)
		killCancel()
		if err != nil {
			cancel()
			return
		}
		grace := time.NewTimer(d.killGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			cancel()
		}
	}()

	err := fn(runCtx)
	close(done)
	// A kill still in flight must not reach the next statement.
	wg.Wait()
	return err
}

func (d *sqlDriver) execute(ctx context.Context, query string, args []any, maxRows int) (*Result, error) {
	if !classify.ReturnsRows(query) {
		res, err := d.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = 0
		}
		return &Result{Columns: []ResultColumn{}, Rows: [][]any{}, RowsAffected: n}, nil
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLRows(rows, maxRows, d.catalog.normalize)
}

// collectSQLRows reads up to maxRows rows, scanning every column into an
// untyped value and normalizing it by column type.
func collectSQLRows(rows *sql.Rows, maxRows int, normalize func(string, any) any) (*Result, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	result := &Result{Columns: make([]ResultColumn, len(types)), Rows: [][]any{}}
	for i, ct := range types {
		result.Columns[i] = ResultColumn{Name: ct.Name(), Type: strings.ToUpper(ct.DatabaseTypeName())}
	}

	scan := make([]any, len(types))
	for i := range scan {
		scan[i] = new(any)
	}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]any, len(scan))
		for i := range scan {
			row[i] = normalize(result.Columns[i].Type, *(scan[i].(*any)))
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *sqlDriver) Close(ctx context.Context) error {
	connErr := d.conn.Close()
	dbErr := d.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

var binaryTypes = map[string]bool{
	"BLOB": true, "TINYBLOB": true, "MEDIUMBLOB": true, "LONGBLOB": true,
	"BINARY": true, "VARBINARY": true, "IMAGE": true, "BYTEA": true,
	"BIT": true, "GEOMETRY": true, "ROWVERSION": true, "TIMESTAMP_BINARY": true,
}

var integerTypes = map[string]bool{
	"INT": true, "INTEGER": true, "TINYINT": true, "SMALLINT": true, "MEDIUMINT": true,
	"BIGINT": true, "UNSIGNED INT": true, "UNSIGNED TINYINT": true, "UNSIGNED SMALLINT": true,
	"UNSIGNED MEDIUMINT": true, "UNSIGNED BIGINT": true, "YEAR": true,
}

var floatTypes = map[string]bool{
	"FLOAT": true, "DOUBLE": true, "REAL": true,
}

// normalizeValue turns the []byte values drivers return for textual and
// numeric columns into strings and numbers. Binary columns keep their
// bytes.
func normalizeValue(typeName string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch {
	case binaryTypes[typeName]:
		return append([]byte(nil), b...)
	case integerTypes[typeName]:
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		return string(b)
	case floatTypes[typeName]:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
		return string(b)
	default:
		return string(b)
	}
}
