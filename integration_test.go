//go:build integration

// Integration tests against a real PostgreSQL server. Requires pgflock
// running (port 9776).

package sqlmcp_test

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/rickchristie/govner/pgflock/client"

	sqlmcp "github.com/rickchristie/sql-mcp"
	"github.com/rickchristie/sql-mcp/internal/dialect"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

// setupPostgres runs each statement on a separate session, before any
// gateway applies its mode.
func setupPostgres(t *testing.T, connStr string, stmts ...string) {
	t.Helper()
	ctx := context.Background()
	d, err := dialect.OpenPostgres(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer d.Close(ctx)
	for _, sql := range stmts {
		if _, err := d.Execute(ctx, sql, nil, 0); err != nil {
			t.Fatalf("Exec failed: %s\nSQL: %s", err, sql)
		}
	}
}

func newPostgresGateway(t *testing.T, connStr string, config sqlmcp.Config) *sqlmcp.Gateway {
	t.Helper()
	ctx := context.Background()
	g, err := sqlmcp.Open(ctx, sqlmcp.ConnectionConfig{URL: connStr}, config, testLogger())
	if err != nil {
		t.Fatalf("failed to open gateway: %v", err)
	}
	t.Cleanup(func() { g.Close(ctx) })
	return g
}

func TestPostgres_ReadOnly(t *testing.T) {
	t.Parallel()
	connStr := acquireTestDB(t)
	setupPostgres(t, connStr,
		"CREATE TABLE users (id serial PRIMARY KEY, email text NOT NULL UNIQUE)",
		"INSERT INTO users (email) VALUES ('ada@example.com'), ('bob@example.com')",
	)
	g := newPostgresGateway(t, connStr, defaultConfig())
	ctx := context.Background()

	for _, sql := range []string{
		"DELETE FROM users",
		"SELECT * INTO users_copy FROM users",
		"EXPLAIN ANALYZE DELETE FROM users",
		"SELECT 1; DROP TABLE users",
		"DO $$ BEGIN DELETE FROM users; END $$",
	} {
		_, err := g.RunQuery(ctx, sqlmcp.RunQueryInput{SQL: sql})
		expectToolError(t, err, sqlmcp.KindRejected)
	}

	// A write hidden behind a function call passes classification but the
	// session refuses it.
	_, err := g.RunQuery(ctx, sqlmcp.RunQueryInput{SQL: "SELECT nextval('users_id_seq')"})
	expectToolError(t, err, sqlmcp.KindExecutionError)

	out := runQuery(t, g, "SELECT count(*) FROM users")
	if out.Rows[0][0] != int64(2) {
		t.Fatalf("expected 2 users, got %v", out.Rows[0][0])
	}
}

func TestPostgres_ReadWriteAndParams(t *testing.T) {
	t.Parallel()
	connStr := acquireTestDB(t)
	setupPostgres(t, connStr, "CREATE TABLE notes (id serial PRIMARY KEY, body text)")
	g := newPostgresGateway(t, connStr, readWriteConfig())

	out := runQuery(t, g, "INSERT INTO notes (body) VALUES ($1), ($2)", "a", "b")
	if out.AffectedRows == nil || *out.AffectedRows != 2 {
		t.Fatalf("expected affected_rows 2, got %v", out.AffectedRows)
	}

	out = runQuery(t, g, "UPDATE notes SET body = upper(body) WHERE id = $1 RETURNING body", int64(1))
	if !reflect.DeepEqual(out.Rows, [][]any{{"A"}}) {
		t.Fatalf("unexpected rows %v", out.Rows)
	}
}

func TestPostgres_DescribeAndListTables(t *testing.T) {
	t.Parallel()
	connStr := acquireTestDB(t)
	setupPostgres(t, connStr,
		"CREATE TABLE customers (id serial PRIMARY KEY, email text NOT NULL UNIQUE)",
		"CREATE TABLE invoices (id serial PRIMARY KEY, customer_id int NOT NULL REFERENCES customers(id), total numeric(10,2) DEFAULT 0)",
	)
	g := newPostgresGateway(t, connStr, defaultConfig())
	ctx := context.Background()

	filter := "invo"
	tables, err := g.ListTables(ctx, sqlmcp.ListTablesInput{Filter: &filter})
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables.Tables) != 1 || !strings.HasSuffix(tables.Tables[0], "invoices") {
		t.Fatalf("unexpected tables %v", tables.Tables)
	}

	desc, err := g.DescribeTable(ctx, sqlmcp.DescribeTableInput{Name: "INVOICES"})
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if desc.Schema != "public" || desc.Name != "invoices" || len(desc.Columns) != 3 {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
	if desc.Columns[0].Key != "primary" || desc.Columns[1].Key != "foreign" || desc.Columns[1].Nullable {
		t.Fatalf("unexpected columns %+v", desc.Columns)
	}
	if len(desc.ForeignKeys) != 1 || desc.ForeignKeys[0].ReferencedTable != "customers" {
		t.Fatalf("unexpected foreign keys %+v", desc.ForeignKeys)
	}

	_, err = g.DescribeTable(ctx, sqlmcp.DescribeTableInput{Name: "public.nope"})
	expectToolError(t, err, sqlmcp.KindNotFound)
}

func TestPostgres_CanonicalValues(t *testing.T) {
	t.Parallel()
	connStr := acquireTestDB(t)
	g := newPostgresGateway(t, connStr, defaultConfig())

	out := runQuery(t, g, `SELECT
		42::smallint AS small,
		9007199254740993::bigint AS big,
		12.50::numeric(10,2) AS amount,
		'NaN'::float8 AS nan,
		DATE '2024-01-15' AS day,
		TIMESTAMPTZ '2024-01-15 10:00:00+00' AS at,
		'\xdeadbeef'::bytea AS raw,
		'550e8400-e29b-41d4-a716-446655440000'::uuid AS id,
		'1 day 02:00:00'::interval AS span,
		'{"a":1}'::jsonb AS doc,
		NULL::text AS missing`)

	want := []any{
		int64(42),
		int64(9007199254740993),
		"12.50",
		"NaN",
		"2024-01-15",
		"2024-01-15T10:00:00Z",
		"3q2+7w==",
		"550e8400-e29b-41d4-a716-446655440000",
		"1 day(s) 2h0m0s",
		map[string]any{"a": float64(1)},
		nil,
	}
	if !reflect.DeepEqual(out.Rows[0], want) {
		t.Fatalf("unexpected canonical values:\n got %#v\nwant %#v", out.Rows[0], want)
	}
}

func TestPostgres_TimeoutKeepsSession(t *testing.T) {
	t.Parallel()
	connStr := acquireTestDB(t)
	config := defaultConfig()
	config.Query.TimeoutRules = []sqlmcp.TimeoutRule{{Pattern: `(?i)pg_sleep`, TimeoutSeconds: 1}}
	g := newPostgresGateway(t, connStr, config)

	_, err := g.RunQuery(context.Background(), sqlmcp.RunQueryInput{SQL: "SELECT pg_sleep(30)"})
	expectToolError(t, err, sqlmcp.KindTimeout)

	out := runQuery(t, g, "SELECT 1")
	if out.Rows[0][0] != int64(1) {
		t.Fatalf("expected session to survive the timeout, got %v", out.Rows)
	}
}

func TestPostgres_ConnectionLost(t *testing.T) {
	t.Parallel()
	connStr := acquireTestDB(t)
	g := newPostgresGateway(t, connStr, readWriteConfig())
	ctx := context.Background()

	// The session terminates itself.
	_, err := g.RunQuery(ctx, sqlmcp.RunQueryInput{SQL: "SELECT pg_terminate_backend(pg_backend_pid())"})
	if err == nil {
		t.Fatal("expected the terminating statement to fail")
	}

	_, err = g.RunQuery(ctx, sqlmcp.RunQueryInput{SQL: "SELECT 1"})
	expectToolError(t, err, sqlmcp.KindConnectionLost)
}
