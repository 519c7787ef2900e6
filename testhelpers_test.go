package sqlmcp_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	sqlmcp "github.com/rickchristie/sql-mcp"
	"github.com/rickchristie/sql-mcp/internal/dialect"
)

// seedSQL is the fixture every SQLite-backed test starts from.
const seedSQL = `
CREATE TABLE users (
    id     INTEGER PRIMARY KEY,
    email  TEXT NOT NULL UNIQUE,
    name   TEXT,
    joined DATE
);
CREATE TABLE orders (
    id      INTEGER PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    total   REAL DEFAULT 0,
    receipt BLOB
);
CREATE TABLE settings (
    key   TEXT PRIMARY KEY,
    value TEXT
);
INSERT INTO users (id, email, name, joined) VALUES
    (1, 'ada@example.com', 'Ada', '2024-01-15'),
    (2, 'bob@example.com', NULL, '2024-02-01'),
    (3, 'cy@example.com', 'Cy', NULL);
INSERT INTO orders (id, user_id, total, receipt) VALUES
    (1, 1, 9.5, X'DEADBEEF'),
    (2, 1, 20.25, NULL);
INSERT INTO settings (key, value) VALUES ('theme', 'dark');
`

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() sqlmcp.Config {
	return sqlmcp.Config{
		Mode: sqlmcp.ModeReadOnly,
		Query: sqlmcp.QueryConfig{
			DefaultTimeoutSeconds:       30,
			ListTablesTimeoutSeconds:    10,
			DescribeTableTimeoutSeconds: 10,
			MaxRows:                     1000,
			MaxSQLLength:                100000,
			MaxResultLength:             100000,
		},
	}
}

func readWriteConfig() sqlmcp.Config {
	config := defaultConfig()
	config.Mode = sqlmcp.ModeReadWrite
	return config
}

// openSeededSQLite opens a private in-memory database and loads seedSQL
// through the driver directly, before any gateway mode applies.
func openSeededSQLite(t *testing.T) dialect.Driver {
	t.Helper()
	ctx := context.Background()
	d, err := dialect.OpenSQLite(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if _, err := d.Execute(ctx, seedSQL, nil, 0); err != nil {
		d.Close(ctx)
		t.Fatalf("failed to seed sqlite: %v", err)
	}
	return d
}

// newTestGateway returns a Gateway over a freshly seeded SQLite database.
func newTestGateway(t *testing.T, config sqlmcp.Config) *sqlmcp.Gateway {
	t.Helper()
	ctx := context.Background()
	g, err := sqlmcp.New(ctx, openSeededSQLite(t), config, testLogger())
	if err != nil {
		t.Fatalf("failed to create Gateway: %v", err)
	}
	t.Cleanup(func() { g.Close(ctx) })
	return g
}

func runQuery(t *testing.T, g *sqlmcp.Gateway, sql string, params ...any) *sqlmcp.QueryOutput {
	t.Helper()
	out, err := g.RunQuery(context.Background(), sqlmcp.RunQueryInput{SQL: sql, Params: params})
	if err != nil {
		t.Fatalf("RunQuery(%q): unexpected error: %v", sql, err)
	}
	return out
}

// expectToolError asserts err is a *ToolError of the given kind.
func expectToolError(t *testing.T, err error, kind sqlmcp.ErrorKind) *sqlmcp.ToolError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	te, ok := err.(*sqlmcp.ToolError)
	if !ok {
		t.Fatalf("expected *ToolError, got %T: %v", err, err)
	}
	if te.Kind != kind {
		t.Fatalf("expected kind %s, got %s: %s", kind, te.Kind, te.Message)
	}
	return te
}

// expectPanic calls f and asserts that it panics with a message containing substr.
func expectPanic(t *testing.T, substr string, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q, but no panic occurred", substr)
		}
		msg := ""
		switch v := r.(type) {
		case string:
			msg = v
		case error:
			msg = v.Error()
		default:
			t.Fatalf("expected panic string/error containing %q, got %T: %v", substr, r, r)
		}
		if !strings.Contains(msg, substr) {
			t.Fatalf("expected panic containing %q, got %q", substr, msg)
		}
	}()
	f()
}
