package dialect

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const testSchema = `
CREATE TABLE users (
    id INTEGER PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT,
    joined DATE
);
CREATE TABLE orders (
    id INTEGER PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id),
    total REAL DEFAULT 0,
    receipt BLOB
);
CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT);
INSERT INTO users (id, email, name, joined) VALUES
    (1, 'ada@example.com', 'Ada', '2024-01-15'),
    (2, 'bob@example.com', NULL, '2024-02-01'),
    (3, 'cy@example.com', 'Cy', NULL);
INSERT INTO orders (id, user_id, total, receipt) VALUES (10, 1, 9.5, x'00ff');
`

func openTestSQLite(t *testing.T) Driver {
	t.Helper()
	ctx := context.Background()
	d, err := OpenSQLite(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { d.Close(ctx) })
	if _, err := d.Execute(ctx, testSchema, nil, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return d
}

func TestSQLiteInfoAndPing(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	ctx := context.Background()
	if err := d.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	info, err := d.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Dialect != SQLite || info.Version == "" || info.Database != ":memory:" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestSQLiteListTables(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	names, err := d.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	want := []string{"orders", "settings", "users"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("ListTables = %v, want %v", names, want)
	}
}

func TestSQLiteDescribeTable(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	ctx := context.Background()

	users, err := d.DescribeTable(ctx, "USERS")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if users.Name != "users" || users.Schema != "main" {
		t.Fatalf("unexpected identity %s.%s", users.Schema, users.Name)
	}
	var got []string
	for _, c := range users.Columns {
		got = append(got, c.Name+":"+c.Key)
	}
	if strings.Join(got, ",") != "id:primary,email:unique,name:,joined:" {
		t.Fatalf("columns = %v", got)
	}
	if users.Columns[1].Nullable || !users.Columns[2].Nullable {
		t.Fatalf("nullability wrong: %+v", users.Columns)
	}
	if len(users.ForeignKeys) != 0 {
		t.Fatalf("users has no foreign keys, got %+v", users.ForeignKeys)
	}

	orders, err := d.DescribeTable(ctx, "orders")
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}
	if orders.Columns[1].Key != KeyForeign {
		t.Fatalf("user_id key = %q", orders.Columns[1].Key)
	}
	if orders.Columns[2].Default != "0" {
		t.Fatalf("total default = %q", orders.Columns[2].Default)
	}
	if len(orders.ForeignKeys) != 1 {
		t.Fatalf("expected 1 foreign key, got %+v", orders.ForeignKeys)
	}
	fk := orders.ForeignKeys[0]
	if fk.ReferencedTable != "users" || fk.Columns[0] != "user_id" || fk.ReferencedColumns[0] != "id" {
		t.Fatalf("unexpected foreign key %+v", fk)
	}
}

func TestSQLiteDescribeTableNotFound(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	_, err := d.DescribeTable(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteExecuteRows(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	res, err := d.Execute(context.Background(), "SELECT id, name, joined FROM users ORDER BY id", nil, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Columns) != 3 || res.Columns[0].Name != "id" || res.Columns[2].Type != "DATE" {
		t.Fatalf("unexpected columns %+v", res.Columns)
	}
	if len(res.Rows) != 3 || res.Truncated {
		t.Fatalf("unexpected rows %v", res.Rows)
	}
	if res.Rows[0][0] != int64(1) || res.Rows[0][1] != "Ada" || res.Rows[1][1] != nil {
		t.Fatalf("unexpected values %v", res.Rows)
	}
	switch v := res.Rows[0][2].(type) {
	case time.Time:
		if v.Format("2006-01-02") != "2024-01-15" {
			t.Fatalf("joined = %v", v)
		}
	case string:
		if v != "2024-01-15" {
			t.Fatalf("joined = %v", v)
		}
	default:
		t.Fatalf("joined has unexpected type %T", v)
	}
}

func TestSQLiteExecuteTruncates(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	res, err := d.Execute(context.Background(), "SELECT id FROM users ORDER BY id", nil, 2)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Rows) != 2 || !res.Truncated {
		t.Fatalf("expected 2 rows and Truncated, got %d rows truncated=%v", len(res.Rows), res.Truncated)
	}

	res, err = d.Execute(context.Background(), "SELECT id FROM users ORDER BY id", nil, 3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Rows) != 3 || res.Truncated {
		t.Fatalf("exactly maxRows must not truncate: %d rows truncated=%v", len(res.Rows), res.Truncated)
	}
}

func TestSQLiteExecuteWriteAndParams(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	ctx := context.Background()
	res, err := d.Execute(ctx, "UPDATE users SET name = ? WHERE id >= ?", []any{"x", int64(2)}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowsAffected != 2 || len(res.Rows) != 0 {
		t.Fatalf("expected 2 rows affected, got %+v", res)
	}

	res, err = d.Execute(ctx, "INSERT INTO settings (key, value) VALUES ('a', 'b') RETURNING key", nil, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "a" {
		t.Fatalf("RETURNING rows missing: %+v", res)
	}
}

func TestSQLiteBinaryColumn(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	res, err := d.Execute(context.Background(), "SELECT receipt FROM orders", nil, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	b, ok := res.Rows[0][0].([]byte)
	if !ok || len(b) != 2 || b[1] != 0xff {
		t.Fatalf("expected raw bytes, got %#v", res.Rows[0][0])
	}
}

func TestSQLiteEnforceReadOnly(t *testing.T) {
	t.Parallel()
	d := openTestSQLite(t)
	ctx := context.Background()
	if err := d.EnforceReadOnly(ctx); err != nil {
		t.Fatalf("EnforceReadOnly: %v", err)
	}
	if _, err := d.Execute(ctx, "DELETE FROM users", nil, 0); err == nil {
		t.Fatal("expected write to fail on a read-only session")
	}
	if _, err := d.Execute(ctx, "SELECT count(*) FROM users", nil, 0); err != nil {
		t.Fatalf("reads must still work: %v", err)
	}
}

func TestSQLiteClosedConnectionFailsPing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, err := OpenSQLite(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Ping(ctx); err == nil {
		t.Fatal("expected Ping to fail after Close")
	}
}
