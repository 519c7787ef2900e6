package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// OpenMySQL connects with go-sql-driver/mysql. url is either a mysql://
// URL or a native DSN (user:pass@tcp(host:3306)/db).
func OpenMySQL(ctx context.Context, url string) (Driver, error) {
	cfg, err := mysqlConfig(url)
	if err != nil {
		return nil, err
	}
	dsn := cfg.FormatDSN()
	return openSQL(ctx, MySQL, "mysql", dsn, cfg.Addr, mysqlCatalog{dsn: dsn})
}

// mysqlConfig parses url into a driver config. DATE and DATETIME columns
// are scanned into time.Time, and multi-statement batches stay disabled.
func mysqlConfig(raw string) (*mysql.Config, error) {
	var cfg *mysql.Config
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "mysql://") || strings.HasPrefix(lower, "mariadb://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		if u.Port() == "" {
			cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
		}
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		if u.User != nil {
			cfg.User = u.User.Username()
			cfg.Passwd, _ = u.User.Password()
		}
		if len(u.Query()) > 0 {
			cfg.Params = make(map[string]string)
			for k, v := range u.Query() {
				if len(v) > 0 {
					cfg.Params[k] = v[0]
				}
			}
		}
	} else {
		parsed, err := mysql.ParseDSN(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connection string: %w", err)
		}
		cfg = parsed
	}
	cfg.ParseTime = true
	cfg.MultiStatements = false
	return cfg, nil
}

type mysqlCatalog struct {
	dsn string
}

func (mysqlCatalog) sessionID(ctx context.Context, conn *sql.Conn) (int64, error) {
	var id int64
	err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&id)
	return id, err
}

// killQuery stops the running statement of session id from a short-lived
// second connection. The session itself stays open.
func (c mysqlCatalog) killQuery(ctx context.Context, id int64) error {
	db, err := sql.Open("mysql", c.dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("KILL QUERY %d", id)); err != nil {
		return fmt.Errorf("failed to kill query on session %d: %w", id, err)
	}
	return nil
}

func (mysqlCatalog) info(ctx context.Context, conn *sql.Conn) (Info, error) {
	var info Info
	err := conn.QueryRowContext(ctx, `SELECT VERSION(), COALESCE(DATABASE(), ''), CURRENT_USER()`).
		Scan(&info.Version, &info.Database, &info.User)
	return info, err
}

func (mysqlCatalog) readOnlyStatement() string {
	return "SET SESSION TRANSACTION READ ONLY"
}

func (mysqlCatalog) listTables(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME`)
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

func (mysqlCatalog) describeTable(ctx context.Context, conn *sql.Conn, name string) (*Table, error) {
	schema, table := splitQualified(name)
	var schemaArg any
	if schema != "" {
		schemaArg = schema
	}
	t := &Table{}
	err := conn.QueryRowContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = COALESCE(?, DATABASE()) AND TABLE_NAME = ?`,
		schemaArg, table).Scan(&t.Schema, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table %q: %w", name, err)
	}

	var fks foreignKeyBuilder
	fkRows, err := conn.QueryContext(ctx, `
		SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_SCHEMA, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	for fkRows.Next() {
		var conName, column, refSchema, refTable, refColumn string
		if err := fkRows.Scan(&conName, &column, &refSchema, &refTable, &refColumn); err != nil {
			fkRows.Close()
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		if refSchema != t.Schema {
			refTable = refSchema + "." + refTable
		}
		fks.add(conName, conName, column, refTable, refColumn)
	}
	fkRows.Close()
	if err := fkRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}

	colRows, err := conn.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COALESCE(COLUMN_DEFAULT, ''), COLUMN_KEY
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer colRows.Close()
	for colRows.Next() {
		var col Column
		var nullable, key string
		if err := colRows.Scan(&col.Name, &col.Type, &nullable, &col.Default, &key); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = nullable == "YES"
		col.Key = keyRole(key == "PRI", fks.has(col.Name), key == "UNI")
		t.Columns = append(t.Columns, col)
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	t.ForeignKeys = fks.result()
	return t, nil
}

func (mysqlCatalog) normalize(typeName string, v any) any {
	return normalizeValue(typeName, v)
}
