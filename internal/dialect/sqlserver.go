package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
)

// OpenSQLServer connects with go-mssqldb using a sqlserver:// URL.
func OpenSQLServer(ctx context.Context, connURL string) (Driver, error) {
	host := ""
	if u, err := url.Parse(connURL); err == nil {
		host = u.Host
		if u.Scheme == "mssql" {
			u.Scheme = "sqlserver"
			connURL = u.String()
		}
	}
	return openSQL(ctx, SQLServer, "sqlserver", connURL, host, sqlserverCatalog{})
}

type sqlserverCatalog struct{}

func (sqlserverCatalog) info(ctx context.Context, conn *sql.Conn) (Info, error) {
	var info Info
	err := conn.QueryRowContext(ctx,
		`SELECT CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)), DB_NAME(), SUSER_SNAME()`).
		Scan(&info.Version, &info.Database, &info.User)
	return info, err
}

// SQL Server has no session-wide read-only switch; the statement guard is
// the only protection.
func (sqlserverCatalog) readOnlyStatement() string {
	return ""
}

func (sqlserverCatalog) listTables(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT CASE WHEN TABLE_SCHEMA = SCHEMA_NAME() THEN TABLE_NAME
		            ELSE TABLE_SCHEMA + '.' + TABLE_NAME END
		FROM INFORMATION_SCHEMA.TABLES
		ORDER BY CASE WHEN TABLE_SCHEMA = SCHEMA_NAME() THEN 0 ELSE 1 END, TABLE_SCHEMA, TABLE_NAME`)
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

var mssqlIdentReplacer = strings.NewReplacer("]", "]]")

func quoteMSSQLIdentifier(name string) string {
	return "[" + mssqlIdentReplacer.Replace(name) + "]"
}

func (sqlserverCatalog) describeTable(ctx context.Context, conn *sql.Conn, name string) (*Table, error) {
	schema, table := splitQualified(name)
	object := quoteMSSQLIdentifier(table)
	if schema != "" {
		object = quoteMSSQLIdentifier(schema) + "." + object
	}

	var resolvedSchema, resolvedName sql.NullString
	err := conn.QueryRowContext(ctx,
		`SELECT OBJECT_SCHEMA_NAME(OBJECT_ID(@p1)), OBJECT_NAME(OBJECT_ID(@p1))`, object).
		Scan(&resolvedSchema, &resolvedName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve table %q: %w", name, err)
	}
	if !resolvedName.Valid {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	t := &Table{Schema: resolvedSchema.String, Name: resolvedName.String}

	var fks foreignKeyBuilder
	fkRows, err := conn.QueryContext(ctx, `
		SELECT fk.name, pc.name,
		       OBJECT_SCHEMA_NAME(fk.referenced_object_id), OBJECT_NAME(fk.referenced_object_id),
		       rc.name
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE fk.parent_object_id = OBJECT_ID(@p1)
		ORDER BY fk.name, fkc.constraint_column_id`, object)
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
		SELECT c.COLUMN_NAME, c.DATA_TYPE,
		       CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
		       COALESCE(c.COLUMN_DEFAULT, ''),
		       COALESCE((
		           SELECT TOP 1 tc.CONSTRAINT_TYPE
		           FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		           JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
		             ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = ku.TABLE_SCHEMA
		           WHERE ku.TABLE_SCHEMA = c.TABLE_SCHEMA AND ku.TABLE_NAME = c.TABLE_NAME
		             AND ku.COLUMN_NAME = c.COLUMN_NAME
		             AND tc.CONSTRAINT_TYPE IN ('PRIMARY KEY', 'UNIQUE')
		           ORDER BY CASE tc.CONSTRAINT_TYPE WHEN 'PRIMARY KEY' THEN 0 ELSE 1 END
		       ), '')
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer colRows.Close()
	for colRows.Next() {
		var (
			col        Column
			nullable   int
			constraint string
		)
		if err := colRows.Scan(&col.Name, &col.Type, &nullable, &col.Default, &constraint); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = nullable == 1
		col.Key = keyRole(constraint == "PRIMARY KEY", fks.has(col.Name), constraint == "UNIQUE")
		t.Columns = append(t.Columns, col)
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	t.ForeignKeys = fks.result()
	return t, nil
}

// normalize renders UNIQUEIDENTIFIER values in canonical form; the driver
// returns them as 16 raw bytes in SQL Server's mixed-endian order.
func (sqlserverCatalog) normalize(typeName string, v any) any {
	if b, ok := v.([]byte); ok && typeName == "UNIQUEIDENTIFIER" && len(b) == 16 {
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	}
	return normalizeValue(typeName, v)
}
