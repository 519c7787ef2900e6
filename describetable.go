package sqlmcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rickchristie/sql-mcp/internal/dialect"
)

// DescribeTable returns the columns and directly declared foreign keys of a
// table or view, read from the catalog at call time. Name may be
// schema-qualified. A missing table is a NotFound error.
func (g *Gateway) DescribeTable(ctx context.Context, input DescribeTableInput) (*TableDescriptor, error) {
	startTime := time.Now()

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, g.handleError("DescribeTable error", newToolError(KindInvalidArguments, "name parameter is required"))
	}

	// 1. Acquire the session
	if err := g.acquire(ctx); err != nil {
		return nil, g.handleError("DescribeTable error", err)
	}
	defer g.release()

	// 2. Apply configurable timeout
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(g.config.Query.DescribeTableTimeoutSeconds)*time.Second)
	defer cancel()

	table, err := g.driver.DescribeTable(queryCtx, name)
	if err != nil {
		switch {
		case errors.Is(err, dialect.ErrNotFound):
			return nil, g.handleError("DescribeTable error", &ToolError{
				Kind:    KindNotFound,
				Message: fmt.Sprintf("table %q not found", name),
				Err:     err,
			})
		case queryCtx.Err() != nil && ctx.Err() == nil:
			err = newToolError(KindTimeout, "describe_table timed out after %ds", g.config.Query.DescribeTableTimeoutSeconds)
		}
		g.checkConnection()
		return nil, g.handleError("DescribeTable error", err)
	}

	output := toTableDescriptor(table)

	g.logger.Info().
		Dur("duration", time.Since(startTime)).
		Str("table", output.Name).
		Str("schema", output.Schema).
		Int("column_count", len(output.Columns)).
		Msg("DescribeTable executed")

	return output, nil
}

func toTableDescriptor(t *dialect.Table) *TableDescriptor {
	out := &TableDescriptor{
		Schema:      t.Schema,
		Name:        t.Name,
		Columns:     make([]ColumnInfo, len(t.Columns)),
		ForeignKeys: make([]ForeignKeyInfo, len(t.ForeignKeys)),
	}
	for i, c := range t.Columns {
		out.Columns[i] = ColumnInfo{
			Name:     c.Name,
			Type:     c.Type,
			Nullable: c.Nullable,
			Key:      c.Key,
			Default:  c.Default,
		}
	}
	for i, fk := range t.ForeignKeys {
		out.ForeignKeys[i] = ForeignKeyInfo{
			Name:              fk.Name,
			Columns:           fk.Columns,
			ReferencedTable:   fk.ReferencedTable,
			ReferencedColumns: fk.ReferencedColumns,
		}
	}
	return out
}
