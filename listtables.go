package sqlmcp

import (
	"context"
	"strings"
	"time"
)

// ListTables returns table and view names in catalog order, optionally
// filtered by a case-insensitive substring. Schema inspection is never
// subject to the mode guard.
func (g *Gateway) ListTables(ctx context.Context, input ListTablesInput) (*ListTablesOutput, error) {
	startTime := time.Now()

	// 1. Acquire the session
	if err := g.acquire(ctx); err != nil {
		return nil, g.handleError("ListTables error", err)
	}
	defer g.release()

	// 2. Apply configurable timeout
	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(g.config.Query.ListTablesTimeoutSeconds)*time.Second)
	defer cancel()

	names, err := g.driver.ListTables(queryCtx)
	if err != nil {
		if queryCtx.Err() != nil && ctx.Err() == nil {
			err = newToolError(KindTimeout, "list_tables timed out after %ds", g.config.Query.ListTablesTimeoutSeconds)
		}
		g.checkConnection()
		return nil, g.handleError("ListTables error", err)
	}

	tables := filterNames(names, input.Filter)

	logEvent := g.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables))
	if input.Filter != nil {
		logEvent = logEvent.Str("filter", *input.Filter)
	}
	logEvent.Msg("ListTables executed")

	return &ListTablesOutput{Tables: tables}, nil
}

// filterNames keeps names containing filter, case-insensitively, in their
// original order. A nil filter keeps everything.
func filterNames(names []string, filter *string) []string {
	tables := make([]string, 0, len(names))
	if filter == nil {
		return append(tables, names...)
	}
	needle := strings.ToLower(*filter)
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			tables = append(tables, name)
		}
	}
	return tables
}
