package sqlmcp

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rickchristie/sql-mcp/internal/classify"
	"github.com/rickchristie/sql-mcp/internal/dialect"
	"github.com/rickchristie/sql-mcp/internal/guard"
)

// RunQuery executes the full query pipeline: classification, mode guard,
// execution under a timeout, value encoding, sanitization and result
// truncation. Every failure is returned as a *ToolError whose message
// already carries matching error prompts.
func (g *Gateway) RunQuery(ctx context.Context, input RunQueryInput) (*QueryOutput, error) {
	startTime := time.Now()
	sql := input.SQL

	if g.lost.Load() {
		return nil, g.handleError("query error", ErrConnectionLost)
	}

	// 1. Check SQL length before any processing
	if len(sql) > g.config.Query.MaxSQLLength {
		return nil, g.handleError("query error", newToolError(KindInvalidArguments,
			"SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), g.config.Query.MaxSQLLength))
	}

	// 2. Classify and authorize
	classified, err := g.classify(sql)
	if err != nil {
		return nil, g.handleError("query error", err)
	}
	classification := classified.Classification
	if err := guard.Authorize(sql, classification, g.mode); err != nil {
		return nil, g.handleError("query error", err)
	}

	// 3. Take the session
	if err := g.acquire(ctx); err != nil {
		return nil, g.handleError("query error", err)
	}
	defer g.release()

	// 4. Determine timeout
	timeout, timeoutRule := g.timeoutMgr.Resolve(sql)
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 5. Execute
	result, err := g.driver.Execute(queryCtx, sql, input.Params, g.config.Query.MaxRows)
	if err != nil {
		if errors.Is(queryCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &ToolError{
				Kind:    KindTimeout,
				Message: fmt.Sprintf("query timed out after %s", timeout),
				Err:     err,
			}
		}
		g.checkConnection()
		return nil, g.handleError("query error", err)
	}

	// 6. Encode values
	output := g.buildOutput(result)

	// 7. Apply sanitization (per-field, recursive into JSON values)
	sanitized := g.sanitizer.HasRules()
	output.Rows = g.sanitizer.SanitizeRows(output.Columns, output.Rows)

	// 8. Apply max result length truncation
	g.truncateIfNeeded(output)

	logEvent := g.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Str("classification", classification.String()).
		Str("keyword", classified.Keyword()).
		Int("row_count", len(output.Rows))
	if output.AffectedRows != nil {
		logEvent = logEvent.Int64("affected_rows", *output.AffectedRows)
	}
	if output.Truncated {
		logEvent = logEvent.Bool("truncated", true)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return output, nil
}

// classify uses the Postgres parser on Postgres sessions. Other dialects
// get the strict lexical classifier, which looks past the first keyword of
// every statement.
func (g *Gateway) classify(sql string) (*classify.Result, error) {
	if g.driver.Dialect() == dialect.Postgres {
		return classify.ClassifyPostgres(sql)
	}
	return classify.ClassifyStrict(sql)
}

// buildOutput converts a driver result into the encoded tool output.
func (g *Gateway) buildOutput(result *dialect.Result) *QueryOutput {
	if len(result.Columns) == 0 {
		affected := result.RowsAffected
		return &QueryOutput{AffectedRows: &affected}
	}
	output := &QueryOutput{
		Columns:   make([]string, len(result.Columns)),
		Rows:      make([][]any, 0, len(result.Rows)),
		Truncated: result.Truncated,
	}
	for i, c := range result.Columns {
		output.Columns[i] = c.Name
	}
	for _, row := range result.Rows {
		output.Rows = append(output.Rows, encodeRow(result.Columns, row))
	}
	return output
}

// truncateIfNeeded drops trailing rows until the encoded rows fit in
// MaxResultLength characters.
func (g *Gateway) truncateIfNeeded(output *QueryOutput) {
	limit := g.config.Query.MaxResultLength
	if len(output.Rows) == 0 || encodedLength(output.Rows) <= limit {
		return
	}
	lo, hi := 0, len(output.Rows)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if encodedLength(output.Rows[:mid]) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	output.Rows = output.Rows[:lo]
	output.Truncated = true
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
