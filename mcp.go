package sqlmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rickchristie/sql-mcp/internal/dialect"
)

// RegisterMCPTools registers run_query, list_tables and describe_table as
// MCP tools on the given MCP server, honoring the configured tool prefix.
// Every tool result carries the response envelope in the configured format.
func RegisterMCPTools(mcpServer *server.MCPServer, g *Gateway) {
	prefix := g.config.ToolPrefix
	dbInfo := g.describeDatabase()

	// ListTables tool
	listTables := ToolName(prefix, ToolListTables)
	listTablesTool := mcp.NewTool(listTables,
		mcp.WithDescription("List the tables and views in the database, in catalog order. "+
			"Pass filter to keep only names containing it (case-insensitive). "+dbInfo),
		mcp.WithString("filter",
			mcp.Description("Optional substring the table name must contain"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTablesTool, g.loggedToolHandler(listTables, g.dispatchHandler(listTables)))

	// DescribeTable tool
	describeTable := ToolName(prefix, ToolDescribeTable)
	describeTableTool := mcp.NewTool(describeTable,
		mcp.WithDescription("Describe a table: columns in declared order with type, nullability, key role and default, "+
			"plus its directly declared foreign keys. "+dbInfo),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("The table name, optionally schema-qualified (schema.table)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(describeTableTool, g.loggedToolHandler(describeTable, g.dispatchHandler(describeTable)))

	// RunQuery tool
	runQuery := ToolName(prefix, ToolRunQuery)
	runQueryDesc := fmt.Sprintf("Execute one SQL statement and return columns and rows, or the affected row count. "+
		"Results beyond %d rows or %d characters are truncated. "+
		"Statements time out after %s unless a timeout rule matches. "+
		"Always pass values through params instead of concatenating them into sql; "+
		"use the database's own placeholders (%s). ",
		g.config.Query.MaxRows, g.config.Query.MaxResultLength, g.timeoutMgr.Default(), placeholderHint(g.info.Dialect))
	if g.config.Mode == ModeReadOnly {
		runQueryDesc += "The connection is read-only: statements that write are rejected. "
	}
	runQueryTool := mcp.NewTool(runQuery,
		mcp.WithDescription(runQueryDesc+dbInfo),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameter values bound to the placeholders in sql"),
		),
		mcp.WithReadOnlyHintAnnotation(g.config.Mode == ModeReadOnly),
		mcp.WithDestructiveHintAnnotation(g.config.Mode == ModeReadWrite),
	)
	mcpServer.AddTool(runQueryTool, g.loggedToolHandler(runQuery, g.dispatchHandler(runQuery)))
}

// dispatchHandler routes an MCP call for tool through Dispatch.
func (g *Gateway) dispatchHandler(tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp := g.Dispatch(ctx, ToolCall{Tool: tool, Arguments: req.GetArguments()})
		out, err := g.Encode(resp)
		if err != nil {
			return mcp.NewToolResultError("failed to encode " + tool + " result"), nil
		}
		if !resp.OK {
			return mcp.NewToolResultError(string(out)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

// describeDatabase renders the startup database info for tool descriptions.
func (g *Gateway) describeDatabase() string {
	info := g.info
	parts := []string{fmt.Sprintf("Database: %s", info.Dialect)}
	if info.Version != "" {
		parts = append(parts, "version "+info.Version)
	}
	if info.Database != "" {
		parts = append(parts, "database "+info.Database)
	}
	if info.Host != "" {
		parts = append(parts, "host "+info.Host)
	}
	if info.User != "" {
		parts = append(parts, "user "+info.User)
	}
	return strings.Join(parts, ", ") + "."
}

func placeholderHint(d dialect.Name) string {
	switch d {
	case dialect.Postgres:
		return "$1, $2, ..."
	case dialect.SQLServer:
		return "@p1, @p2, ..."
	default:
		return "?"
	}
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (g *Gateway) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		g.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
