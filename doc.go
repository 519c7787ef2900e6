// Package sqlmcp provides controlled SQL database access for AI agents
// through the Model Context Protocol (MCP) or a plain JSON-lines channel.
//
// It exposes three tools (run_query, list_tables and describe_table) over
// exactly one database session (PostgreSQL, MySQL, SQL Server or SQLite).
// Every statement is classified as read or write before it touches the
// session, and writes are rejected unless the gateway runs in read_write
// mode. In read_only mode the session itself is also switched to read-only
// where the database supports it.
//
// Calls are serialized on the session and bounded by timeouts. When a
// failed call leaves the session dead, the gateway reports ConnectionLost
// for every later call instead of reconnecting.
//
// # Library Usage
//
//	g, err := sqlmcp.Open(ctx, sqlmcp.ConnectionConfig{
//		URL: "postgres://app@localhost:5432/app",
//	}, sqlmcp.Config{
//		Mode: sqlmcp.ModeReadOnly,
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close(ctx)
//
//	// Use directly
//	out, err := g.RunQuery(ctx, sqlmcp.RunQueryInput{SQL: "SELECT * FROM users LIMIT 10"})
//
//	// Or dispatch raw tool calls
//	resp := g.Dispatch(ctx, sqlmcp.ToolCall{Tool: "list_tables"})
//
//	// Or register as MCP tools
//	sqlmcp.RegisterMCPTools(mcpServer, g)
//
// # Responses
//
// Every tool call produces one envelope: {"ok":true,"data":...} or
// {"ok":false,"error":{"kind":...,"message":...}}. The kind is one of
// EmptyStatement, Rejected, NotFound, ExecutionError, Timeout,
// ConnectionLost, UnknownTool, InvalidArguments or InvalidRequest.
// Row values use a fixed representation: integers as numbers, dates as
// 2006-01-02, timestamps as RFC 3339, binary data as base64.
package sqlmcp
