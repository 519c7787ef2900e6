package sqlmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Base tool names, before any configured prefix.
const (
	ToolListTables    = "list_tables"
	ToolDescribeTable = "describe_table"
	ToolRunQuery      = "run_query"
)

// ToolName joins prefix and base with "_". An empty prefix leaves base as is.
func ToolName(prefix, base string) string {
	if prefix == "" {
		return base
	}
	return prefix + "_" + base
}

// ToolCall is one incoming request.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Tool is a parsed tool call: exactly one of ListTablesCall,
// DescribeTableCall or RunQueryCall.
type Tool interface {
	isTool()
}

type ListTablesCall struct{ Input ListTablesInput }
type DescribeTableCall struct{ Input DescribeTableInput }
type RunQueryCall struct{ Input RunQueryInput }

func (ListTablesCall) isTool()    {}
func (DescribeTableCall) isTool() {}
func (RunQueryCall) isTool()      {}

// ParseToolCall resolves call.Tool against the prefixed tool names and
// decodes its arguments. Failures are *ToolError with kind UnknownTool or
// InvalidArguments.
func ParseToolCall(prefix string, call ToolCall) (Tool, error) {
	switch call.Tool {
	case ToolName(prefix, ToolListTables):
		var args struct {
			Filter *string `json:"filter"`
		}
		if err := decodeArguments(call, &args); err != nil {
			return nil, err
		}
		return ListTablesCall{Input: ListTablesInput{Filter: args.Filter}}, nil

	case ToolName(prefix, ToolDescribeTable):
		var args struct {
			Name *string `json:"name"`
		}
		if err := decodeArguments(call, &args); err != nil {
			return nil, err
		}
		if args.Name == nil || strings.TrimSpace(*args.Name) == "" {
			return nil, newToolError(KindInvalidArguments, "%s: name parameter is required", call.Tool)
		}
		return DescribeTableCall{Input: DescribeTableInput{Name: *args.Name}}, nil

	case ToolName(prefix, ToolRunQuery):
		var args struct {
			SQL    *string `json:"sql"`
			Params []any   `json:"params"`
		}
		if err := decodeArguments(call, &args); err != nil {
			return nil, err
		}
		if args.SQL == nil {
			return nil, newToolError(KindInvalidArguments, "%s: sql parameter is required", call.Tool)
		}
		for i, p := range args.Params {
			args.Params[i] = decodeNumbers(p)
		}
		return RunQueryCall{Input: RunQueryInput{SQL: *args.SQL, Params: args.Params}}, nil

	default:
		return nil, newToolError(KindUnknownTool, "unknown tool %q: available tools are %s, %s and %s", call.Tool,
			ToolName(prefix, ToolListTables), ToolName(prefix, ToolDescribeTable), ToolName(prefix, ToolRunQuery))
	}
}

// decodeArguments decodes call.Arguments into dst, rejecting unknown
// fields and mistyped values.
func decodeArguments(call ToolCall, dst any) error {
	if len(call.Arguments) == 0 {
		return nil
	}
	b, err := json.Marshal(call.Arguments)
	if err != nil {
		return &ToolError{Kind: KindInvalidArguments, Message: fmt.Sprintf("%s: arguments are not valid JSON: %v", call.Tool, err), Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ToolError{Kind: KindInvalidArguments, Message: fmt.Sprintf("%s: invalid arguments: %v", call.Tool, err), Err: err}
	}
	return nil
}

// Dispatch parses and runs one tool call. It never panics and never fails:
// every outcome, including a panic in a driver, is a Response.
func (g *Gateway) Dispatch(ctx context.Context, call ToolCall) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			te := g.handleError("dispatch error", fmt.Errorf("internal error: %v", r))
			resp = errorResponse(te)
		}
	}()

	tool, err := ParseToolCall(g.config.ToolPrefix, call)
	if err != nil {
		return errorResponse(g.handleError("dispatch error", err))
	}
	return g.Run(ctx, tool)
}

// Run executes an already parsed tool.
func (g *Gateway) Run(ctx context.Context, tool Tool) *Response {
	var (
		data any
		err  error
	)
	switch t := tool.(type) {
	case ListTablesCall:
		data, err = g.ListTables(ctx, t.Input)
	case DescribeTableCall:
		data, err = g.DescribeTable(ctx, t.Input)
	case RunQueryCall:
		data, err = g.RunQuery(ctx, t.Input)
	default:
		err = g.handleError("dispatch error", newToolError(KindUnknownTool, "unsupported tool %T", tool))
	}
	if err != nil {
		var te *ToolError
		if !errors.As(err, &te) {
			te = g.handleError("dispatch error", err)
		}
		return errorResponse(te)
	}
	return okResponse(data)
}

// Encode serializes resp in the configured response format.
func (g *Gateway) Encode(resp *Response) ([]byte, error) {
	return EncodeResponse(resp, g.config.ResponseFormat)
}
