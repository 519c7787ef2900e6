package sqlmcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	sqlmcp "github.com/rickchristie/sql-mcp"
)

func serveLines(t *testing.T, g *sqlmcp.Gateway, input string) []*sqlmcp.Response {
	t.Helper()
	var out bytes.Buffer
	if err := g.ServeLines(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("ServeLines: %v", err)
	}
	var resps []*sqlmcp.Response
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		resp, err := sqlmcp.DecodeResponse([]byte(line))
		if err != nil {
			t.Fatalf("response line %q is not valid: %v", line, err)
		}
		resps = append(resps, resp)
	}
	return resps
}

func TestServeLines(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, defaultConfig())

	input := strings.Join([]string{
		`{"tool":"list_tables","arguments":{"filter":"set"}}`,
		``,
		`{"tool":"run_query","arguments":{"sql":"SELECT value FROM settings WHERE key = ?","params":["theme"]}}`,
		`not json`,
		`{"arguments":{}}`,
		`{"tool":"run_query","arguments":{"sql":"DROP TABLE users"}}`,
		`{"tool":"describe_table","arguments":{"name":"settings"}}`,
	}, "\n")

	resps := serveLines(t, g, input)
	if len(resps) != 6 {
		t.Fatalf("expected 6 responses (blank line skipped), got %d", len(resps))
	}

	var tables []string
	if err := json.Unmarshal(resps[0].Data.(json.RawMessage), &tables); err != nil {
		t.Fatalf("list_tables data: %v", err)
	}
	if len(tables) != 1 || tables[0] != "settings" {
		t.Fatalf("unexpected tables %v", tables)
	}

	out, err := sqlmcp.DecodeQueryOutput(resps[1].Data.(json.RawMessage))
	if err != nil {
		t.Fatalf("run_query data: %v", err)
	}
	if len(out.Rows) != 1 || out.Rows[0][0] != "dark" {
		t.Fatalf("unexpected rows %v", out.Rows)
	}

	for i, kind := range map[int]sqlmcp.ErrorKind{
		2: sqlmcp.KindInvalidRequest,
		3: sqlmcp.KindInvalidRequest,
		4: sqlmcp.KindRejected,
	} {
		if resps[i].OK || resps[i].Error == nil || resps[i].Error.Kind != kind {
			t.Fatalf("response %d: expected %s, got %+v", i, kind, resps[i])
		}
	}

	var desc sqlmcp.TableDescriptor
	if err := json.Unmarshal(resps[5].Data.(json.RawMessage), &desc); err != nil {
		t.Fatalf("describe_table data: %v", err)
	}
	if desc.Name != "settings" || len(desc.Columns) != 2 || desc.Columns[0].Key != "primary" {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
}

func TestServeLines_AlwaysJSON(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.ResponseFormat = sqlmcp.FormatYAML
	g := newTestGateway(t, config)

	resps := serveLines(t, g, `{"tool":"run_query","arguments":{"sql":"SELECT 1 AS one"}}`+"\n")
	if len(resps) != 1 || !resps[0].OK {
		t.Fatalf("expected one OK JSON response, got %+v", resps)
	}
}

func TestServeLines_MultilineSQLStaysOnOneLine(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, defaultConfig())

	var out bytes.Buffer
	in := `{"tool":"run_query","arguments":{"sql":"SELECT\n  name\nFROM users\nWHERE id = 1"}}` + "\n"
	if err := g.ServeLines(context.Background(), strings.NewReader(in), &out); err != nil {
		t.Fatalf("ServeLines: %v", err)
	}
	if strings.Count(out.String(), "\n") != 1 {
		t.Fatalf("expected exactly one response line, got %q", out.String())
	}
}

func TestServeLines_ContextCancelled(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, defaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := g.ServeLines(ctx, strings.NewReader(`{"tool":"list_tables"}`+"\n"), &out)
	if err == nil {
		t.Fatal("expected context error")
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output after cancel, got %q", out.String())
	}
}

func TestServeLines_OversizedLineKeepsServing(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, defaultConfig())

	huge := `{"tool":"run_query","arguments":{"sql":"SELECT '` + strings.Repeat("x", 17<<20) + `'"}}`
	input := huge + "\n" + `{"tool":"list_tables","arguments":{"filter":"set"}}` + "\n"

	resps := serveLines(t, g, input)
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resps))
	}
	if resps[0].OK || resps[0].Error == nil || resps[0].Error.Kind != sqlmcp.KindInvalidRequest {
		t.Fatalf("expected InvalidRequest for the oversized line, got %+v", resps[0])
	}
	if !strings.Contains(resps[0].Error.Message, "exceeds the limit") {
		t.Fatalf("unexpected message %q", resps[0].Error.Message)
	}
	if !resps[1].OK || string(resps[1].Data.(json.RawMessage)) != `["settings"]` {
		t.Fatalf("expected list_tables to be served after the oversized line, got %+v", resps[1])
	}
}

func TestServeLines_LastLineWithoutNewline(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t, defaultConfig())

	resps := serveLines(t, g, `{"tool":"list_tables","arguments":{"filter":"ord"}}`)
	if len(resps) != 1 || !resps[0].OK || string(resps[0].Data.(json.RawMessage)) != `["orders"]` {
		t.Fatalf("expected one list_tables response, got %+v", resps)
	}
}
