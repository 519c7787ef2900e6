package configure

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sqlmcp "github.com/rickchristie/sql-mcp"
)

// allEnterInputs returns enough empty lines to accept defaults for every prompt
// in the wizard with a non-http transport. Each empty line means "accept
// current/default value".
//
// Prompt index map:
//
//	0-2:   connection (url, dialect, keychain_key)
//	3:     transport.type
//	4-6:   logging (level, format, output)
//	7-9:   general (mode, tool_prefix, response_format)
//	10-15: query (default_timeout, list_tables_timeout, describe_table_timeout, max_rows, max_sql_length, max_result_length)
//	16-18: array editors (timeout_rules, error_prompts, sanitization)
func allEnterInputs(overrides map[int]string) string {
	lines := make([]string, 19)
	lines[16] = "c"
	lines[17] = "c"
	lines[18] = "c"
	for k, v := range overrides {
		lines[k] = v
	}
	return strings.Join(lines, "\n") + "\n"
}

func runWizard(t *testing.T, configPath, input string) string {
	t.Helper()
	var output bytes.Buffer
	if err := run(configPath, strings.NewReader(input), &output); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
	return output.String()
}

func TestRun_NewConfig_Defaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, ".gosqlmcp", "config.yaml")

	out := runWizard(t, configPath, allEnterInputs(map[int]string{0: "postgres://app@localhost:5432/app"}))

	if strings.Contains(out, "(current:") {
		t.Errorf("new config should use 'default' label, output:\n%s", out)
	}
	for _, want := range []string{`(default: "stdio"`, `(default: "read_only"`, "(default: 1000)", `(default: "stderr")`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output", want)
		}
	}
	if strings.Contains(out, "transport.port") {
		t.Errorf("stdio transport should not prompt for a port")
	}

	cfg, isNew := loadExisting(configPath)
	if isNew {
		t.Fatal("expected config file to exist")
	}
	if cfg.Connection.URL != "postgres://app@localhost:5432/app" {
		t.Fatalf("unexpected url %q", cfg.Connection.URL)
	}
	if cfg.Mode != sqlmcp.ModeReadOnly || cfg.Transport.Type != "stdio" || cfg.Query.MaxRows != 1000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("written config does not validate: %v", err)
	}
}

func TestRun_WritesYAMLKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	runWizard(t, configPath, allEnterInputs(map[int]string{0: "sqlite:///tmp/app.db", 8: "sql_tool"}))

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	content := string(data)
	for _, want := range []string{"mode: read_only", "tool_prefix: sql_tool", "connection:", "url: sqlite:///tmp/app.db", "max_rows: 1000"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q in written YAML:\n%s", want, content)
		}
	}
	if strings.Contains(content, "{") {
		t.Errorf("expected block YAML, got:\n%s", content)
	}
}

func TestRun_ExistingConfig_PreservesValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	existing := `mode: read_write
tool_prefix: db
response_format: yaml
connection:
  url: mysql://app@localhost:3306/app
  keychain_key: prod
transport:
  type: lines
logging:
  level: debug
  format: text
  output: /tmp/gosqlmcp.log
query:
  default_timeout_seconds: 45
  list_tables_timeout_seconds: 5
  describe_table_timeout_seconds: 5
  max_rows: 200
  max_sql_length: 5000
  max_result_length: 9000
  timeout_rules:
    - pattern: "(?i)report"
      timeout_seconds: 120
`
	if err := os.WriteFile(configPath, []byte(existing), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	out := runWizard(t, configPath, allEnterInputs(nil))
	if !strings.Contains(out, `(current: "read_write"`) {
		t.Errorf("expected current mode in output:\n%s", out)
	}

	cfg, _ := loadExisting(configPath)
	if cfg.Mode != sqlmcp.ModeReadWrite || cfg.ToolPrefix != "db" || cfg.ResponseFormat != "yaml" {
		t.Fatalf("general fields not preserved: %+v", cfg.Config)
	}
	if cfg.Connection.KeychainKey != "prod" || cfg.Transport.Type != "lines" || cfg.Logging.Output != "/tmp/gosqlmcp.log" {
		t.Fatalf("server fields not preserved: %+v", cfg)
	}
	if cfg.Query.DefaultTimeoutSeconds != 45 || cfg.Query.MaxRows != 200 {
		t.Fatalf("query fields not preserved: %+v", cfg.Query)
	}
	if len(cfg.Query.TimeoutRules) != 1 || cfg.Query.TimeoutRules[0].TimeoutSeconds != 120 {
		t.Fatalf("timeout rules not preserved: %+v", cfg.Query.TimeoutRules)
	}
}

func TestRun_HTTPTransportPrompts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	// Selecting http inserts three prompts after transport.type.
	lines := []string{
		"postgres://app@localhost/app", "", "",
		"http", "9090", "yes", "/healthz",
		"", "", "",
		"", "", "",
		"", "", "", "", "", "",
		"c", "c", "c",
	}
	runWizard(t, configPath, strings.Join(lines, "\n")+"\n")

	cfg, _ := loadExisting(configPath)
	if cfg.Transport.Type != "http" || cfg.Transport.Port != 9090 || !cfg.Transport.HealthCheckEnabled || cfg.Transport.HealthCheckPath != "/healthz" {
		t.Fatalf("unexpected transport %+v", cfg.Transport)
	}
}

func TestRun_InvalidInputsRetry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	lines := []string{
		"postgres://app@localhost/app", "oracle", "", "",
		"", "", "", "",
		"readonly", "read_write", "1bad", "ok_prefix", "",
		"-1", "abc", "60", "", "", "", "", "",
		"c", "c", "c",
	}
	out := runWizard(t, configPath, strings.Join(lines, "\n")+"\n")

	for _, want := range []string{`Invalid value "oracle"`, `Invalid value "readonly"`, `Invalid prefix "1bad"`, "Value must be > 0", `Invalid integer "abc"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}

	cfg, _ := loadExisting(configPath)
	if cfg.Mode != sqlmcp.ModeReadWrite || cfg.ToolPrefix != "ok_prefix" || cfg.Query.DefaultTimeoutSeconds != 60 {
		t.Fatalf("unexpected config %+v", cfg.Config)
	}
}

func TestRun_ArrayEditors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	lines := []string{
		"sqlite:///tmp/x.db", "", "", "",
		"", "", "",
		"", "", "",
		"", "", "", "", "", "",
		// timeout rules: add one, remove a bad index, continue
		"a", "(?i)pg_sleep", "0", "5", "r", "7", "c",
		// error prompts: empty entry is discarded, then a kind-only entry
		"a", "", "", "a", "", "Timeout", "Add a LIMIT clause.", "c",
		// sanitization: add, then remove it again, then add another
		"a", "^email$", "[^@]+@", "***@", "mask emails", "r", "0",
		"a", "", `\d{16}`, "[CARD]", "", "c",
	}
	out := runWizard(t, configPath, strings.Join(lines, "\n")+"\n")

	if !strings.Contains(out, "A pattern or a kind is required") {
		t.Errorf("expected empty error prompt to be discarded")
	}
	if !strings.Contains(out, "Invalid index.") {
		t.Errorf("expected invalid index message")
	}

	cfg, _ := loadExisting(configPath)
	if len(cfg.Query.TimeoutRules) != 1 || cfg.Query.TimeoutRules[0].TimeoutSeconds != 5 {
		t.Fatalf("unexpected timeout rules %+v", cfg.Query.TimeoutRules)
	}
	if len(cfg.ErrorPrompts) != 1 || cfg.ErrorPrompts[0].Kind != "Timeout" || cfg.ErrorPrompts[0].Pattern != "" {
		t.Fatalf("unexpected error prompts %+v", cfg.ErrorPrompts)
	}
	if len(cfg.Sanitization) != 1 || cfg.Sanitization[0].Replacement != "[CARD]" || cfg.Sanitization[0].Column != "" {
		t.Fatalf("unexpected sanitization %+v", cfg.Sanitization)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("written config does not validate: %v", err)
	}
}
