package configure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	sqlmcp "github.com/rickchristie/sql-mcp"
)

// Run runs the interactive configuration wizard.
// Reads existing config (if any), prompts for each field,
// writes updated config to the given path as YAML.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	cfg, isNew := loadExisting(configPath)
	if isNew {
		applyDefaults(cfg)
	}

	p := &prompter{
		scanner: scanner,
		output:  output,
		isNew:   isNew,
	}

	fmt.Fprintf(output, "gosqlmcp configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n\n", configPath)

	// Connection
	fmt.Fprintf(output, "=== Connection ===\n")
	cfg.Connection.URL = p.promptStringWithHint("connection.url", cfg.Connection.URL,
		"postgres://, mysql://, sqlserver:// or sqlite://, leave the password out")
	cfg.Connection.Dialect = p.promptOptionalEnum("connection.dialect", cfg.Connection.Dialect, dialects)
	cfg.Connection.KeychainKey = p.promptStringWithHint("connection.keychain_key", cfg.Connection.KeychainKey,
		"OS keychain entry holding the password, set with 'gosqlmcp keychain set'")

	// Transport
	fmt.Fprintf(output, "\n=== Transport ===\n")
	cfg.Transport.Type = p.promptEnum("transport.type", cfg.Transport.Type, transports)
	if cfg.Transport.Type == "http" {
		cfg.Transport.Port = p.promptPositiveInt("transport.port", cfg.Transport.Port, "must be > 0")
		cfg.Transport.HealthCheckEnabled = p.promptBool("transport.health_check_enabled", cfg.Transport.HealthCheckEnabled)
		cfg.Transport.HealthCheckPath = p.promptStringWithHint("transport.health_check_path", cfg.Transport.HealthCheckPath,
			"e.g. /healthz, required when health_check_enabled is true")
	}

	// Logging
	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.promptEnum("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.promptEnum("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.promptStringWithHint("logging.output", cfg.Logging.Output, "stderr or file path")

	// General
	fmt.Fprintf(output, "\n=== General ===\n")
	cfg.Mode = sqlmcp.Mode(p.promptEnum("mode", string(cfg.Mode), modes))
	cfg.ToolPrefix = p.promptToolPrefix(cfg.ToolPrefix)
	cfg.ResponseFormat = p.promptEnum("response_format", cfg.ResponseFormat, formats)

	// Query
	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.Query.DefaultTimeoutSeconds = p.promptPositiveInt("query.default_timeout_seconds", cfg.Query.DefaultTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.ListTablesTimeoutSeconds = p.promptPositiveInt("query.list_tables_timeout_seconds", cfg.Query.ListTablesTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.DescribeTableTimeoutSeconds = p.promptPositiveInt("query.describe_table_timeout_seconds", cfg.Query.DescribeTableTimeoutSeconds, "seconds, must be > 0")
	cfg.Query.MaxRows = p.promptPositiveInt("query.max_rows", cfg.Query.MaxRows, "rows, must be > 0")
	cfg.Query.MaxSQLLength = p.promptPositiveInt("query.max_sql_length", cfg.Query.MaxSQLLength, "characters, must be > 0")
	cfg.Query.MaxResultLength = p.promptPositiveInt("query.max_result_length", cfg.Query.MaxResultLength, "characters, must be > 0")

	// Array fields
	fmt.Fprintf(output, "\n=== Timeout Rules ===\n")
	cfg.Query.TimeoutRules = p.promptTimeoutRules(cfg.Query.TimeoutRules)

	fmt.Fprintf(output, "\n=== Error Prompts ===\n")
	cfg.ErrorPrompts = p.promptErrorPrompts(cfg.ErrorPrompts)

	fmt.Fprintf(output, "\n=== Sanitization Rules ===\n")
	cfg.Sanitization = p.promptSanitizationRules(cfg.Sanitization)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(output, "\nWarning: %v\n", err)
	}

	// Write config
	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

// loadExisting reads a YAML config. The document is bridged through JSON
// so the config's json tags decide the key names.
func loadExisting(configPath string) (*sqlmcp.ServerConfig, bool) {
	cfg := &sqlmcp.ServerConfig{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, true
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return cfg, false
	}
	if b, err := json.Marshal(doc); err == nil {
		// Ignore unmarshal errors, start with whatever was parseable.
		_ = json.Unmarshal(b, cfg)
	}
	return cfg, false
}

// applyDefaults sets sensible default values for a new configuration.
func applyDefaults(cfg *sqlmcp.ServerConfig) {
	cfg.Mode = sqlmcp.ModeReadOnly
	cfg.ResponseFormat = sqlmcp.FormatJSON
	cfg.Transport.Type = "stdio"
	cfg.Transport.Port = 8080
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
	cfg.Query.DefaultTimeoutSeconds = sqlmcp.DefaultQueryTimeoutSeconds
	cfg.Query.ListTablesTimeoutSeconds = sqlmcp.DefaultListTablesTimeoutSeconds
	cfg.Query.DescribeTableTimeoutSeconds = sqlmcp.DefaultDescribeTableTimeoutSeconds
	cfg.Query.MaxRows = sqlmcp.DefaultMaxRows
	cfg.Query.MaxSQLLength = sqlmcp.DefaultMaxSQLLength
	cfg.Query.MaxResultLength = sqlmcp.DefaultMaxResultLength
}

var (
	dialects   = []string{"postgres", "mysql", "sqlserver", "sqlite"}
	transports = []string{"stdio", "lines", "http"}
	modes      = []string{string(sqlmcp.ModeReadOnly), string(sqlmcp.ModeReadWrite)}
	formats    = []string{sqlmcp.FormatJSON, sqlmcp.FormatYAML}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
	errorKinds = []string{
		string(sqlmcp.KindEmptyStatement), string(sqlmcp.KindRejected), string(sqlmcp.KindNotFound),
		string(sqlmcp.KindExecutionError), string(sqlmcp.KindTimeout), string(sqlmcp.KindConnectionLost),
		string(sqlmcp.KindUnknownTool), string(sqlmcp.KindInvalidArguments), string(sqlmcp.KindInvalidRequest),
	}
	toolPrefixRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// writeConfig writes cfg as YAML, keeping the json tag names and the
// struct field order.
func writeConfig(configPath string, cfg *sqlmcp.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	b, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return fmt.Errorf("failed to convert config: %w", err)
	}
	clearStyle(&node)
	data, err := yaml.Marshal(&node)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}

	return nil
}

// clearStyle drops the flow style inherited from the JSON source so the
// output is block YAML.
func clearStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		n.Style &^= yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		clearStyle(c)
	}
}

// prompter handles reading user input and displaying prompts.
type prompter struct {
	scanner *bufio.Scanner
	output  io.Writer
	isNew   bool
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

func (p *prompter) promptStringWithHint(field string, current string, hint string) string {
	fmt.Fprintf(p.output, "%s [%s] (%s: %q): ", field, hint, p.valueLabel(), current)
	input := p.readLine()
	if input == "" {
		return current
	}
	return input
}

func (p *prompter) promptPositiveInt(field string, current int, hint string) int {
	for {
		fmt.Fprintf(p.output, "%s [%s] (%s: %d): ", field, hint, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val <= 0 {
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		return val
	}
}

func (p *prompter) promptBool(field string, current bool) bool {
	for {
		fmt.Fprintf(p.output, "%s (%s: %v): ", field, p.valueLabel(), current)
		input := p.readLine()
		if input == "" {
			return current
		}
		switch strings.ToLower(input) {
		case "true", "t", "yes", "y", "1":
			return true
		case "false", "f", "no", "n", "0":
			return false
		default:
			fmt.Fprintf(p.output, "  Invalid value %q, use true/false/yes/no, try again.\n", input)
		}
	}
}

func (p *prompter) promptEnum(field string, current string, allowed []string) string {
	for {
		fmt.Fprintf(p.output, "%s (%s: %q, options: %s): ", field, p.valueLabel(), current, strings.Join(allowed, ", "))
		input := p.readLine()
		if input == "" {
			return current
		}
		for _, v := range allowed {
			if input == v {
				return input
			}
		}
		fmt.Fprintf(p.output, "  Invalid value %q, must be one of: %s\n", input, strings.Join(allowed, ", "))
	}
}

// promptOptionalEnum is promptEnum where "-" clears the value.
func (p *prompter) promptOptionalEnum(field string, current string, allowed []string) string {
	for {
		fmt.Fprintf(p.output, "%s [empty = detect from url, - to clear] (%s: %q, options: %s): ",
			field, p.valueLabel(), current, strings.Join(allowed, ", "))
		input := p.readLine()
		switch input {
		case "":
			return current
		case "-":
			return ""
		}
		for _, v := range allowed {
			if input == v {
				return input
			}
		}
		fmt.Fprintf(p.output, "  Invalid value %q, must be one of: %s\n", input, strings.Join(allowed, ", "))
	}
}

func (p *prompter) promptToolPrefix(current string) string {
	for {
		fmt.Fprintf(p.output, "tool_prefix [letters, digits, underscores, - to clear] (%s: %q): ", p.valueLabel(), current)
		input := p.readLine()
		switch input {
		case "":
			return current
		case "-":
			return ""
		}
		if !toolPrefixRe.MatchString(input) {
			fmt.Fprintf(p.output, "  Invalid prefix %q, try again.\n", input)
			continue
		}
		return input
	}
}

// Array field editors

func (p *prompter) promptTimeoutRules(current []sqlmcp.TimeoutRule) []sqlmcp.TimeoutRule {
	rules := current
	for {
		p.displayTimeoutRules(rules)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			pattern := p.promptNewRegexField("pattern")
			timeout := p.promptNewPositiveIntField("timeout_seconds")
			rules = append(rules, sqlmcp.TimeoutRule{
				Pattern:        pattern,
				TimeoutSeconds: timeout,
			})
		case "r":
			rules = removeByIndex(p, "timeout rule", rules)
		case "c", "":
			return rules
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displayTimeoutRules(rules []sqlmcp.TimeoutRule) {
	if len(rules) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(p.output, "  [%d] pattern=%q timeout_seconds=%d\n", i, r.Pattern, r.TimeoutSeconds)
	}
}

func (p *prompter) promptErrorPrompts(current []sqlmcp.ErrorPromptRule) []sqlmcp.ErrorPromptRule {
	rules := current
	for {
		p.displayErrorPrompts(rules)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			pattern := p.promptNewRegexField("pattern")
			kind := p.promptNewKindField()
			if pattern == "" && kind == "" {
				fmt.Fprintf(p.output, "  A pattern or a kind is required, entry discarded.\n")
				continue
			}
			message := p.promptNewField("message")
			rules = append(rules, sqlmcp.ErrorPromptRule{
				Pattern: pattern,
				Kind:    kind,
				Message: message,
			})
		case "r":
			rules = removeByIndex(p, "error prompt", rules)
		case "c", "":
			return rules
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displayErrorPrompts(rules []sqlmcp.ErrorPromptRule) {
	if len(rules) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(p.output, "  [%d] pattern=%q kind=%q message=%q\n", i, r.Pattern, r.Kind, r.Message)
	}
}

func (p *prompter) promptSanitizationRules(current []sqlmcp.SanitizationRule) []sqlmcp.SanitizationRule {
	rules := current
	for {
		p.displaySanitizationRules(rules)
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		choice := strings.ToLower(p.readLine())
		switch choice {
		case "a":
			column := p.promptNewRegexField("column")
			pattern := p.promptNewRegexField("pattern")
			replacement := p.promptNewField("replacement")
			description := p.promptNewField("description")
			rules = append(rules, sqlmcp.SanitizationRule{
				Column:      column,
				Pattern:     pattern,
				Replacement: replacement,
				Description: description,
			})
		case "r":
			rules = removeByIndex(p, "sanitization rule", rules)
		case "c", "":
			return rules
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) displaySanitizationRules(rules []sqlmcp.SanitizationRule) {
	if len(rules) == 0 {
		fmt.Fprintf(p.output, "  (no entries)\n")
		return
	}
	for i, r := range rules {
		fmt.Fprintf(p.output, "  [%d] column=%q pattern=%q replacement=%q description=%q\n",
			i, r.Column, r.Pattern, r.Replacement, r.Description)
	}
}

func (p *prompter) promptNewField(name string) string {
	fmt.Fprintf(p.output, "  %s: ", name)
	return p.readLine()
}

func (p *prompter) promptNewRegexField(name string) string {
	for {
		fmt.Fprintf(p.output, "  %s (regex): ", name)
		input := p.readLine()
		if input == "" {
			return ""
		}
		if _, err := regexp.Compile(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid regex %q: %v, try again.\n", input, err)
			continue
		}
		return input
	}
}

func (p *prompter) promptNewKindField() string {
	for {
		fmt.Fprintf(p.output, "  kind (empty = any, options: %s): ", strings.Join(errorKinds, ", "))
		input := p.readLine()
		if input == "" {
			return ""
		}
		for _, k := range errorKinds {
			if input == k {
				return input
			}
		}
		fmt.Fprintf(p.output, "  Invalid kind %q, try again.\n", input)
	}
}

func (p *prompter) promptNewPositiveIntField(name string) int {
	for {
		fmt.Fprintf(p.output, "  %s (must be > 0): ", name)
		input := p.readLine()
		if input == "" {
			fmt.Fprintf(p.output, "  Value is required and must be > 0, try again.\n")
			continue
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val <= 0 {
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		return val
	}
}

// removeByIndex is a generic helper for removing an element by index from a slice.
func removeByIndex[T any](p *prompter, label string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", label)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	input := p.readLine()
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return append(items[:idx], items[idx+1:]...)
}
