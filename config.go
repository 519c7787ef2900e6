package sqlmcp

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rickchristie/sql-mcp/internal/dialect"
	"github.com/rickchristie/sql-mcp/internal/guard"
)

// Mode is the process-wide write policy.
type Mode string

const (
	ModeReadOnly  Mode = "read_only"
	ModeReadWrite Mode = "read_write"
)

// Response formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Defaults applied to zero values by New.
const (
	DefaultQueryTimeoutSeconds         = 30
	DefaultListTablesTimeoutSeconds    = 10
	DefaultDescribeTableTimeoutSeconds = 10
	DefaultMaxRows                     = 1000
	DefaultMaxSQLLength                = 100000
	DefaultMaxResultLength             = 100000
)

// Config is the base configuration used by library mode via New().
type Config struct {
	// Mode defaults to read_only.
	Mode Mode `json:"mode" mapstructure:"mode"`
	// ToolPrefix is prepended to every tool name, joined with "_".
	ToolPrefix string `json:"tool_prefix" mapstructure:"tool_prefix"`
	// ResponseFormat is "json" (default) or "yaml".
	ResponseFormat string             `json:"response_format" mapstructure:"response_format"`
	Query          QueryConfig        `json:"query" mapstructure:"query"`
	ErrorPrompts   []ErrorPromptRule  `json:"error_prompts" mapstructure:"error_prompts"`
	Sanitization   []SanitizationRule `json:"sanitization" mapstructure:"sanitization"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config     `mapstructure:",squash"`
	Connection ConnectionConfig `json:"connection" mapstructure:"connection"`
	Transport  TransportConfig  `json:"transport" mapstructure:"transport"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// ConnectionConfig describes the one database the server talks to.
type ConnectionConfig struct {
	// Dialect is detected from URL when empty.
	Dialect string `json:"dialect" mapstructure:"dialect"`
	URL     string `json:"url" mapstructure:"url"`
	// KeychainKey names an OS keychain entry holding the password.
	KeychainKey string `json:"keychain_key" mapstructure:"keychain_key"`
}

// TransportConfig selects how tool calls reach the server.
type TransportConfig struct {
	Type               string `json:"type" mapstructure:"type"` // stdio, lines, http
	Port               int    `json:"port" mapstructure:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled" mapstructure:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path" mapstructure:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
	Output string `json:"output" mapstructure:"output"` // stderr, stdout, or file path
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	DefaultTimeoutSeconds       int           `json:"default_timeout_seconds" mapstructure:"default_timeout_seconds"`
	ListTablesTimeoutSeconds    int           `json:"list_tables_timeout_seconds" mapstructure:"list_tables_timeout_seconds"`
	DescribeTableTimeoutSeconds int           `json:"describe_table_timeout_seconds" mapstructure:"describe_table_timeout_seconds"`
	MaxRows                     int           `json:"max_rows" mapstructure:"max_rows"`
	MaxSQLLength                int           `json:"max_sql_length" mapstructure:"max_sql_length"`
	MaxResultLength             int           `json:"max_result_length" mapstructure:"max_result_length"`
	TimeoutRules                []TimeoutRule `json:"timeout_rules" mapstructure:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern" mapstructure:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ErrorPromptRule appends Message to errors matching Pattern and, when
// set, of the given Kind.
type ErrorPromptRule struct {
	Pattern string `json:"pattern" mapstructure:"pattern"`
	Kind    string `json:"kind" mapstructure:"kind"`
	Message string `json:"message" mapstructure:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Column      string `json:"column" mapstructure:"column"`
	Pattern     string `json:"pattern" mapstructure:"pattern"`
	Replacement string `json:"replacement" mapstructure:"replacement"`
	Description string `json:"description" mapstructure:"description"`
}

var toolPrefixRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validate reports the first problem that would make New panic.
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeReadOnly, ModeReadWrite:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeReadOnly, ModeReadWrite, c.Mode)
	}
	switch strings.ToLower(c.ResponseFormat) {
	case "", FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("response_format must be %q or %q, got %q", FormatJSON, FormatYAML, c.ResponseFormat)
	}
	if c.ToolPrefix != "" && !toolPrefixRe.MatchString(c.ToolPrefix) {
		return fmt.Errorf("tool_prefix %q must start with a letter and contain only letters, digits and underscores", c.ToolPrefix)
	}

	q := c.Query
	for _, f := range []struct {
		name  string
		value int
	}{
		{"query.default_timeout_seconds", q.DefaultTimeoutSeconds},
		{"query.list_tables_timeout_seconds", q.ListTablesTimeoutSeconds},
		{"query.describe_table_timeout_seconds", q.DescribeTableTimeoutSeconds},
		{"query.max_rows", q.MaxRows},
		{"query.max_sql_length", q.MaxSQLLength},
		{"query.max_result_length", q.MaxResultLength},
	} {
		if f.value < 0 {
			return fmt.Errorf("%s must be > 0", f.name)
		}
	}
	for _, rule := range q.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			return fmt.Errorf("timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("timeout_rule has invalid regex pattern %q: %v", rule.Pattern, err)
		}
	}
	for i, rule := range c.ErrorPrompts {
		if rule.Pattern == "" && rule.Kind == "" {
			return fmt.Errorf("error_prompts[%d] needs a pattern or a kind", i)
		}
		if rule.Kind != "" && !knownKind(ErrorKind(rule.Kind)) {
			return fmt.Errorf("error_prompts[%d] has unknown kind %q", i, rule.Kind)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("error_prompts[%d] has invalid regex pattern %q: %v", i, rule.Pattern, err)
		}
	}
	for i, rule := range c.Sanitization {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("sanitization[%d] has invalid regex pattern %q: %v", i, rule.Pattern, err)
		}
		if _, err := regexp.Compile(rule.Column); err != nil {
			return fmt.Errorf("sanitization[%d] has invalid column pattern %q: %v", i, rule.Column, err)
		}
	}
	return nil
}

// Validate checks the library config plus the connection and transport.
func (c ServerConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Connection.URL) == "" {
		return errors.New("connection.url is required")
	}
	if c.Connection.Dialect != "" {
		if _, err := dialect.ParseName(c.Connection.Dialect); err != nil {
			return err
		}
	} else if _, err := dialect.Detect(c.Connection.URL); err != nil {
		return err
	}
	switch c.Transport.Type {
	case "", "stdio", "lines":
	case "http":
		if c.Transport.Port <= 0 {
			return errors.New("transport.port must be > 0 for the http transport")
		}
		if c.Transport.HealthCheckEnabled && c.Transport.HealthCheckPath == "" {
			return errors.New("transport.health_check_path must be set when health_check_enabled is true")
		}
	default:
		return fmt.Errorf("transport.type must be stdio, lines or http, got %q", c.Transport.Type)
	}
	return nil
}

// DialectName returns the configured dialect, detecting it from the URL
// when none is set.
func (c ConnectionConfig) DialectName() (dialect.Name, error) {
	if c.Dialect != "" {
		return dialect.ParseName(c.Dialect)
	}
	return dialect.Detect(c.URL)
}

// withDefaults fills zero values with the package defaults.
func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeReadOnly
	}
	c.ResponseFormat = strings.ToLower(c.ResponseFormat)
	if c.ResponseFormat == "" {
		c.ResponseFormat = FormatJSON
	}
	q := &c.Query
	if q.DefaultTimeoutSeconds == 0 {
		q.DefaultTimeoutSeconds = DefaultQueryTimeoutSeconds
	}
	if q.ListTablesTimeoutSeconds == 0 {
		q.ListTablesTimeoutSeconds = DefaultListTablesTimeoutSeconds
	}
	if q.DescribeTableTimeoutSeconds == 0 {
		q.DescribeTableTimeoutSeconds = DefaultDescribeTableTimeoutSeconds
	}
	if q.MaxRows == 0 {
		q.MaxRows = DefaultMaxRows
	}
	if q.MaxSQLLength == 0 {
		q.MaxSQLLength = DefaultMaxSQLLength
	}
	if q.MaxResultLength == 0 {
		q.MaxResultLength = DefaultMaxResultLength
	}
	return c
}

func (m Mode) guardMode() guard.Mode {
	if m == ModeReadWrite {
		return guard.ReadWrite
	}
	return guard.ReadOnly
}
