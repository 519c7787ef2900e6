package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	sqlmcp "github.com/rickchristie/sql-mcp"
)

// resolveConfigPath returns the --config flag, or GOSQLMCP_CONFIG_PATH when
// the flag was left at its default. The bool reports whether the user asked
// for this file explicitly.
func resolveConfigPath(cmd *cobra.Command) (string, bool) {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return configPath, true
	}
	if env := os.Getenv("GOSQLMCP_CONFIG_PATH"); env != "" {
		return env, true
	}
	return configPath, false
}

// loadServerConfig reads the config file (YAML or JSON, by extension) and
// overlays environment variables. A missing file is only an error when it
// was requested explicitly; otherwise the env alone can configure a server.
func loadServerConfig(path string, explicit bool) (*sqlmcp.ServerConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GOSQLMCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Variable names understood by earlier sql_tool deployments.
	_ = v.BindEnv("connection.url", "GOSQLMCP_CONNECTION_URL", "DB_URL")
	_ = v.BindEnv("tool_prefix", "GOSQLMCP_TOOL_PREFIX", "PREFIX")
	_ = v.BindEnv("query.max_result_length", "GOSQLMCP_QUERY_MAX_RESULT_LENGTH", "EXECUTE_QUERY_MAX_CHARS")

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var config sqlmcp.ServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// the file does not mention.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(sqlmcp.ModeReadOnly))
	v.SetDefault("tool_prefix", "")
	v.SetDefault("response_format", sqlmcp.FormatJSON)

	v.SetDefault("connection.dialect", "")
	v.SetDefault("connection.url", "")
	v.SetDefault("connection.keychain_key", "")

	v.SetDefault("transport.type", "stdio")
	v.SetDefault("transport.port", 8080)
	v.SetDefault("transport.health_check_enabled", false)
	v.SetDefault("transport.health_check_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("query.default_timeout_seconds", sqlmcp.DefaultQueryTimeoutSeconds)
	v.SetDefault("query.list_tables_timeout_seconds", sqlmcp.DefaultListTablesTimeoutSeconds)
	v.SetDefault("query.describe_table_timeout_seconds", sqlmcp.DefaultDescribeTableTimeoutSeconds)
	v.SetDefault("query.max_rows", sqlmcp.DefaultMaxRows)
	v.SetDefault("query.max_sql_length", sqlmcp.DefaultMaxSQLLength)
	v.SetDefault("query.max_result_length", sqlmcp.DefaultMaxResultLength)
}

// injectPassword sets the password of a URL-style connection string.
func injectPassword(rawURL, password string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection.url: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", errors.New("connection.url has no user name to attach the keychain password to")
	}
	u.User = url.UserPassword(u.User.Username(), password)
	return u.String(), nil
}

// maskPassword replaces the password in a connection URL with asterisks.
func maskPassword(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "***")
	return u.String()
}

// resolveConnection returns conn with the keychain password, if any,
// injected into the URL.
func resolveConnection(conn sqlmcp.ConnectionConfig, secret func(key string) (string, error)) (sqlmcp.ConnectionConfig, error) {
	if conn.KeychainKey == "" {
		return conn, nil
	}
	password, err := secret(conn.KeychainKey)
	if err != nil {
		return conn, fmt.Errorf("failed to read password for keychain key %q: %w", conn.KeychainKey, err)
	}
	conn.URL, err = injectPassword(conn.URL, password)
	if err != nil {
		return conn, err
	}
	return conn, nil
}
