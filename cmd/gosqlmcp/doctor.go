package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	sqlmcp "github.com/rickchristie/sql-mcp"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the configuration and print agent connection snippets",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := resolveConfigPath(cmd)
		useColor := isTTY(os.Stderr.Fd())
		return doctor(os.Stderr, useColor, path)
	},
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "gosqlmcp %s\n\n", Version)

	// Load and validate config
	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'gosqlmcp doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printConnection(w, useColor, config)

	// Print agent connection snippets
	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config, configPath)
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check results.
// Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*sqlmcp.ServerConfig, bool) {
	allPassed := true

	// Check 1: Config file exists and parses
	if _, err := os.Stat(configPath); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))

	config, err := loadServerConfig(configPath, true)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file is valid: %v", err))
		return nil, false
	}
	printCheck(w, useColor, true, "Config file is valid")

	// Check 2: connection.url is set and names a known dialect
	if config.Connection.URL == "" {
		printCheck(w, useColor, false, "connection.url is set")
		allPassed = false
	} else {
		printCheck(w, useColor, true, "connection.url is set")
		if name, err := config.Connection.DialectName(); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("Dialect resolved: %v", err))
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("Dialect resolved (%s)", name))
		}
	}

	// Check 3: http transport settings
	if config.Transport.Type == "http" {
		if config.Transport.Port <= 0 {
			printCheck(w, useColor, false, "transport.port is > 0")
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("transport.port is > 0 (%d)", config.Transport.Port))
		}
		if config.Transport.HealthCheckEnabled {
			if config.Transport.HealthCheckPath == "" {
				printCheck(w, useColor, false, "health_check_path is set (required when health_check_enabled)")
				allPassed = false
			} else {
				printCheck(w, useColor, true, fmt.Sprintf("health_check_path is set (%s)", config.Transport.HealthCheckPath))
			}
		}
	}

	// Check 4: Regex patterns compile
	regexOK := true

	for i, rule := range config.ErrorPrompts {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("error_prompts[%d] regex compiles: %v", i, err))
			regexOK = false
		}
	}

	for i, rule := range config.Sanitization {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("sanitization[%d] regex compiles: %v", i, err))
			regexOK = false
		}
		if _, err := regexp.Compile(rule.Column); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("sanitization[%d] column regex compiles: %v", i, err))
			regexOK = false
		}
	}

	for i, rule := range config.Query.TimeoutRules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("timeout_rules[%d] regex compiles: %v", i, err))
			regexOK = false
		}
	}

	if !regexOK || !allPassed {
		return config, false
	}
	printCheck(w, useColor, true, "All regex patterns compile")

	// Check 5: everything else the server would refuse at startup
	if err := config.Validate(); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config values are valid: %v", err))
		return config, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config values are valid (mode %s)", modeLabel(config.Mode)))

	// Check 6: keychain entry is readable
	if config.Connection.KeychainKey != "" {
		if _, err := keychainSecret(config.Connection.KeychainKey); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("Keychain entry %q readable: %v", config.Connection.KeychainKey, err))
			return config, false
		}
		printCheck(w, useColor, true, fmt.Sprintf("Keychain entry %q readable", config.Connection.KeychainKey))
	}

	return config, true
}

func modeLabel(m sqlmcp.Mode) string {
	if m == "" {
		return string(sqlmcp.ModeReadOnly)
	}
	return string(m)
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	if pass {
		if useColor {
			fmt.Fprintf(w, "  \033[32m✓\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✓ %s\n", msg)
		}
	} else {
		if useColor {
			fmt.Fprintf(w, "  \033[31m✗\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✗ %s\n", msg)
		}
	}
}

// printConnection shows the connection URL with its password masked.
func printConnection(w io.Writer, useColor bool, config *sqlmcp.ServerConfig) {
	masked := maskPassword(config.Connection.URL)
	if !useColor {
		fmt.Fprintf(w, "Database Connection: %s\n", masked)
		return
	}
	fmt.Fprintln(w, pterm.DefaultBox.
		WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Database Connection")).
		WithPadding(1).
		Sprint(masked))
}

// printAgentSnippets prints MCP connection config snippets for various AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config *sqlmcp.ServerConfig, configPath string) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}

	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	switch config.Transport.Type {
	case "http":
		printHTTPSnippets(w, subheading, fmt.Sprintf("http://localhost:%d/mcp", config.Transport.Port))
	case "lines":
		fmt.Fprintf(w, "  The lines transport is not MCP. Send one JSON request per line, e.g.:\n\n")
		fmt.Fprintf(w, "    echo '{\"tool\":\"%s\",\"arguments\":{}}' | gosqlmcp serve --config %s\n",
			sqlmcp.ToolName(config.ToolPrefix, "list_tables"), configPath)
	default:
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		printStdioSnippets(w, subheading, configPath)
	}
}

func printHTTPSnippets(w io.Writer, subheading func(string), url string) {
	// Claude Code
	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport http sql %s\n\n", url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sql": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Copilot CLI
	subheading("Copilot CLI (~/.copilot/mcp-config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sql": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Gemini CLI
	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sql": {
        "httpUrl": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// OpenCode
	subheading("OpenCode (opencode.json)")
	fmt.Fprintf(w, `  {
    "mcp": {
      "sql": {
        "type": "remote",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Cursor
	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sql": {
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Windsurf
	subheading("Windsurf (~/.codeium/windsurf/mcp_config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sql": {
        "serverUrl": "%s"
      }
    }
  }
`, url)
}

func printStdioSnippets(w io.Writer, subheading func(string), configPath string) {
	// Claude Code
	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add sql -- gosqlmcp serve --config %s\n\n", configPath)

	// Claude Desktop, Cursor, Windsurf and Copilot share this shape
	subheading("Claude Desktop, Cursor, Windsurf, Copilot CLI")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sql": {
        "command": "gosqlmcp",
        "args": ["serve", "--config", %q]
      }
    }
  }
`, configPath)
	fmt.Fprintln(w)

	// OpenCode
	subheading("OpenCode (opencode.json)")
	fmt.Fprintf(w, `  {
    "mcp": {
      "sql": {
        "type": "local",
        "command": ["gosqlmcp", "serve", "--config", %q]
      }
    }
  }
`, configPath)
}
