package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	sqlmcp "github.com/rickchristie/sql-mcp"
	"github.com/rickchristie/sql-mcp/internal/keychain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway on the configured transport",
	Long: `Connect to the configured database and serve list_tables, describe_table
and run_query until stdin closes or the process is interrupted.

Transports: stdio (MCP, default), lines (one JSON request per line on stdin,
one JSON response per line on stdout) and http (MCP streamable HTTP on /mcp).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, explicit := resolveConfigPath(cmd)
		return runServe(cmd.Context(), path, explicit)
	},
}

func runServe(ctx context.Context, path string, explicit bool) error {
	// 1. Load ServerConfig
	serverConfig, err := loadServerConfig(path, explicit)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// 2. Setup logger
	logger, err := setupLogger(serverConfig.Logging, serverConfig.Transport.Type)
	if err != nil {
		return err
	}

	// 3. Resolve connection, pulling the password from the keychain if asked
	conn, err := resolveConnection(serverConfig.Connection, keychainSecret)
	if err != nil {
		return err
	}

	// 4. Open the gateway
	logger.Info().
		Str("url", maskPassword(conn.URL)).
		Str("mode", string(serverConfig.Mode)).
		Msg("connecting to database")
	g, err := sqlmcp.Open(ctx, conn, serverConfig.Config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer g.Close(context.Background())

	// 5. Test database connection
	if err := g.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	info := g.Info()
	logger.Info().
		Str("dialect", string(info.Dialect)).
		Str("version", info.Version).
		Str("database", info.Database).
		Msg("database connection test successful")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch serverConfig.Transport.Type {
	case "lines":
		logger.Info().Msg("serving JSON lines on stdin/stdout")
		err := g.ServeLines(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case "http":
		return serveHTTP(ctx, newMCPServer(g, logger), serverConfig.Transport, logger)
	default:
		logger.Info().Msg("serving MCP on stdio")
		return server.ServeStdio(newMCPServer(g, logger),
			server.WithErrorLogger(stdlog.New(logger, "", 0)),
		)
	}
}

// newMCPServer creates the MCP server with initialize lifecycle logging and
// the gateway's tools registered.
func newMCPServer(g *sqlmcp.Gateway, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("gosqlmcp", Version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	sqlmcp.RegisterMCPTools(mcpServer, g)
	return mcpServer
}

// serveHTTP runs MCP streamable HTTP on /mcp with an optional liveness
// endpoint, until ctx is cancelled.
func serveHTTP(ctx context.Context, mcpServer *server.MCPServer, config sqlmcp.TransportConfig, logger zerolog.Logger) error {
	addr := fmt.Sprintf(":%d", config.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not DB connectivity)
	if config.HealthCheckEnabled {
		mux.HandleFunc(config.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does not register the handler when a custom *http.Server is
	// provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown failed")
		}
	}()

	logger.Info().Int("port", config.Port).Msg("starting gosqlmcp http server")
	if err := streamableServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func keychainSecret(key string) (string, error) {
	m, err := keychain.NewManager()
	if err != nil {
		return "", err
	}
	return m.Get(key)
}

// setupLogger builds the process logger. Stdout carries protocol traffic
// for the stdio and lines transports, so it is refused as a log output
// there.
func setupLogger(config sqlmcp.LoggingConfig, transport string) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	switch config.Output {
	case "", "stderr":
	case "stdout":
		if transport != "http" {
			return zerolog.Nop(), fmt.Errorf("logging.output cannot be stdout with the %s transport", transportName(transport))
		}
		output = os.Stdout
	default:
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		output = f
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output, NoColor: true, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}

func transportName(transport string) string {
	if transport == "" {
		return "stdio"
	}
	return transport
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return "", err
	}
	return string(password), nil
}
