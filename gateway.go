package sqlmcp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickchristie/sql-mcp/internal/dialect"
	"github.com/rickchristie/sql-mcp/internal/errprompt"
	"github.com/rickchristie/sql-mcp/internal/guard"
	"github.com/rickchristie/sql-mcp/internal/sanitize"
	"github.com/rickchristie/sql-mcp/internal/timeout"
)

// pingTimeout bounds the health check that follows a failed call.
const pingTimeout = 5 * time.Second

// DatabaseInfo describes the server behind the gateway's session.
type DatabaseInfo = dialect.Info

// Gateway is the core engine that provides the run_query, list_tables and
// describe_table tools over one database session. All exported methods are
// safe for concurrent use; calls touching the session are serialized.
type Gateway struct {
	config     Config
	driver     dialect.Driver
	mode       guard.Mode
	info       DatabaseInfo
	semaphore  chan struct{}
	lost       atomic.Bool
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	logger     zerolog.Logger
}

// New creates a Gateway owning driver. The driver is closed by Close.
// Zero values in config take the package defaults.
// Panics on invalid config. Returns error only for runtime failures (e.g.
// the session refusing read-only mode).
func New(ctx context.Context, driver dialect.Driver, config Config, logger zerolog.Logger) (*Gateway, error) {
	if driver == nil {
		panic("sqlmcp: driver must be non-nil")
	}
	if err := config.Validate(); err != nil {
		panic("sqlmcp: " + err.Error())
	}
	config = config.withDefaults()

	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		panic("sqlmcp: " + err.Error())
	}
	matcher, err := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		panic("sqlmcp: " + err.Error())
	}
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		panic("sqlmcp: " + err.Error())
	}

	mode := config.Mode.guardMode()
	if mode == guard.ReadOnly {
		err := driver.EnforceReadOnly(ctx)
		switch {
		case errors.Is(err, dialect.ErrReadOnlyUnsupported):
			logger.Warn().
				Str("dialect", string(driver.Dialect())).
				Msg("session read-only mode unavailable, relying on statement classification")
		case err != nil:
			return nil, fmt.Errorf("failed to enable read-only session: %w", err)
		}
	}

	info, err := driver.Info(ctx)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		config:     config,
		driver:     driver,
		mode:       mode,
		info:       info,
		semaphore:  make(chan struct{}, 1),
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		logger:     logger,
	}, nil
}

// Open connects to the database described by conn and wraps the session in
// a Gateway. Unlike New it reports invalid config as an error.
func Open(ctx context.Context, conn ConnectionConfig, config Config, logger zerolog.Logger) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	name, err := conn.DialectName()
	if err != nil {
		return nil, err
	}
	driver, err := dialect.Open(ctx, name, conn.URL)
	if err != nil {
		return nil, err
	}
	g, err := New(ctx, driver, config, logger)
	if err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return g, nil
}

// Info returns the database info read at startup.
func (g *Gateway) Info() DatabaseInfo {
	return g.info
}

// Mode returns the configured mode.
func (g *Gateway) Mode() Mode {
	return g.config.Mode
}

// Ping checks the session. A failed ping latches the gateway as lost.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := g.driver.Ping(pingCtx); err != nil {
		g.markLost(err)
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Close closes the underlying session.
func (g *Gateway) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// acquire takes the single session slot. It fails fast once the session is
// lost and respects context cancellation while waiting.
func (g *Gateway) acquire(ctx context.Context) error {
	if g.lost.Load() {
		return ErrConnectionLost
	}
	select {
	case g.semaphore <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire connection slot: another call is in flight, context cancelled while waiting: %w", ctx.Err())
	}
	if g.lost.Load() {
		<-g.semaphore
		return ErrConnectionLost
	}
	return nil
}

func (g *Gateway) release() {
	<-g.semaphore
}

// checkConnection pings the session after a failed or timed-out call and
// latches the gateway as lost when the ping fails. Must hold the slot.
func (g *Gateway) checkConnection() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := g.driver.Ping(ctx); err != nil {
		g.markLost(err)
	}
}

func (g *Gateway) markLost(err error) {
	if g.lost.CompareAndSwap(false, true) {
		g.logger.Error().Err(err).Str("dialect", string(g.info.Dialect)).Msg("connection lost")
	}
}

// handleError maps err onto a ToolError, logs it once and appends any
// matching error prompts to the message.
func (g *Gateway) handleError(msg string, err error) *ToolError {
	te := toToolError(err)
	out := *te
	prompt := g.errPrompts.Match(string(te.Kind), te.Message)
	rules := g.errPrompts.MatchedRules(string(te.Kind), te.Message)

	logEvent := g.logger.Error().Err(err).Str("kind", string(te.Kind))
	if len(rules) > 0 {
		logEvent = logEvent.Strs("error_prompts", rules)
	}
	logEvent.Msg(msg)

	if prompt != "" {
		out.Message = te.Message + "\n\n" + prompt
	}
	return &out
}

// mapSanitizationRules converts SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Column:      r.Column,
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorPromptRules converts ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Kind:    r.Kind,
			Message: r.Message,
		}
	}
	return result
}
