package sqlmcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickchristie/sql-mcp/internal/classify"
	"github.com/rickchristie/sql-mcp/internal/dialect"
	"github.com/rickchristie/sql-mcp/internal/guard"
)

// ErrorKind is the machine-checkable failure category of a tool call.
type ErrorKind string

const (
	KindEmptyStatement   ErrorKind = "EmptyStatement"
	KindRejected         ErrorKind = "Rejected"
	KindNotFound         ErrorKind = "NotFound"
	KindExecutionError   ErrorKind = "ExecutionError"
	KindTimeout          ErrorKind = "Timeout"
	KindConnectionLost   ErrorKind = "ConnectionLost"
	KindUnknownTool      ErrorKind = "UnknownTool"
	KindInvalidArguments ErrorKind = "InvalidArguments"
	KindInvalidRequest   ErrorKind = "InvalidRequest"
)

func knownKind(k ErrorKind) bool {
	switch k {
	case KindEmptyStatement, KindRejected, KindNotFound, KindExecutionError, KindTimeout,
		KindConnectionLost, KindUnknownTool, KindInvalidArguments, KindInvalidRequest:
		return true
	}
	return false
}

// ErrConnectionLost is returned by every call once the session has been
// found dead. There is no reconnection.
var ErrConnectionLost = errors.New("database connection lost: restart the server to reconnect")

// ToolError is a failed tool call. Message is what the caller sees.
type ToolError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

func newToolError(kind ErrorKind, format string, args ...any) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// toToolError maps any pipeline error onto the kind taxonomy. Errors that
// are already *ToolError pass through unchanged.
func toToolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	var rejected *guard.RejectedError
	switch {
	case errors.Is(err, ErrConnectionLost):
		return &ToolError{Kind: KindConnectionLost, Message: err.Error(), Err: err}
	case errors.As(err, &rejected):
		return &ToolError{Kind: KindRejected, Message: err.Error(), Err: err}
	case errors.Is(err, classify.ErrEmptyStatement):
		return &ToolError{Kind: KindEmptyStatement, Message: err.Error(), Err: err}
	case errors.Is(err, dialect.ErrNotFound):
		return &ToolError{Kind: KindNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ToolError{Kind: KindTimeout, Message: err.Error(), Err: err}
	default:
		return &ToolError{Kind: KindExecutionError, Message: err.Error(), Err: err}
	}
}
