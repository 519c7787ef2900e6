// Package guard decides whether a classified statement may run under the
// connection's configured mode. It performs no I/O.
package guard

import (
	"fmt"

	"github.com/rickchristie/sql-mcp/internal/classify"
)

// Mode is the process-wide write policy, fixed at startup.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read_write"
	}
	return "read_only"
}

// ParseMode parses the configuration spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "read_only":
		return ReadOnly, nil
	case "read_write":
		return ReadWrite, nil
	default:
		return ReadOnly, fmt.Errorf("guard: invalid mode %q: must be \"read_only\" or \"read_write\"", s)
	}
}

// RejectedError is returned when a write-class statement is attempted on a
// read-only connection.
type RejectedError struct {
	Statement      string
	Mode           Mode
	Classification classify.Classification
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("write-mode statement attempted while connection is read-only (classification: %s, mode: %s)", e.Classification, e.Mode)
}

// Authorize returns nil when a statement of classification c may run under
// mode m. Unknown is authorized as a write.
func Authorize(statement string, c classify.Classification, m Mode) error {
	if !c.IsWrite() || m == ReadWrite {
		return nil
	}
	return &RejectedError{Statement: statement, Mode: m, Classification: c}
}
