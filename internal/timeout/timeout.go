// Package timeout resolves the execution deadline for a SQL statement.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule gives statements matching Pattern their own timeout.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config holds the fallback timeout and the ordered rule list.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves statement timeouts. It is immutable after construction
// and safe for concurrent use.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager compiles the rules. Invalid patterns and non-positive timeouts
// are reported as errors.
func NewManager(config Config) (*Manager, error) {
	if config.DefaultTimeout <= 0 {
		return nil, fmt.Errorf("timeout: default timeout must be > 0, got %s", config.DefaultTimeout)
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		if r.Timeout <= 0 {
			return nil, fmt.Errorf("timeout: rule %q must have a timeout > 0", r.Pattern)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// Resolve returns the timeout for sql and the pattern of the rule that
// produced it. The first matching rule wins; the pattern is empty when the
// default applies.
func (m *Manager) Resolve(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}

// Default returns the fallback timeout.
func (m *Manager) Default() time.Duration {
	return m.defaultTimeout
}
