// Package sanitize masks sensitive values in query results before they
// leave the process.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule rewrites string values matching Pattern with Replacement, which may
// reference capture groups. When Column is set the rule only applies to
// columns whose name matches it.
type Rule struct {
	Column      string
	Pattern     string
	Replacement string
}

type compiledRule struct {
	column      *regexp.Regexp
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies regex-based sanitization to result values.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
		if r.Column != "" {
			col, err := regexp.Compile(r.Column)
			if err != nil {
				return nil, fmt.Errorf("sanitize: invalid column pattern %q: %v", r.Column, err)
			}
			compiled[i].column = col
		}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows rewrites rows in place. columns names the positions of each
// row. Nested maps and slices (JSON columns) are walked recursively.
func (s *Sanitizer) SanitizeRows(columns []string, rows [][]any) [][]any {
	if !s.HasRules() {
		return rows
	}
	applicable := make([][]compiledRule, len(columns))
	for i, name := range columns {
		for _, rule := range s.rules {
			if rule.column == nil || rule.column.MatchString(name) {
				applicable[i] = append(applicable[i], rule)
			}
		}
	}
	for _, row := range rows {
		for i := range row {
			if i < len(applicable) && len(applicable[i]) > 0 {
				row[i] = sanitizeValue(applicable[i], row[i])
			}
		}
	}
	return rows
}

func sanitizeValue(rules []compiledRule, v any) any {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range rules {
			result = rule.pattern.ReplaceAllString(result, rule.replacement)
		}
		return result
	case map[string]any:
		for k, item := range val {
			val[k] = sanitizeValue(rules, item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = sanitizeValue(rules, item)
		}
		return val
	default:
		// json.Number is a distinct type and is left alone.
		return v
	}
}
