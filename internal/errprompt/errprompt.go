// Package errprompt appends operator-configured guidance to tool error
// messages so the calling agent can correct itself.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule attaches Message to errors whose text matches Pattern. When Kind is
// set the rule only applies to errors of that kind. At least one of
// Pattern and Kind must be set.
type Rule struct {
	Pattern string
	Kind    string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	kind    string
	message string
}

func (r compiledRule) matches(kind, errMsg string) bool {
	if r.kind != "" && r.kind != kind {
		return false
	}
	return r.pattern == nil || r.pattern.MatchString(errMsg)
}

func (r compiledRule) label() string {
	if r.pattern == nil {
		return "kind:" + r.kind
	}
	return r.pattern.String()
}

// Matcher checks errors against rules, top to bottom.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		if r.Pattern == "" && r.Kind == "" {
			return nil, fmt.Errorf("errprompt: rule %d needs a pattern or a kind", i)
		}
		c := compiledRule{kind: r.Kind, message: r.Message}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
			}
			c.pattern = re
		}
		compiled[i] = c
	}
	return &Matcher{rules: compiled}, nil
}

// Match returns the messages of every matching rule joined with newlines,
// or "" if nothing matches.
func (m *Matcher) Match(kind, errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.matches(kind, errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedRules returns a label for every matching rule, for logging.
func (m *Matcher) MatchedRules(kind, errMsg string) []string {
	var labels []string
	for _, rule := range m.rules {
		if rule.matches(kind, errMsg) {
			labels = append(labels, rule.label())
		}
	}
	return labels
}
