package errprompt

import (
	"strings"
	"testing"
)

func mustMatcher(t *testing.T, rules []Rule) *Matcher {
	t.Helper()
	m, err := NewMatcher(rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestMatchPermissionDenied(t *testing.T) {
	t.Parallel()
	m := mustMatcher(t, []Rule{
		{Pattern: `(?i)permission denied`, Message: "You do not have sufficient privileges. Ask the user to check table permissions."},
	})
	got := m.Match("ExecutionError", "permission denied for table users")
	if got != "You do not have sufficient privileges. Ask the user to check table permissions." {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestMatchNoSuchTable(t *testing.T) {
	t.Parallel()
	m := mustMatcher(t, []Rule{
		{Pattern: `(?i)(relation .* does not exist|no such table)`, Message: "The table does not exist. Use list_tables to see available tables."},
	})
	for _, msg := range []string{`relation "foo" does not exist`, "SQL logic error: no such table: foo (1)"} {
		if got := m.Match("ExecutionError", msg); got == "" {
			t.Fatalf("expected a match for %q", msg)
		}
	}
}

func TestNoMatch(t *testing.T) {
	t.Parallel()
	m := mustMatcher(t, []Rule{
		{Pattern: `(?i)permission denied`, Message: "You do not have sufficient privileges."},
		{Pattern: `(?i)does not exist`, Message: "The table does not exist."},
	})
	if got := m.Match("ExecutionError", "some other error"); got != "" {
		t.Fatalf("expected empty string for non-matching error, got: %s", got)
	}
}

func TestMultipleMatches(t *testing.T) {
	t.Parallel()
	m := mustMatcher(t, []Rule{
		{Pattern: `(?i)permission denied`, Message: "Check your privileges."},
		{Pattern: `(?i)denied.*table`, Message: "Verify table access grants."},
	})
	got := m.Match("ExecutionError", "permission denied for table users")
	expected := "Check your privileges.\nVerify table access grants."
	if got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestKindOnlyRule(t *testing.T) {
	t.Parallel()
	m := mustMatcher(t, []Rule{
		{Kind: "Rejected", Message: "This connection is read-only. Rewrite the request as a SELECT."},
	})
	if got := m.Match("Rejected", "anything"); got == "" {
		t.Fatal("expected kind-only rule to match")
	}
	if got := m.Match("Timeout", "anything"); got != "" {
		t.Fatalf("expected no match for other kind, got %q", got)
	}
	labels := m.MatchedRules("Rejected", "anything")
	if len(labels) != 1 || labels[0] != "kind:Rejected" {
		t.Fatalf("unexpected labels %v", labels)
	}
}

func TestKindAndPattern(t *testing.T) {
	t.Parallel()
	m := mustMatcher(t, []Rule{
		{Kind: "ExecutionError", Pattern: `(?i)syntax`, Message: "Check the SQL dialect."},
	})
	if got := m.Match("ExecutionError", "syntax error at or near"); got != "Check the SQL dialect." {
		t.Fatalf("unexpected %q", got)
	}
	if got := m.Match("Timeout", "syntax error at or near"); got != "" {
		t.Fatalf("kind filter ignored: %q", got)
	}
	if got := m.MatchedRules("ExecutionError", "syntax error"); len(got) != 1 || got[0] != "(?i)syntax" {
		t.Fatalf("unexpected labels %v", got)
	}
}

func TestEmptyRules(t *testing.T) {
	t.Parallel()
	m := mustMatcher(t, []Rule{})
	if got := m.Match("ExecutionError", "any error at all"); got != "" {
		t.Fatalf("expected empty string with no rules, got: %s", got)
	}
	if got := m.MatchedRules("ExecutionError", "x"); got != nil {
		t.Fatalf("expected nil labels, got %v", got)
	}
}

func TestNewMatcherErrors(t *testing.T) {
	t.Parallel()
	_, err := NewMatcher([]Rule{{Pattern: `[invalid`, Message: "should not compile"}})
	if err == nil || !strings.Contains(err.Error(), "invalid regex pattern") || !strings.Contains(err.Error(), "[invalid") {
		t.Fatalf("expected invalid regex error, got: %v", err)
	}
	_, err = NewMatcher([]Rule{{Message: "matches nothing"}})
	if err == nil || !strings.Contains(err.Error(), "needs a pattern or a kind") {
		t.Fatalf("expected empty rule error, got: %v", err)
	}
}
