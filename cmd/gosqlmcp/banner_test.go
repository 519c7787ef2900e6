package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintBanner(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		useColor bool
	}{
		{"color", true},
		{"plain", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printBanner(&buf, tt.useColor)
			output := buf.String()

			if got := strings.Contains(output, "\033["); got != tt.useColor {
				t.Fatalf("ANSI escape codes present = %v, want %v", got, tt.useColor)
			}
			if tt.useColor && !strings.Contains(output, "\033[0m") {
				t.Fatal("expected ANSI reset code in colored banner output")
			}
			if !strings.Contains(output, `|___/`) {
				t.Fatal("expected ASCII art in banner output")
			}
			if n := strings.Count(output, "\n"); n != 7 {
				t.Fatalf("expected 7 banner lines, got %d", n)
			}
		})
	}
}
