package logger

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"openai style key", "auth failed for sk-abcdefghijklmnop1234"},
		{"bearer token", "header was Bearer eyJhbGciOiJIUzI1NiJ9.payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact(tt.in)
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("secret not redacted: %q", out)
			}
			if strings.Contains(out, "sk-abcdef") || strings.Contains(out, "eyJhbGci") {
				t.Errorf("secret leaked: %q", out)
			}
		})
	}
}

func TestRedact_LeavesPlainTextAlone(t *testing.T) {
	in := "turn completed with 3 directives"
	if out := Redact(in); out != in {
		t.Errorf("plain text altered: %q", out)
	}
}
