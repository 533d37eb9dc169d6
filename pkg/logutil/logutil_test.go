package logutil

import (
	"bytes"
	"os"
	"strings"
	"testing"

	log "github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
		ok   bool
	}{
		{in: "", want: log.InfoLevel, ok: true},
		{in: "info", want: log.InfoLevel, ok: true},
		{in: " DEBUG ", want: log.DebugLevel, ok: true},
		{in: "trace", want: log.DebugLevel, ok: true},
		{in: "warn", want: log.WarnLevel, ok: true},
		{in: "loud", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if tc.ok && err != nil {
				t.Fatalf("ParseLevel(%q) returned error: %v", tc.in, err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("ParseLevel(%q) expected error", tc.in)
				}
				return
			}
			if got != tc.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestConfigureFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		_ = Configure("info")
	})

	if err := Configure("info"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	New("test").Debug("hidden line")
	if strings.Contains(buf.String(), "hidden line") {
		t.Fatalf("debug line leaked at info level: %q", buf.String())
	}

	if err := Configure("debug"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	New("test").Debug("visible line")
	if !strings.Contains(buf.String(), "visible line") {
		t.Fatalf("expected debug line at debug level, got %q", buf.String())
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret(""); got != "" {
		t.Fatalf("expected empty mask for empty secret, got %q", got)
	}
	if got := MaskSecret("sk-ant-REDACTED"); got != "sk-ant-api..." {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := MaskSecret("short"); got != "sh..." {
		t.Fatalf("unexpected short mask: %q", got)
	}
}
