package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		if !ok || got != want {
			t.Fatalf("parseLevel(%q)=%v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be ignored")
	}
	if _, ok := parseLevel(""); ok {
		t.Fatalf("expected empty level to be ignored")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogBypass, "not-a-bool")

	cfg := defaultConfig(ProfileRuntime)
	if err := applyEnvOverrides(&cfg); err != nil {
		t.Fatalf("apply env overrides: %v", err)
	}
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled")
	}
	if !cfg.NoColor {
		t.Fatalf("expected no color")
	}
	if cfg.Bypass {
		t.Fatalf("expected invalid bypass value to be ignored")
	}
}

func TestApplyEnvOverridesWithNothingSet(t *testing.T) {
	for _, key := range []string{EnvLogLevel, EnvLogTimestamp, EnvLogNoColor, EnvLogBypass} {
		t.Setenv(key, "")
	}

	cfg := defaultConfig(ProfileTest)
	want := cfg
	if err := applyEnvOverrides(&cfg); err != nil {
		t.Fatalf("expected empty environment to be accepted, got %v", err)
	}
	if cfg.Level != want.Level || cfg.Timestamp != want.Timestamp || cfg.Bypass != want.Bypass {
		t.Fatalf("config changed without env: %+v", cfg)
	}
}

func TestNewBypassWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.DebugLevel, Bypass: true, Out: &buf})

	logger.Info().Str("conn_id", "c-1").Msg("frame read")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["app"] != "tcpserv" || line["conn_id"] != "c-1" || line["message"] != "frame read" {
		t.Fatalf("unexpected log line: %#v", line)
	}
	if _, ok := line[zerolog.TimestampFieldName]; ok {
		t.Fatalf("expected no timestamp field")
	}
}

func TestNewConsoleOmitsTimestampWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.DebugLevel, NoColor: true, Out: &buf})
	logger.Info().Msg("hello")
	out := buf.String()
	if strings.Contains(out, "<nil>") {
		t.Fatalf("unexpected empty timestamp in %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Fatalf("missing message in %q", out)
	}
}
