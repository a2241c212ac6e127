package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for raw, expected := range testCases {
		if level := ParseLevel(raw); level != expected {
			t.Fatalf("ParseLevel(%q) = %s, want %s", raw, level, expected)
		}
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, flush, err := NewLogger(Options{Level: "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(flush)
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("expected warn to be enabled")
	}
}

func TestNewLoggerAttachesSentry(t *testing.T) {
	logger, flush, err := NewLogger(Options{Level: "info", SentryDSN: "https://public@sentry.example.com/1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(flush)
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected error level to be enabled")
	}
}

func TestNewLoggerRejectsMalformedDSN(t *testing.T) {
	if _, _, err := NewLogger(Options{SentryDSN: "not a dsn"}); err == nil {
		t.Fatalf("expected malformed DSN to be rejected")
	}
}
