package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if got := ParseLevel(input); got != expected {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, expected)
		}
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	logger, err := NewLogger("warn")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn to be enabled")
	}
}
