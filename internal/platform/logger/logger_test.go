// Package logger_test contains tests for the logger package
package logger_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-deck/internal/config"
	"github.com/phrazzld/scry-deck/internal/platform/logger"
)

func restoreDefault(t *testing.T) {
	t.Helper()
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
}

// TestValidLogLevelParsing tests that valid log levels are correctly parsed.
func TestValidLogLevelParsing(t *testing.T) {
	testCases := []struct {
		name     string
		logLevel string
		want     slog.Level
	}{
		{name: "debug level", logLevel: "debug", want: slog.LevelDebug},
		{name: "info level", logLevel: "info", want: slog.LevelInfo},
		{name: "warn level", logLevel: "warn", want: slog.LevelWarn},
		{name: "error level", logLevel: "error", want: slog.LevelError},
		{name: "case insensitive - DEBUG", logLevel: "DEBUG", want: slog.LevelDebug},
		{name: "case insensitive - Info", logLevel: "Info", want: slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			level, ok := logger.ParseLevel(tc.logLevel)
			assert.True(t, ok)
			assert.Equal(t, tc.want, level)
		})
	}
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	restoreDefault(t)
	buf := &logger.TestLogBuffer{}

	log, err := logger.SetupWithWriter(config.ClientConfig{LogLevel: "warn"}, buf)
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("info test message")
	log.Warn("warn test message", slog.String("component", "test"))

	assert.NotContains(t, buf.String(), "info test message")
	logger.AssertLogContains(t, buf, "warn test message")
	logger.AssertLogField(t, buf, "component", "test")
	assert.Same(t, log, slog.Default(), "Setup installs the default logger")
}

// TestInvalidLogLevelParsing tests that an invalid level falls back to info.
func TestInvalidLogLevelParsing(t *testing.T) {
	restoreDefault(t)
	buf := &logger.TestLogBuffer{}

	log, err := logger.SetupWithWriter(config.ClientConfig{LogLevel: "invalid_level"}, buf)
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Debug("debug test message")
	log.Info("info test message")

	assert.NotContains(t, buf.String(), "debug test message")
	assert.Contains(t, buf.String(), "info test message")
}

