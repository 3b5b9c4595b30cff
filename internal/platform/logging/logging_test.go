package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"unknown", slog.LevelInfo, slog.LevelDebug},
		{"", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tc := range cases {
		logger := NewLogger(tc.level)
		if !logger.Enabled(context.Background(), tc.enabled) {
			t.Fatalf("level %q: expected %v to be enabled", tc.level, tc.enabled)
		}
		if logger.Enabled(context.Background(), tc.muted) {
			t.Fatalf("level %q: expected %v to be muted", tc.level, tc.muted)
		}
	}
}
