package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" INFO ", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if ValidLevel("verbose") {
		t.Error("verbose should not be a valid level")
	}
	if !ValidLevel("warn") {
		t.Error("warn should be a valid level")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error should be enabled at warn level")
	}
}

func TestCronLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := CronLogger(zap.New(core))

	cl.Info("skip", "job", "poll")
	cl.Error(errors.New("boom"), "panic", "job", "poll")

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].ContextMap()["job"] != "poll" {
		t.Errorf("unexpected info entry: %+v", entries[0])
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].ContextMap()["error"] != "boom" {
		t.Errorf("unexpected error entry: %+v", entries[1].ContextMap())
	}
}
