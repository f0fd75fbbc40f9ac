package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug text", "debug", "text"},
		{"info json", "info", "json"},
		{"warn text", "warn", "text"},
		{"error json", "error", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level, tt.format)
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			if logger.Logger == nil {
				t.Fatal("New() returned logger with nil slog.Logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_Attributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json")

	log.WithComponent("span").
		WithRequest("req-7").
		WithError(errors.New("boom")).
		Warn("mark on unknown span")

	out := buf.String()
	for _, want := range []string{`"component":"span"`, `"request_id":"req-7"`, `"error":"boom"`, `"level":"WARN"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "text")

	if l := log.WithContext(context.Background()); l != log {
		t.Error("WithContext() without request id should return the same logger")
	}

	ctx := ContextWithRequestID(context.Background(), "req-123")
	log.WithContext(ctx).Info("hello")

	if !strings.Contains(buf.String(), "request_id=req-123") {
		t.Errorf("output %q missing request id", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "text")

	log.Info("dropped")
	log.Warn("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn record missing")
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("OrDefault(nil) returned nil")
	}
	d := Discard()
	if OrDefault(d) != d {
		t.Error("OrDefault should return the given logger")
	}
}
