package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding %q: %v", buf.String(), err)
	}
	return line
}

func TestWithContextAddsIDs(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf, slog.LevelInfo, true)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithWorkerID(ctx, "w1")
	log.WithComponent("api").WithContext(ctx).Info("refreshed")

	line := decodeLine(t, buf)
	if line["request_id"] != "req-1" || line["worker_id"] != "w1" || line["component"] != "api" {
		t.Errorf("line = %v", line)
	}
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext = %q", got)
	}
}

func TestWithContextSkipsMissingIDs(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf, slog.LevelInfo, true)

	log.WithContext(context.Background()).Info("plain")

	line := decodeLine(t, buf)
	if _, ok := line["request_id"]; ok {
		t.Errorf("unexpected request_id in %v", line)
	}
	if _, ok := line["worker_id"]; ok {
		t.Errorf("unexpected worker_id in %v", line)
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("empty context yielded a request id")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"", slog.LevelInfo, true},
		{" INFO ", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf, slog.LevelWarn, false)

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %q", buf.String())
	}
	log.Warn("shown")
	if buf.Len() == 0 {
		t.Error("warn not written")
	}
}

func TestDefaultEnabledAtInfo(t *testing.T) {
	log := Default()
	if !log.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default logger drops info")
	}
	if log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default logger keeps debug")
	}
}
