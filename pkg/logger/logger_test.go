package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestFromContextCarriesIDs(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")

	ctx := WithTaskID(WithRequestID(context.Background(), "req-1"), "task-9")
	FromContext(ctx).Info("reindex finished")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", line["request_id"])
	}
	if line["task_id"] != "task-9" {
		t.Errorf("task_id = %v, want task-9", line["task_id"])
	}
	if RequestID(ctx) != "req-1" {
		t.Errorf("RequestID() = %q", RequestID(ctx))
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
