package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitLoggerFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "graphchat.log")
	logger, closer, err := InitLogger("debug", path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("probe failed", "assistant_id", "agent")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"probe failed"`) || !strings.Contains(string(data), `"assistant_id":"agent"`) {
		t.Errorf("expected JSON log line, got %s", data)
	}
}

func TestInitLoggerStderr(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger, closer, err := InitLogger("warn", "")
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
}

func TestInitWritesTraces(t *testing.T) {
	prevTP := otel.GetTracerProvider()
	prevMP := otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}()

	dir := t.TempDir()
	shutdown, err := Init(context.Background(), dir, "test")
	if err != nil {
		t.Fatal(err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "langgraph.info")
	span.End()
	shutdown()

	data, err := os.ReadFile(filepath.Join(dir, "traces.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "langgraph.info") {
		t.Errorf("span not exported: %s", data)
	}
}
