package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/kingrea/stepfile/internal/config"
)

func TestNewTeesIntoLogFile(t *testing.T) {
	cfg := &config.Config{
		ProjectDir: t.TempDir(),
		Project: config.ProjectConfig{
			StateDir: ".stepfile",
			Log:      config.LogConfig{Level: "debug", Format: "text", File: "logs/stepfile.log"},
		},
	}
	var buf bytes.Buffer
	logger, err := New(cfg, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("acquired sentinel", "step", "train")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(cfg.LogFilePath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, out := range []string{buf.String(), string(data)} {
		if !strings.Contains(out, "acquired sentinel") || !strings.Contains(out, "step=train") {
			t.Fatalf("expected log line in output, got %q", out)
		}
	}
}

func TestNewSlogJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlog("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "step", "clean")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single record, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if rec["msg"] != "shown" || rec["step"] != "clean" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), custom)
	if FromContext(ctx) != custom {
		t.Fatalf("expected stored logger")
	}
}
