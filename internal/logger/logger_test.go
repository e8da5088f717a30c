package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSystemLoggerWritesBothSinks(t *testing.T) {
	var console bytes.Buffer
	dir := filepath.Join(t.TempDir(), "logs")

	log, cleanup, err := NewSystemLogger("info", &console, dir)
	if err != nil {
		t.Fatalf("NewSystemLogger: %v", err)
	}

	log.Debug("hidden from console", "step", 1)
	log.With("target", "client").Info("compiled")
	cleanup()

	if strings.Contains(console.String(), "hidden from console") {
		t.Errorf("debug record leaked to console: %q", console.String())
	}
	if !strings.Contains(console.String(), "target=client") {
		t.Errorf("expected console to carry attrs, got %q", console.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "razzle.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON records in file, got %d: %q", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("invalid JSON record: %v", err)
	}
	if rec["msg"] != "compiled" || rec["target"] != "client" {
		t.Errorf("unexpected record: %v", rec)
	}
}
