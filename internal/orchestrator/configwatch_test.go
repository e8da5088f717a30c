package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tuanbt/razzle/internal/logger"
)

func TestIsConfigFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"razzle.config.yaml", true},
		{"razzle.config.json", true},
		{".env", true},
		{".env.development.local", true},
		{".environment", false},
		{"package.json", false},
		{"index.js", false},
	}
	for _, tt := range tests {
		if got := IsConfigFile(tt.name); got != tt.want {
			t.Errorf("IsConfigFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestConfigWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan string, 8)

	w, err := NewConfigWatcher(dir, logger.Discard(), func(name string) { changed <- name })
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("RAZZLE_A=1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-changed:
		if name != ".env.local" {
			t.Errorf("changed = %q, want .env.local", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	w.Close()
	w.Close()
}
