package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tuanbt/razzle/internal/buildconfig"
	"github.com/tuanbt/razzle/internal/console"
	"github.com/tuanbt/razzle/internal/engine"
)

type call struct {
	level console.Level
	args  []any
}

type recordingSink struct {
	mu    sync.Mutex
	calls []call
}

func (s *recordingSink) Log(level console.Level, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{level, args})
}

func (s *recordingSink) snapshot() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.sh")
	if err := os.WriteFile(p, []byte(body), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClusterSpawnsAndForwardsOutput(t *testing.T) {
	script := writeScript(t, `
echo '{"cmd":"console","type":"log","args":["hi"]}' >&3
echo "plain stdout"
echo "plain stderr" >&2
exec sleep 30
`)
	sink := &recordingSink{}
	cluster := NewCluster(Options{Command: []string{"sh"}, Script: script}, sink, testLogger(), nil)

	online := make(chan *Handle, 1)
	cluster.OnOnline(func(h *Handle) { online <- h })

	ctx, cancel := context.WithCancel(context.Background())
	if err := cluster.Start(ctx); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}
	cluster.Restart()

	var h *Handle
	select {
	case h = <-online:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never came online")
	}
	if h.PID() <= 0 {
		t.Errorf("expected a pid, got %d", h.PID())
	}

	select {
	case msg := <-h.Messages():
		if string(msg) != `{"cmd":"console","type":"log","args":["hi"]}` {
			t.Errorf("unexpected ipc message %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no ipc message")
	}

	waitFor(t, "stdout and stderr lines", func() bool { return len(sink.snapshot()) == 2 })
	for _, c := range sink.snapshot() {
		switch c.args[0] {
		case "plain stdout":
			if c.level != console.LevelLog {
				t.Errorf("stdout forwarded at %s", c.level)
			}
		case "plain stderr":
			if c.level != console.LevelError {
				t.Errorf("stderr forwarded at %s", c.level)
			}
		default:
			t.Errorf("unexpected line %v", c.args)
		}
	}

	if got := len(cluster.Workers()); got != 1 {
		t.Errorf("expected 1 live worker, got %d", got)
	}

	cancel()
	cluster.Stop()

	select {
	case <-h.Done():
	default:
		t.Error("worker still running after Stop")
	}
	if cluster.ActiveWorkers() != 0 {
		t.Errorf("expected 0 active workers, got %d", cluster.ActiveWorkers())
	}
}

func TestReadLinesContinuesAfterLongLine(t *testing.T) {
	long := strings.Repeat("x", maxMessageSize*2+17)
	input := "first\n" + long + "\nafter\n\nlast"

	type line struct {
		text      string
		truncated bool
	}
	var got []line
	err := readLines(strings.NewReader(input), func(b []byte, truncated bool) {
		got = append(got, line{string(b), truncated})
	})
	if err != nil {
		t.Fatalf("readLines: %v", err)
	}

	want := []line{
		{"first", false},
		{long[:maxMessageSize], true},
		{"after", false},
		{"", false},
		{"last", false},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %d bytes (truncated=%v), want %d bytes (truncated=%v)",
				i, len(got[i].text), got[i].truncated, len(want[i].text), want[i].truncated)
		}
	}
}

func TestWorkerKeepsStreamingAfterLongLine(t *testing.T) {
	script := writeScript(t, `
head -c 2000000 /dev/zero | tr '\0' 'x'
echo
echo "after long line"
{ head -c 2000000 /dev/zero | tr '\0' 'y'; echo; } >&3
echo '{"cmd":"console","type":"log","args":["still here"]}' >&3
exec sleep 30
`)
	sink := &recordingSink{}
	cluster := NewCluster(Options{Command: []string{"sh"}, Script: script}, sink, testLogger(), nil)

	online := make(chan *Handle, 1)
	cluster.OnOnline(func(h *Handle) { online <- h })

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		cluster.Stop()
	}()
	if err := cluster.Start(ctx); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}
	cluster.Restart()

	var h *Handle
	select {
	case h = <-online:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never came online")
	}

	select {
	case msg := <-h.Messages():
		if string(msg) != `{"cmd":"console","type":"log","args":["still here"]}` {
			t.Errorf("unexpected ipc message of %d bytes", len(msg))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ipc stream stopped after an oversized message")
	}

	waitFor(t, "stdout after the long line", func() bool { return len(sink.snapshot()) == 2 })
	calls := sink.snapshot()
	if first, _ := calls[0].args[0].(string); len(first) != maxMessageSize {
		t.Errorf("expected the long line cut to %d bytes, got %d", maxMessageSize, len(first))
	}
	if calls[1].args[0] != "after long line" {
		t.Errorf("unexpected line %v", calls[1].args)
	}
}

func TestClusterRestartReplacesWorker(t *testing.T) {
	script := writeScript(t, "exec sleep 30\n")
	cluster := NewCluster(Options{Command: []string{"sh"}, Script: script, ShutdownTimeout: time.Second}, &recordingSink{}, testLogger(), nil)

	online := make(chan *Handle, 2)
	cluster.OnOnline(func(h *Handle) { online <- h })

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		cluster.Stop()
	}()
	if err := cluster.Start(ctx); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}

	cluster.Restart()
	first := <-online
	cluster.Restart()
	second := <-online

	if first.ID == second.ID {
		t.Fatal("restart must spawn a new worker")
	}
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("old worker was not stopped")
	}
	waitFor(t, "old worker to leave the live set", func() bool {
		workers := cluster.Workers()
		return len(workers) == 1 && workers[0].ID == second.ID
	})
}

// fakeCompiler emits events on demand.
type fakeCompiler struct {
	mu        sync.Mutex
	listeners []func(engine.Event)
}

func (f *fakeCompiler) Target() string                                       { return buildconfig.NameServer }
func (f *fakeCompiler) Status() engine.Status                                { return engine.StatusIdle }
func (f *fakeCompiler) Config() *buildconfig.Config                          { return nil }
func (f *fakeCompiler) Watch(engine.WatchOptions, func(*engine.Stats)) error { return nil }
func (f *fakeCompiler) Close()                                               {}
func (f *fakeCompiler) LastStats() *engine.Stats                             { return nil }

func (f *fakeCompiler) OnEvent(fn func(engine.Event)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeCompiler) emit(ev engine.Event) {
	f.mu.Lock()
	listeners := append([]func(engine.Event){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func TestClusterFollowRestartsOnSuccessOnly(t *testing.T) {
	script := writeScript(t, "exec sleep 30\n")
	cluster := NewCluster(Options{Command: []string{"sh"}, Script: script}, &recordingSink{}, testLogger(), nil)

	online := make(chan *Handle, 4)
	cluster.OnOnline(func(h *Handle) { online <- h })

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		cluster.Stop()
	}()
	if err := cluster.Start(ctx); err != nil {
		t.Fatalf("failed to start cluster: %v", err)
	}

	comp := &fakeCompiler{}
	cluster.Follow(comp)

	comp.emit(engine.Event{Target: buildconfig.NameServer, Status: engine.StatusCompiling})
	comp.emit(engine.Event{Target: buildconfig.NameServer, Status: engine.StatusFailed})
	select {
	case <-online:
		t.Fatal("worker started without a successful compile")
	case <-time.After(200 * time.Millisecond):
	}

	comp.emit(engine.Event{Target: buildconfig.NameServer, Status: engine.StatusSuccess})
	select {
	case <-online:
	case <-time.After(5 * time.Second):
		t.Fatal("worker not started after successful compile")
	}
}

func TestClusterStartRequiresCommand(t *testing.T) {
	cluster := NewCluster(Options{}, &recordingSink{}, testLogger(), nil)
	if err := cluster.Start(context.Background()); err == nil {
		t.Fatal("expected error for empty command")
	}
}
