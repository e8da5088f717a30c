package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/require"

	"github.com/tuanbt/razzle/internal/buildconfig"
	"github.com/tuanbt/razzle/internal/logger"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func testConfigs(t *testing.T, clientSrc, serverSrc string) []*buildconfig.Config {
	t.Helper()
	dir := t.TempDir()
	client := writeSource(t, dir, "src/client.js", clientSrc)
	server := writeSource(t, dir, "src/index.js", serverSrc)

	return []*buildconfig.Config{
		{
			Target: buildconfig.TargetWeb,
			Name:   buildconfig.NameClient,
			Dev:    true,
			Build: api.BuildOptions{
				AbsWorkingDir: dir,
				EntryPoints:   []string{client},
				Outdir:        filepath.Join(dir, "build", "public"),
				Bundle:        true,
				Write:         true,
				LogLevel:      api.LogLevelSilent,
			},
		},
		{
			Target: buildconfig.TargetNode,
			Name:   buildconfig.NameServer,
			Dev:    true,
			Build: api.BuildOptions{
				AbsWorkingDir: dir,
				EntryPoints:   []string{server},
				Outfile:       filepath.Join(dir, "build", "server.js"),
				Bundle:        true,
				Write:         true,
				Platform:      api.PlatformNode,
				LogLevel:      api.LogLevelSilent,
			},
		},
	}
}

func waitSettled(t *testing.T, events <-chan Event) Event {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.Status.IsSettled() {
				return ev
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for compile")
		}
	}
}

func TestBuildOrdersCompilers(t *testing.T) {
	multi, err := New(logger.Discard()).Build(testConfigs(t, `console.log("client")`, `console.log("server")`))
	require.NoError(t, err)
	defer multi.Close()

	require.Len(t, multi.Compilers, 2)
	require.Equal(t, buildconfig.NameClient, multi.Client().Target())
	require.Equal(t, buildconfig.NameServer, multi.Server().Target())
	require.Equal(t, StatusIdle, multi.Client().Status())
	require.Equal(t, StatusIdle, multi.Server().Status())
	require.Nil(t, multi.Server().LastStats())
}

func TestBuildConstructionError(t *testing.T) {
	configs := testConfigs(t, `1`, `2`)
	configs[1].Build.Define = map[string]string{"1nvalid-key": "true"}

	_, err := New(logger.Discard()).Build(configs)
	require.Error(t, err)

	var cerr *ConstructionError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, buildconfig.NameServer, cerr.Target)
	require.NotEmpty(t, cerr.Messages)
	require.Contains(t, cerr.Diagnostic(false), "Failed to compile server.")
}

func TestBuildRejectsNilAndMissingConfigs(t *testing.T) {
	configs := testConfigs(t, `1`, `2`)

	_, err := New(logger.Discard()).Build([]*buildconfig.Config{configs[0], nil})
	var cerr *ConstructionError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, buildconfig.NameServer, cerr.Target)

	_, err = New(logger.Discard()).Build(configs[:1])
	require.True(t, errors.As(err, &cerr))
}

func TestWatchEmitsEvents(t *testing.T) {
	multi, err := New(logger.Discard()).Build(testConfigs(t, `console.log("client")`, `console.log("server")`))
	require.NoError(t, err)
	defer multi.Close()

	server := multi.Server()
	events := make(chan Event, 16)
	remove := server.OnEvent(func(ev Event) { events <- ev })
	defer remove()

	statsCh := make(chan *Stats, 4)
	require.NoError(t, server.Watch(WatchOptions{Quiet: true}, func(s *Stats) { statsCh <- s }))

	ev := waitSettled(t, events)
	require.Equal(t, StatusSuccess, ev.Status)
	require.Equal(t, buildconfig.NameServer, ev.Target)
	require.NotEmpty(t, ev.Stats.BuildID)

	stats := <-statsCh
	require.Equal(t, ev.Stats.BuildID, stats.BuildID)
	require.Equal(t, StatusSuccess, server.Status())
	require.Equal(t, StatusIdle, multi.Client().Status(), "client status must not follow server events")

	require.Error(t, server.Watch(WatchOptions{}, nil), "second watch is rejected")
}

func TestWatchReportsFailedCompile(t *testing.T) {
	multi, err := New(logger.Discard()).Build(testConfigs(t, `console.log("client")`, `import "./missing"`))
	require.NoError(t, err)
	defer multi.Close()

	events := make(chan Event, 16)
	multi.Server().OnEvent(func(ev Event) { events <- ev })
	require.NoError(t, multi.Server().Watch(WatchOptions{Quiet: true}, nil))

	ev := waitSettled(t, events)
	require.Equal(t, StatusFailed, ev.Status)
	require.True(t, ev.Stats.HasErrors())
	require.Same(t, ev.Stats, multi.Server().LastStats(), "late subscribers can read the failed compile")
}

func TestRemovedListenerIsNotCalled(t *testing.T) {
	multi, err := New(logger.Discard()).Build(testConfigs(t, `1`, `2`))
	require.NoError(t, err)
	defer multi.Close()

	client := multi.Client()
	called := make(chan struct{}, 1)
	remove := client.OnEvent(func(Event) { called <- struct{}{} })
	remove()
	remove()

	events := make(chan Event, 16)
	client.OnEvent(func(ev Event) { events <- ev })
	require.NoError(t, client.Watch(WatchOptions{Quiet: true}, nil))
	waitSettled(t, events)

	select {
	case <-called:
		t.Fatal("removed listener was called")
	default:
	}
}
