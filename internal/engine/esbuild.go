package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"

	"github.com/tuanbt/razzle/internal/buildconfig"
)

// ESBuild runs compilers in-process with esbuild.
type ESBuild struct {
	logger *slog.Logger
}

// New creates the esbuild engine.
func New(logger *slog.Logger) *ESBuild {
	return &ESBuild{logger: logger}
}

var expectedNames = []string{buildconfig.NameClient, buildconfig.NameServer}

// Build creates a compiler per configuration. configs must be ordered
// [client, server]. On failure, compilers already created are disposed.
func (e *ESBuild) Build(configs []*buildconfig.Config) (*MultiCompiler, error) {
	if len(configs) != len(expectedNames) {
		return nil, &ConstructionError{
			Target: "pipeline",
			Err:    fmt.Errorf("expected %d configurations, got %d", len(expectedNames), len(configs)),
		}
	}

	multi := &MultiCompiler{}
	for i, cfg := range configs {
		if cfg == nil {
			multi.Close()
			return nil, &ConstructionError{Target: expectedNames[i], Err: errors.New("configuration is nil")}
		}

		c, err := newCompiler(cfg, e.logger)
		if err != nil {
			multi.Close()
			return nil, err
		}
		multi.Compilers = append(multi.Compilers, c)
	}

	e.logger.Debug("compilers constructed", "count", len(multi.Compilers))
	return multi, nil
}

type compiler struct {
	cfg    *buildconfig.Config
	ctx    api.BuildContext
	logger *slog.Logger

	mu        sync.Mutex
	status    Status
	last      *Stats
	buildID   string
	startTime time.Time
	handler   func(*Stats)
	quiet     bool
	watching  bool
	listeners map[int]func(Event)
	nextID    int
}

func newCompiler(cfg *buildconfig.Config, logger *slog.Logger) (*compiler, error) {
	c := &compiler{
		cfg:       cfg,
		logger:    logger.With("target", cfg.Name),
		status:    StatusIdle,
		listeners: make(map[int]func(Event)),
	}

	opts := cfg.Build
	opts.Plugins = append(append([]api.Plugin(nil), cfg.Build.Plugins...), c.statusPlugin())

	ctx, cerr := api.Context(opts)
	if cerr != nil {
		return nil, &ConstructionError{Target: cfg.Name, Messages: cerr.Errors}
	}
	c.ctx = ctx
	return c, nil
}

// statusPlugin drives the compiler status from esbuild's build callbacks.
func (c *compiler) statusPlugin() api.Plugin {
	return api.Plugin{
		Name: "razzle-status",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				c.begin()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				c.finish(result)
				return api.OnEndResult{}, nil
			})
		},
	}
}

func (c *compiler) begin() {
	c.mu.Lock()
	c.status = StatusCompiling
	c.buildID = uuid.NewString()
	c.startTime = time.Now()
	listeners := c.snapshotLocked()
	c.mu.Unlock()

	emit(listeners, Event{Target: c.cfg.Name, Status: StatusCompiling})
}

func (c *compiler) finish(result *api.BuildResult) {
	end := time.Now()

	c.mu.Lock()
	stats := &Stats{
		BuildID:   c.buildID,
		Target:    c.cfg.Name,
		Errors:    result.Errors,
		Warnings:  result.Warnings,
		StartTime: c.startTime,
		EndTime:   end,
		Duration:  end.Sub(c.startTime),
	}
	c.status = stats.Status()
	c.last = stats
	handler, quiet := c.handler, c.quiet
	listeners := c.snapshotLocked()
	c.mu.Unlock()

	if !quiet {
		c.logger.Info("compiled",
			"status", stats.Status(),
			"errors", len(stats.Errors),
			"warnings", len(stats.Warnings),
			"duration", stats.Duration)
	}
	if handler != nil {
		handler(stats)
	}
	emit(listeners, Event{Target: c.cfg.Name, Status: stats.Status(), Stats: stats})
}

func (c *compiler) snapshotLocked() []func(Event) {
	out := make([]func(Event), 0, len(c.listeners))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func emit(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}

func (c *compiler) Target() string              { return c.cfg.Name }
func (c *compiler) Config() *buildconfig.Config { return c.cfg }

func (c *compiler) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *compiler) LastStats() *Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *compiler) Watch(opts WatchOptions, handler func(*Stats)) error {
	c.mu.Lock()
	if c.watching {
		c.mu.Unlock()
		return fmt.Errorf("%s compiler is already watching", c.cfg.Name)
	}
	c.watching = true
	c.handler = handler
	c.quiet = opts.Quiet
	c.mu.Unlock()

	c.logger.Debug("starting watch mode", "quiet", opts.Quiet)
	if err := c.ctx.Watch(api.WatchOptions{}); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.cfg.Name, err)
	}
	return nil
}

func (c *compiler) OnEvent(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *compiler) Close() {
	c.ctx.Dispose()
}
