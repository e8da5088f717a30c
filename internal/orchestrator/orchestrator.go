// Package orchestrator wires the dev pipeline together: it resolves both
// build configurations, starts the server watch and the dev server, restarts
// the server bundle after every compile and hands the terminal to the status
// reporter.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tuanbt/razzle/internal/buildconfig"
	"github.com/tuanbt/razzle/internal/config"
	"github.com/tuanbt/razzle/internal/console"
	"github.com/tuanbt/razzle/internal/devserver"
	"github.com/tuanbt/razzle/internal/engine"
	"github.com/tuanbt/razzle/internal/env"
	"github.com/tuanbt/razzle/internal/history"
	"github.com/tuanbt/razzle/internal/metrics"
	"github.com/tuanbt/razzle/internal/paths"
	"github.com/tuanbt/razzle/internal/relay"
	"github.com/tuanbt/razzle/internal/resolver"
	"github.com/tuanbt/razzle/internal/worker"
)

// DevServer serves the client bundle.
type DevServer interface {
	Listen(ctx context.Context, port int) error
	Wait() error
}

// DevServerFactory creates the DevServer wrapping the client compiler.
type DevServerFactory func(client engine.Compiler, opts buildconfig.DevServerOptions) DevServer

// Reporter owns the terminal while attached.
type Reporter interface {
	Attach(compilers ...engine.Compiler) error
	Detach()
}

// Options configures an Orchestrator.
type Options struct {
	Paths   paths.Paths
	Console *console.Console
	Engine  engine.Engine

	// Reporter is attached last, once everything else has started.
	Reporter Reporter

	// Recorder and MetricsHandler are optional.
	Recorder       metrics.Recorder
	MetricsHandler http.Handler

	// History is optional; finished compiles are appended to it.
	History *history.Store

	// NewDevServer defaults to devserver.New.
	NewDevServer DevServerFactory

	// Modifier is passed to the resolver.
	Modifier resolver.Modifier

	// Lookup and Environ default to the process environment.
	Lookup  func(string) (string, bool)
	Environ []string
}

// Orchestrator runs the development pipeline.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	multi     *engine.MultiCompiler
	server    DevServer
	cluster   *worker.Cluster
	relay     *relay.Relay
	removers  []func()
	watcher   *ConfigWatcher
	startedAt time.Time
}

// New creates an Orchestrator.
func New(opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ()
	}
	o := &Orchestrator{opts: opts, logger: logger}
	if o.opts.NewDevServer == nil {
		o.opts.NewDevServer = o.defaultDevServer
	}
	return o
}

func (o *Orchestrator) defaultDevServer(client engine.Compiler, opts buildconfig.DevServerOptions) DevServer {
	options := []devserver.Option{devserver.WithRecorder(o.opts.Recorder)}
	if o.opts.MetricsHandler != nil {
		options = append(options, devserver.WithMetricsHandler(o.opts.MetricsHandler))
	}
	return devserver.New(client, opts, o.logger, options...)
}

// Run resolves the configurations, builds the compilers and starts the
// pipeline. It blocks until ctx is cancelled and then shuts everything down.
// A broken override file returns *config.LoadError and a failed compiler
// construction returns *engine.ConstructionError.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Debug("resolving build configurations", "app_path", o.opts.Paths.AppPath)
	res, err := resolver.New(o.opts.Paths, o.opts.Engine, o.logger,
		resolver.WithModifier(o.opts.Modifier),
		resolver.WithEnv(o.opts.Lookup, o.opts.Environ),
	).Resolve()
	if err != nil {
		return err
	}

	o.logger.Debug("creating compilers")
	multi, err := o.opts.Engine.Build([]*buildconfig.Config{res.Client, res.Server})
	if err != nil {
		return err
	}

	if err := o.Start(ctx, multi, res.Client, res.Override); err != nil {
		multi.Close()
		return err
	}
	o.watchConfig(res.OverridePath)

	<-ctx.Done()
	o.logger.Debug("shutdown signal received")
	return o.Shutdown()
}

// Start starts the server watch and the dev server concurrently, then the
// log relay and finally the status reporter. A dev server that cannot listen
// is logged and does not stop the pipeline. Any other failure stops what was
// already started before Start returns.
func (o *Orchestrator) Start(ctx context.Context, multi *engine.MultiCompiler, clientConfig *buildconfig.Config, override *config.Razzle) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("orchestrator already started")
	}
	if override == nil {
		override = config.Default()
	}

	client, server := multi.Client(), multi.Server()
	o.multi = multi
	o.startedAt = time.Now()

	ctx, o.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			o.unwind()
		}
	}()

	for _, c := range multi.Compilers {
		o.removers = append(o.removers, c.OnEvent(o.recordCompile))
	}

	o.cluster = worker.NewCluster(worker.Options{
		Command:         override.NodeCommand,
		Args:            env.InspectArgs(o.opts.Lookup),
		Script:          o.opts.Paths.AppServerBundle,
		Dir:             o.opts.Paths.AppPath,
		Env:             o.opts.Environ,
		ShutdownTimeout: time.Duration(override.ShutdownTimeoutSeconds) * time.Second,
	}, o.opts.Console, o.logger, o.opts.Recorder)
	o.removers = append(o.removers, o.cluster.Follow(server))
	if err := o.cluster.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker cluster: %w", err)
	}

	o.server = o.opts.NewDevServer(client, clientConfig.DevServer)
	port := env.DevServerPort(o.opts.Lookup, override.Port)

	var g errgroup.Group
	g.Go(func() error {
		o.logger.Debug("starting server watch")
		return server.Watch(engine.WatchOptions{Quiet: true}, func(*engine.Stats) {})
	})
	g.Go(func() error {
		o.logger.Debug("starting dev server", "port", port)
		err := o.server.Listen(ctx, port)
		var lerr *devserver.ListenError
		if errors.As(err, &lerr) {
			o.logger.Error("dev server is not listening", "port", lerr.Port, "error", lerr.Err)
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	o.relay = relay.New(o.opts.Console, o.logger, o.opts.Recorder)
	o.relay.Attach(o.cluster)

	if o.opts.Reporter != nil {
		if err := o.opts.Reporter.Attach(client, server); err != nil {
			return fmt.Errorf("failed to attach status reporter: %w", err)
		}
	}

	o.started = true
	o.logger.Debug("development pipeline started", "dev_server_port", port)
	return nil
}

// unwind cancels the pipeline context and waits for the dev server, the
// workers and the relay. It leaves the compilers to the caller. o.mu must be
// held.
func (o *Orchestrator) unwind() error {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	for _, remove := range o.removers {
		remove()
	}
	o.removers = nil

	var errs []error
	if o.server != nil {
		if err := o.server.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("dev server: %w", err))
		}
		o.server = nil
	}
	if o.cluster != nil {
		o.cluster.Stop()
		o.cluster = nil
	}
	if o.relay != nil {
		o.relay.Wait()
		o.relay = nil
	}
	return errors.Join(errs...)
}

// recordCompile feeds finished compiles to the metrics recorder and the
// history store.
func (o *Orchestrator) recordCompile(ev engine.Event) {
	if !ev.Status.IsSettled() || ev.Stats == nil {
		return
	}

	outcome := "success"
	if ev.Status == engine.StatusFailed {
		outcome = "failed"
	}
	o.opts.Recorder.ObserveCompileDuration(ev.Target, ev.Stats.Duration)
	o.opts.Recorder.IncCompileOutcome(ev.Target, outcome)

	if o.opts.History == nil {
		return
	}
	rec := history.Record{
		BuildID:    ev.Stats.BuildID,
		Target:     ev.Target,
		Status:     string(ev.Status),
		Errors:     len(ev.Stats.Errors),
		Warnings:   len(ev.Stats.Warnings),
		Duration:   ev.Stats.Duration,
		FinishedAt: ev.Stats.EndTime,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.opts.History.Append(ctx, rec); err != nil {
		o.logger.Warn("failed to record compile", "build_id", rec.BuildID, "error", err)
	}
}

func (o *Orchestrator) watchConfig(overridePath string) {
	w, err := NewConfigWatcher(o.opts.Paths.AppPath, o.logger, nil)
	if err != nil {
		o.logger.Debug("config watcher disabled", "error", err)
		return
	}
	if overridePath != "" {
		o.logger.Debug("watching override file", "path", overridePath)
	}
	o.mu.Lock()
	o.watcher = w
	o.mu.Unlock()
}

// Shutdown detaches the reporter and waits for the dev server, the workers
// and the relay before disposing the compilers.
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		return nil
	}
	o.started = false

	if o.opts.Reporter != nil {
		o.opts.Reporter.Detach()
	}
	if o.watcher != nil {
		o.watcher.Close()
		o.watcher = nil
	}

	err := o.unwind()
	o.multi.Close()

	o.logger.Debug("development pipeline stopped", "uptime", time.Since(o.startedAt).Round(time.Second))
	return err
}
