package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tuanbt/razzle/internal/config"
	"github.com/tuanbt/razzle/internal/console"
	"github.com/tuanbt/razzle/internal/engine"
	"github.com/tuanbt/razzle/internal/env"
	"github.com/tuanbt/razzle/internal/history"
	"github.com/tuanbt/razzle/internal/logger"
	"github.com/tuanbt/razzle/internal/metrics"
	"github.com/tuanbt/razzle/internal/orchestrator"
	"github.com/tuanbt/razzle/internal/paths"
	"github.com/tuanbt/razzle/internal/status"
)

// StartCmd implements the 'start' command.
type StartCmd struct {
	Inspect    bool `help:"Start the server bundle with the node inspector"`
	InspectBrk bool `name:"inspect-brk" help:"Start the server bundle with the node inspector and break on the first line"`
}

func (s *StartCmd) Run(cli *CLI) error {
	if err := env.ApplyInspect(s.Inspect, s.InspectBrk); err != nil {
		return err
	}
	if err := env.ForceDevelopment(); err != nil {
		return err
	}

	p, err := paths.Resolve(cli.AppRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve app root: %w", err)
	}
	dotenv, err := env.LoadDotenv(p.AppPath, env.Development)
	if err != nil {
		return err
	}

	// Logging settings come from the override file; the resolver reports a
	// broken file before anything else reads it.
	settings := config.Default()
	if path := p.RazzleConfig(); path != "" {
		if loaded, err := config.Load(path); err == nil {
			settings = loaded
		}
	}
	level := settings.LogLevel
	if cli.Verbose {
		level = "debug"
	}

	con := console.New(os.Stdout, os.Stderr)
	log, cleanup, err := logger.NewSystemLogger(level, con.Writer(), p.AppLogs)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer cleanup()

	log.Debug("starting razzle", "version", version, "app_path", p.AppPath, "dotenv", dotenv)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	recorder := metrics.NewPrometheusRecorder(reg)

	var store *history.Store
	if !settings.DisableHistory {
		store, err = history.Open(p.AppHistory)
		if err != nil {
			log.Warn("compile history disabled", "error", err)
		} else {
			defer store.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interactive := status.IsInteractive(os.Stdout)
	reporter := status.New(status.Options{
		Console:     con,
		Output:      os.Stdout,
		Interactive: interactive,
		Color:       interactive,
		OnInterrupt: stop,
	}, log)

	orch := orchestrator.New(orchestrator.Options{
		Paths:          p,
		Console:        con,
		Engine:         engine.New(log),
		Reporter:       reporter,
		Recorder:       recorder,
		MetricsHandler: recorder.Handler(),
		History:        store,
	}, log)

	if err := orch.Run(ctx); err != nil {
		return err
	}
	log.Debug("razzle exited")
	return nil
}

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite an existing configuration file"`
}

func (i *InitCmd) Run(cli *CLI) error {
	p, err := paths.Resolve(cli.AppRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve app root: %w", err)
	}
	return runInit(os.Stdout, p, i.Force)
}

func runInit(w io.Writer, p paths.Paths, force bool) error {
	if existing := p.RazzleConfig(); existing != "" && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", existing)
	}
	path := p.DefaultRazzleConfig()
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %s\n", path)
	return nil
}

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of compiles to show" default:"20"`
}

func (h *HistoryCmd) Run(cli *CLI) error {
	p, err := paths.Resolve(cli.AppRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve app root: %w", err)
	}
	return runHistory(os.Stdout, p, h.Limit)
}

func runHistory(w io.Writer, p paths.Paths, limit int) error {
	if _, err := os.Stat(p.AppHistory); os.IsNotExist(err) {
		fmt.Fprintln(w, "No compiles recorded yet.")
		return nil
	}

	store, err := history.Open(p.AppHistory)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No compiles recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tTARGET\tSTATUS\tDURATION\tERRORS\tWARNINGS\tBUILD")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.FinishedAt.Format(time.DateTime), r.Target, r.Status, r.Duration, r.Errors, r.Warnings, r.BuildID)
	}
	return tw.Flush()
}

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Printf("razzle %s\n", version)
	return nil
}
