package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/tuanbt/razzle/internal/config"
	"github.com/tuanbt/razzle/internal/engine"
	"github.com/tuanbt/razzle/internal/status"
)

var (
	version = "dev"
)

// CLI is the razzle command line.
type CLI struct {
	AppRoot string `name:"app-root" help:"Application root directory" default:"." type:"path"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Start   StartCmd   `cmd:"" default:"withargs" help:"Start the development build pipeline"`
	Init    InitCmd    `cmd:"" help:"Write a razzle.config.yaml with the default settings"`
	History HistoryCmd `cmd:"" help:"Show recent compiles"`
	Version VersionCmd `cmd:"" help:"Show version and exit"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("razzle"),
		kong.Description("Development build pipeline for universal JavaScript apps."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		os.Exit(report(os.Stderr, err, status.IsInteractive(os.Stderr)))
	}
}

// report prints err and returns the process exit code.
func report(w io.Writer, err error, color bool) int {
	var (
		cerr *engine.ConstructionError
		lerr *config.LoadError
	)
	switch {
	case errors.As(err, &cerr):
		fmt.Fprint(w, cerr.Diagnostic(color))
	case errors.As(err, &lerr):
		fmt.Fprintf(w, "Failed to load %s: %v\n", filepath.Base(lerr.Path), lerr.Err)
	default:
		fmt.Fprintf(w, "razzle: %v\n", err)
	}
	return 1
}
