// Package engine is the facade over the bundler. It constructs one compiler
// per build configuration and exposes their watch mode and compile events.
package engine

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/tuanbt/razzle/internal/buildconfig"
)

// Engine constructs compilers from build configurations.
type Engine interface {
	Build(configs []*buildconfig.Config) (*MultiCompiler, error)
}

// WatchOptions configures Compiler.Watch.
type WatchOptions struct {
	// Quiet suppresses the per-compile summary log line.
	Quiet bool
}

// Compiler is one target's compiler.
type Compiler interface {
	Target() string
	Status() Status
	Config() *buildconfig.Config

	// LastStats returns the stats of the most recent finished compile, or
	// nil before the first one.
	LastStats() *Stats

	// Watch starts watch mode. handler is called after every compile.
	Watch(opts WatchOptions, handler func(*Stats)) error

	// OnEvent registers fn for status changes and returns a func removing it.
	OnEvent(fn func(Event)) (remove func())

	Close()
}

// MultiCompiler holds the compilers ordered [client, server].
type MultiCompiler struct {
	Compilers []Compiler
}

// Client returns the browser bundle compiler.
func (m *MultiCompiler) Client() Compiler { return m.Compilers[0] }

// Server returns the server bundle compiler.
func (m *MultiCompiler) Server() Compiler { return m.Compilers[1] }

// Close disposes every compiler.
func (m *MultiCompiler) Close() {
	for _, c := range m.Compilers {
		c.Close()
	}
}

// ConstructionError reports configurations rejected by the bundler.
type ConstructionError struct {
	Target   string
	Messages []api.Message
	Err      error
}

func (e *ConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to compile %s: %v", e.Target, e.Err)
	}
	texts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		texts = append(texts, m.Text)
	}
	return fmt.Sprintf("failed to compile %s: %s", e.Target, strings.Join(texts, "; "))
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Diagnostic renders the error the way the bundler prints its own errors.
func (e *ConstructionError) Diagnostic(color bool) string {
	if len(e.Messages) == 0 {
		return e.Error() + "\n"
	}
	formatted := api.FormatMessages(e.Messages, api.FormatMessagesOptions{
		Kind:  api.ErrorMessage,
		Color: color,
	})
	return fmt.Sprintf("Failed to compile %s.\n\n%s", e.Target, strings.Join(formatted, ""))
}
