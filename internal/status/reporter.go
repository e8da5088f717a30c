// Package status renders the live compile status of the build targets. A
// Reporter owns the terminal between Attach and Detach: console output is
// intercepted and printed above the status view.
package status

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/tuanbt/razzle/internal/console"
	"github.com/tuanbt/razzle/internal/engine"
)

// Options configures a Reporter.
type Options struct {
	Console *console.Console
	Output  io.Writer
	Input   io.Reader

	// Interactive selects the bubbletea view; otherwise plain lines are printed.
	Interactive bool
	Color       bool

	// OnInterrupt runs when ctrl+c is pressed in the interactive view.
	OnInterrupt func()
}

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Reporter renders compile status for a set of compilers.
type Reporter struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	attached bool
	removers []func()
	restore  func()
	program  *tea.Program
	done     chan struct{}
	out      *lockedWriter
}

// New creates a detached Reporter.
func New(opts Options, logger *slog.Logger) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Reporter{opts: opts, logger: logger}
}

// Attach starts rendering the compilers and begins intercepting console output.
func (r *Reporter) Attach(compilers ...engine.Compiler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attached {
		return fmt.Errorf("status reporter is already attached")
	}

	targets := make([]string, 0, len(compilers))
	for _, c := range compilers {
		targets = append(targets, c.Target())
	}

	var onEvent func(engine.Event)
	if r.opts.Interactive {
		model := NewModel(targets)
		model.Color = r.opts.Color
		model.OnInterrupt = r.opts.OnInterrupt

		popts := []tea.ProgramOption{tea.WithOutput(r.opts.Output), tea.WithoutSignalHandler()}
		if r.opts.Input != nil {
			popts = append(popts, tea.WithInput(r.opts.Input))
		}
		p := tea.NewProgram(model, popts...)
		r.program = p
		r.done = make(chan struct{})

		go func(done chan struct{}) {
			defer close(done)
			if _, err := p.Run(); err != nil {
				r.logger.Debug("status view stopped", "error", err)
			}
		}(r.done)

		if r.opts.Console != nil {
			r.restore = r.opts.Console.Redirect(&printlnWriter{program: p})
		}
		onEvent = func(ev engine.Event) { p.Send(CompileEventMsg{Event: ev}) }
	} else {
		r.out = &lockedWriter{w: r.opts.Output}
		if r.opts.Console != nil {
			r.restore = r.opts.Console.Redirect(r.out)
		}
		out := r.out
		onEvent = func(ev engine.Event) { out.WriteString(PlainLine(ev)) }
	}

	for _, c := range compilers {
		r.removers = append(r.removers, c.OnEvent(onEvent))
		// Targets that settled before Attach are shown right away.
		if st := c.Status(); st != engine.StatusIdle {
			ev := engine.Event{Target: c.Target(), Status: st}
			if st.IsSettled() {
				ev.Stats = c.LastStats()
			}
			onEvent(ev)
		}
	}

	r.attached = true
	r.logger.Debug("status reporter attached", "targets", targets, "interactive", r.opts.Interactive)
	return nil
}

// Detach stops rendering and restores console output. It is safe to call
// more than once.
func (r *Reporter) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.attached {
		return
	}
	r.attached = false

	for _, remove := range r.removers {
		remove()
	}
	r.removers = nil

	if r.program != nil {
		r.program.Send(detachMsg{})
		<-r.done
		r.program = nil
	}
	if r.restore != nil {
		r.restore()
		r.restore = nil
	}
	r.logger.Debug("status reporter detached")
}

// PlainLine renders ev as one or more lines for non-interactive output.
func PlainLine(ev engine.Event) string {
	switch ev.Status {
	case engine.StatusCompiling:
		return fmt.Sprintf("%s: compiling...\n", ev.Target)
	case engine.StatusSuccess:
		if ev.Stats == nil {
			return fmt.Sprintf("%s: compiled\n", ev.Target)
		}
		line := fmt.Sprintf("%s: compiled in %s", ev.Target, formatDuration(ev.Stats))
		if n := warnings(ev.Stats); n > 0 {
			line += fmt.Sprintf(" with %d warnings", n)
		}
		return line + "\n"
	case engine.StatusFailed:
		if ev.Stats == nil {
			return fmt.Sprintf("%s: failed to compile\n", ev.Target)
		}
		return fmt.Sprintf("%s: failed to compile\n%s", ev.Target, FormatErrors(ev.Stats, false))
	}
	return ""
}

// lockedWriter serializes status lines and intercepted console output.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriter) WriteString(s string) {
	if s == "" {
		return
	}
	l.Write([]byte(s))
}

// printlnWriter prints complete lines above the interactive view.
type printlnWriter struct {
	mu      sync.Mutex
	program *tea.Program
	buf     bytes.Buffer
}

func (w *printlnWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.program.Println(line[:len(line)-1])
	}
	return len(p), nil
}
