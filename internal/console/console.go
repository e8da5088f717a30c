// Package console is the parent process' logging sink. It mirrors the
// leveled console API that worker processes log through, and its output can
// be redirected while a status view owns the terminal.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Level names a console method.
type Level string

const (
	LevelLog   Level = "log"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelTrace Level = "trace"
)

// ParseLevel returns the Level named s. Only the supported console methods
// are accepted.
func ParseLevel(s string) (Level, bool) {
	switch l := Level(s); l {
	case LevelLog, LevelInfo, LevelDebug, LevelWarn, LevelError, LevelTrace:
		return l, true
	}
	return "", false
}

// Stderr reports whether the level is written to the error stream.
func (l Level) Stderr() bool {
	return l == LevelWarn || l == LevelError || l == LevelTrace
}

// Sink receives console calls.
type Sink interface {
	Log(level Level, args ...any)
}

// Console writes leveled lines to an output and an error stream.
type Console struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// New creates a Console writing to stdout and stderr.
func New(stdout, stderr io.Writer) *Console {
	return &Console{stdout: stdout, stderr: stderr}
}

// Log formats args the way a JavaScript console does and writes them as one line.
func (c *Console) Log(level Level, args ...any) {
	line := Format(args...)
	if level == LevelTrace {
		line = "Trace: " + line
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.stdout
	if level.Stderr() {
		w = c.stderr
	}
	io.WriteString(w, line+"\n")
}

// Redirect sends both streams to w until the returned restore func is called.
func (c *Console) Redirect(w io.Writer) (restore func()) {
	c.mu.Lock()
	prevOut, prevErr := c.stdout, c.stderr
	c.stdout, c.stderr = w, w
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.stdout, c.stderr = prevOut, prevErr
			c.mu.Unlock()
		})
	}
}

// Writer returns an io.Writer bound to the current output stream. It follows
// redirects, so loggers built on it stay behind the status view.
func (c *Console) Writer() io.Writer {
	return consoleWriter{c}
}

type consoleWriter struct {
	c *Console
}

func (w consoleWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.stdout.Write(p)
}

// Format joins args with spaces. Strings are printed verbatim; JSON-like
// values (as decoded from worker messages) are printed as JSON.
func Format(args ...any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatValue(arg)
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case error:
		return val.Error()
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
