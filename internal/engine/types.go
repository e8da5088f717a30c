package engine

import (
	"time"

	"github.com/evanw/esbuild/pkg/api"
)

// Status represents the compilation state of a target.
type Status string

const (
	// StatusIdle indicates the target has not compiled yet.
	StatusIdle Status = "idle"

	// StatusCompiling indicates a compile is in progress.
	StatusCompiling Status = "compiling"

	// StatusSuccess indicates the last compile finished without errors.
	StatusSuccess Status = "success"

	// StatusFailed indicates the last compile reported errors.
	// It is not terminal: the next file change compiles again.
	StatusFailed Status = "failed"
)

// IsSettled returns true if a compile has finished and none is running.
func (s Status) IsSettled() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Stats describes one finished compile.
type Stats struct {
	// BuildID is unique per compile.
	BuildID string `json:"build_id"`

	// Target is the compiler name (client or server).
	Target string `json:"target"`

	Errors   []api.Message `json:"-"`
	Warnings []api.Message `json:"-"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// HasErrors reports whether the compile failed.
func (s *Stats) HasErrors() bool {
	return len(s.Errors) > 0
}

// Status returns the status the compile ended in.
func (s *Stats) Status() Status {
	if s.HasErrors() {
		return StatusFailed
	}
	return StatusSuccess
}

// Event is emitted on every status change of a compiler. Stats is nil while
// compiling.
type Event struct {
	Target string
	Status Status
	Stats  *Stats
}
