// Package metrics provides observability hooks for the dev pipeline.
package metrics

import "time"

// Recorder defines observability hooks for compiles, workers and the log relay.
type Recorder interface {
	ObserveCompileDuration(target string, d time.Duration)
	IncCompileOutcome(target, outcome string) // outcome: success|failed
	IncWorkerStart()
	IncWorkerExit(clean bool)
	IncRelayedMessage(level string)
	IncDroppedMessage()
	ObserveRequestWait(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not wired).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCompileDuration(string, time.Duration) {}
func (NoopRecorder) IncCompileOutcome(string, string)             {}
func (NoopRecorder) IncWorkerStart()                              {}
func (NoopRecorder) IncWorkerExit(bool)                           {}
func (NoopRecorder) IncRelayedMessage(string)                     {}
func (NoopRecorder) IncDroppedMessage()                           {}
func (NoopRecorder) ObserveRequestWait(time.Duration)             {}
