// Package relay forwards console calls made in worker processes to the
// parent console.
package relay

import (
	"log/slog"
	"sync"

	"github.com/tuanbt/razzle/internal/console"
	"github.com/tuanbt/razzle/internal/metrics"
	"github.com/tuanbt/razzle/internal/worker"
)

// Worker is a message source. Implementations must be comparable
// (pointer types) since they key the attached set.
type Worker interface {
	Messages() <-chan []byte
	Done() <-chan struct{}
}

// Source notifies about workers coming online and lists the live ones.
type Source interface {
	OnOnline(fn func(*worker.Handle))
	Workers() []*worker.Handle
}

var _ Source = (*worker.Cluster)(nil)

// Relay subscribes at most once to each worker's message stream.
type Relay struct {
	sink     console.Sink
	logger   *slog.Logger
	recorder metrics.Recorder

	mu       sync.Mutex
	attached map[Worker]struct{}
	wg       sync.WaitGroup
}

// New creates a Relay writing to sink.
func New(sink console.Sink, logger *slog.Logger, recorder metrics.Recorder) *Relay {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Relay{
		sink:     sink,
		logger:   logger,
		recorder: recorder,
		attached: make(map[Worker]struct{}),
	}
}

// Attach subscribes to the live workers of src and, on every online
// notification, to any worker not tracked yet. Workers that exited and left
// the live set are forgotten on the next notification.
func (r *Relay) Attach(src Source) {
	attachAll := func() {
		for _, h := range src.Workers() {
			r.AttachOnce(h)
		}
		r.prune(src)
	}
	src.OnOnline(func(*worker.Handle) { attachAll() })
	attachAll()
}

// AttachOnce subscribes to w's messages unless w is already tracked. It
// reports whether a subscription was made.
func (r *Relay) AttachOnce(w Worker) bool {
	r.mu.Lock()
	if _, ok := r.attached[w]; ok {
		r.mu.Unlock()
		return false
	}
	r.attached[w] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.forward(w.Messages())
	return true
}

// prune drops exited workers that are no longer in the live set of src. The
// live set is read after the exit was seen and a worker never rejoins it, so
// a dropped worker cannot be subscribed twice.
func (r *Relay) prune(src Source) {
	var exited []Worker
	r.mu.Lock()
	for w := range r.attached {
		select {
		case <-w.Done():
			exited = append(exited, w)
		default:
		}
	}
	r.mu.Unlock()
	if len(exited) == 0 {
		return
	}

	live := make(map[Worker]bool)
	for _, h := range src.Workers() {
		live[h] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range exited {
		if !live[w] {
			delete(r.attached, w)
		}
	}
}

// Attached returns the number of tracked workers.
func (r *Relay) Attached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached)
}

func (r *Relay) forward(messages <-chan []byte) {
	defer r.wg.Done()
	for raw := range messages {
		msg, err := Decode(raw)
		if err != nil {
			r.recorder.IncDroppedMessage()
			r.logger.Debug("ignoring worker message", "error", err)
			continue
		}
		r.recorder.IncRelayedMessage(string(msg.Level))
		r.sink.Log(msg.Level, msg.Args...)
	}
}

// Wait blocks until every subscribed stream has been closed.
func (r *Relay) Wait() {
	r.wg.Wait()
}
