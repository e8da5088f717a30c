package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/tuanbt/razzle/internal/engine"
)

// gate holds requests while the client bundle compiles.
type gate struct {
	mu    sync.Mutex
	ready chan struct{}
}

func newGate() *gate {
	// Closed until the first compile starts.
	ready := make(chan struct{})
	close(ready)
	return &gate{ready: ready}
}

// observe updates the gate from a compiler event.
func (g *gate) observe(ev engine.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	open := isClosed(g.ready)
	switch {
	case ev.Status == engine.StatusCompiling && open:
		g.ready = make(chan struct{})
	case ev.Status.IsSettled() && !open:
		close(g.ready)
	}
}

// wait blocks until no compile is running, max elapses or ctx ends. It
// reports how long it waited and whether the bundle is settled.
func (g *gate) wait(ctx context.Context, max time.Duration) (time.Duration, bool) {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()

	if isClosed(ready) {
		return 0, true
	}

	start := time.Now()
	timer := time.NewTimer(max)
	defer timer.Stop()

	select {
	case <-ready:
		return time.Since(start), true
	case <-timer.C:
	case <-ctx.Done():
	}
	return time.Since(start), false
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
