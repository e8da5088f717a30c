// Package worker runs the compiled server bundle as a child process and
// restarts it after every successful server compile.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuanbt/razzle/internal/console"
	"github.com/tuanbt/razzle/internal/engine"
	"github.com/tuanbt/razzle/internal/env"
	"github.com/tuanbt/razzle/internal/metrics"
)

// Options configures a Cluster.
type Options struct {
	// Command runs Script, e.g. ["node"].
	Command []string

	// Args are inserted between Command and Script (debugger flags).
	Args []string

	Script string
	Dir    string

	// Env is the base environment; defaults to os.Environ().
	Env []string

	ShutdownTimeout time.Duration
}

// Cluster manages the server bundle workers. At most one worker is current;
// a replaced worker leaves the live set once it has exited.
type Cluster struct {
	opts     Options
	sink     console.Sink
	logger   *slog.Logger
	recorder metrics.Recorder

	restartCh chan struct{}
	doneCh    chan struct{}

	mu       sync.Mutex
	workers  map[string]*Handle
	order    []string
	current  *Handle
	onOnline []func(*Handle)
	started  bool

	activeCount atomic.Int32
	wg          sync.WaitGroup
}

// NewCluster creates a Cluster. Worker output is written to sink.
func NewCluster(opts Options, sink console.Sink, logger *slog.Logger, recorder metrics.Recorder) *Cluster {
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Cluster{
		opts:      opts,
		sink:      sink,
		logger:    logger,
		recorder:  recorder,
		restartCh: make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		workers:   make(map[string]*Handle),
	}
}

// OnOnline registers fn to be called with every worker that comes online.
// Callbacks may run concurrently with each other.
func (c *Cluster) OnOnline(fn func(*Handle)) {
	c.mu.Lock()
	c.onOnline = append(c.onOnline, fn)
	c.mu.Unlock()
}

// Workers returns the live workers, oldest first.
func (c *Cluster) Workers() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Handle, 0, len(c.order))
	for _, id := range c.order {
		if h, ok := c.workers[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// ActiveWorkers returns the number of live worker processes.
func (c *Cluster) ActiveWorkers() int {
	return int(c.activeCount.Load())
}

// Start runs the restart loop until ctx is cancelled. It does not spawn a
// worker by itself; call Restart or Follow.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if len(c.opts.Command) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("worker command is empty")
	}
	c.started = true
	c.mu.Unlock()

	go c.loop(ctx)
	return nil
}

// Restart requests a (re)start of the current worker. Requests made while a
// restart is pending are coalesced.
func (c *Cluster) Restart() {
	select {
	case c.restartCh <- struct{}{}:
	default:
	}
}

// Follow restarts the worker after every successful compile of comp.
func (c *Cluster) Follow(comp engine.Compiler) (remove func()) {
	return comp.OnEvent(func(ev engine.Event) {
		if ev.Status == engine.StatusSuccess {
			c.Restart()
		}
	})
}

// Stop waits for the restart loop to exit after its context was cancelled.
func (c *Cluster) Stop() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	<-c.doneCh
	c.wg.Wait()
}

func (c *Cluster) loop(ctx context.Context) {
	defer close(c.doneCh)

	for {
		select {
		case <-ctx.Done():
			c.stopCurrent()
			return
		case <-c.restartCh:
			c.stopCurrent()
			if ctx.Err() != nil {
				return
			}
			if err := c.spawn(); err != nil {
				c.logger.Error("failed to start server", "error", err)
			}
		}
	}
}

func (c *Cluster) stopCurrent() {
	c.mu.Lock()
	h := c.current
	c.current = nil
	c.mu.Unlock()
	if h == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		c.logger.Warn("worker shutdown failed", "worker_id", h.ID, "error", err)
	}
}

func (c *Cluster) spawn() error {
	command := make([]string, 0, len(c.opts.Command)+len(c.opts.Args)+1)
	command = append(command, c.opts.Command...)
	command = append(command, c.opts.Args...)
	command = append(command, c.opts.Script)

	environ := append(append([]string(nil), c.opts.Env...), "RAZZLE_IPC_FD="+strconv.Itoa(env.IPCFD))

	h, err := spawn(launch{
		command: command,
		dir:     c.opts.Dir,
		env:     environ,
		sink:    c.sink,
		logger:  c.logger,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.workers[h.ID] = h
	c.order = append(c.order, h.ID)
	c.current = h
	callbacks := append([]func(*Handle){}, c.onOnline...)
	c.mu.Unlock()

	c.activeCount.Add(1)
	c.recorder.IncWorkerStart()
	c.logger.Debug("worker online", "worker_id", h.ID, "pid", h.PID())

	c.wg.Add(1)
	go c.reap(h)

	for _, fn := range callbacks {
		fn(h)
	}
	return nil
}

// reap removes h from the live set once it exits.
func (c *Cluster) reap(h *Handle) {
	defer c.wg.Done()
	<-h.Done()

	c.mu.Lock()
	delete(c.workers, h.ID)
	for i, id := range c.order {
		if id == h.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	crashed := c.current == h
	if crashed {
		c.current = nil
	}
	c.mu.Unlock()

	c.activeCount.Add(-1)
	err := h.Err()
	c.recorder.IncWorkerExit(err == nil)
	if crashed {
		c.logger.Warn("server exited, waiting for the next successful compile", "worker_id", h.ID, "error", err)
	}
}
