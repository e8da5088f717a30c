package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tuanbt/razzle/internal/console"
)

// maxMessageSize bounds one IPC line.
const maxMessageSize = 1 << 20

// Handle is a running server bundle process.
type Handle struct {
	// ID is unique per spawned process.
	ID string

	cmd      *exec.Cmd
	messages chan []byte
	done     chan struct{}
	logger   *slog.Logger

	mu      sync.Mutex
	waitErr error
}

// launch describes how to spawn a Handle.
type launch struct {
	command []string
	dir     string
	env     []string
	sink    console.Sink
	logger  *slog.Logger
}

func spawn(s launch) (*Handle, error) {
	ipcR, ipcW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ipc pipe: %w", err)
	}

	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Dir = s.dir
	cmd.Env = s.env
	cmd.ExtraFiles = []*os.File{ipcW}
	// Own process group, so the whole tree can be signalled.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		ipcR.Close()
		ipcW.Close()
		return nil, fmt.Errorf("failed to create stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		ipcR.Close()
		ipcW.Close()
		return nil, fmt.Errorf("failed to create stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		ipcR.Close()
		ipcW.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	// The child holds its own copy of the write end.
	ipcW.Close()

	id := uuid.NewString()
	h := &Handle{
		ID:       id,
		cmd:      cmd,
		messages: make(chan []byte, 1024),
		done:     make(chan struct{}),
		logger:   s.logger.With("worker_id", id, "pid", cmd.Process.Pid),
	}

	var readers sync.WaitGroup
	readers.Add(3)
	go func() {
		defer readers.Done()
		h.readOutput(stdout, s.sink, console.LevelLog)
	}()
	go func() {
		defer readers.Done()
		h.readOutput(stderr, s.sink, console.LevelError)
	}()
	go func() {
		defer readers.Done()
		h.readMessages(ipcR)
	}()

	go h.monitorProcess(&readers)

	return h, nil
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Messages returns the raw IPC lines written by the worker, in order. The
// channel is closed when the worker closes its end of the pipe. It must have
// a single reader.
func (h *Handle) Messages() <-chan []byte {
	return h.messages
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the process exit error once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

// Stop interrupts the process group and waits for the exit. If ctx ends
// first the group is killed.
func (h *Handle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	pid := h.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil {
		h.logger.Debug("interrupt failed", "error", err)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
	}

	h.logger.Warn("force killing worker")
	_ = syscall.Kill(-pid, syscall.SIGKILL)

	select {
	case <-h.done:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("worker %d did not exit", pid)
	}
}

func (h *Handle) readOutput(r io.Reader, sink console.Sink, level console.Level) {
	err := readLines(r, func(line []byte, truncated bool) {
		if truncated {
			h.logger.Debug("truncated long output line", "level", level, "limit", maxMessageSize)
		}
		sink.Log(level, string(line))
	})
	if err != nil {
		h.logger.Debug("read error", "level", level, "error", err)
	}
}

func (h *Handle) readMessages(r *os.File) {
	defer r.Close()
	defer close(h.messages)

	err := readLines(r, func(line []byte, truncated bool) {
		if truncated {
			h.logger.Debug("dropping oversized ipc message", "limit", maxMessageSize)
			return
		}
		if len(line) == 0 {
			return
		}
		h.messages <- line
	})
	if err != nil {
		h.logger.Debug("ipc read error", "error", err)
	}
}

// readLines calls fn with every line of r until EOF. A line longer than
// maxMessageSize is cut at the limit and the rest of it is discarded, so one
// oversized write never stalls the pipe. fn owns the slice it is given.
func readLines(r io.Reader, fn func(line []byte, truncated bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)

	var (
		line      []byte
		truncated bool
		pending   bool
	)
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if pending {
				fn(line, truncated)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		pending = true
		if room := maxMessageSize - len(line); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		line = append(line, chunk...)
		if isPrefix {
			continue
		}

		fn(line, truncated)
		line, truncated, pending = nil, false, false
	}
}

func (h *Handle) monitorProcess(readers *sync.WaitGroup) {
	// Pipes must be drained before Wait closes them.
	readers.Wait()
	err := h.cmd.Wait()

	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)

	if err != nil {
		h.logger.Debug("worker exited", "error", err)
	} else {
		h.logger.Debug("worker exited normally")
	}
}
