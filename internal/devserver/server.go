// Package devserver serves the client bundle during development.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tuanbt/razzle/internal/buildconfig"
	"github.com/tuanbt/razzle/internal/engine"
	"github.com/tuanbt/razzle/internal/metrics"
)

const internalPrefix = "/__razzle/"

// ListenError reports a port the dev server could not bind.
type ListenError struct {
	Port int
	Err  error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("dev server failed to listen on port %d: %v", e.Port, e.Err)
}

func (e *ListenError) Unwrap() error { return e.Err }

// Server wraps the client compiler: it starts its watch mode and serves its
// output directory.
type Server struct {
	compiler engine.Compiler
	opts     buildconfig.DevServerOptions
	logger   *slog.Logger
	recorder metrics.Recorder
	metrics  http.Handler

	hub  *LiveReloadHub
	gate *gate

	watchOnce sync.Once
	watchErr  error

	mu       sync.Mutex
	listener net.Listener
	wait     func() error
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler exposes h at /__razzle/metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRecorder records request wait times.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// New creates a dev server for compiler. Nothing starts until Listen.
func New(compiler engine.Compiler, opts buildconfig.DevServerOptions, logger *slog.Logger, options ...Option) *Server {
	if opts.RequestWait <= 0 {
		opts.RequestWait = 30 * time.Second
	}
	s := &Server{
		compiler: compiler,
		opts:     opts,
		logger:   logger.With("component", "devserver"),
		recorder: metrics.NoopRecorder{},
		gate:     newGate(),
	}
	s.hub = NewLiveReloadHub(s.logger)
	for _, o := range options {
		o(s)
	}
	return s
}

// Listen starts the client watch (once) and binds port. A bind failure
// returns *ListenError; the watch keeps running. Serving stops when ctx ends.
func (s *Server) Listen(ctx context.Context, port int) error {
	if err := s.startWatch(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return &ListenError{Port: port, Err: err}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.wait = serveContext(ctx, ln, srv, s.hub.Shutdown)
	s.mu.Unlock()

	s.logger.Debug("dev server listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) startWatch() error {
	s.watchOnce.Do(func() {
		s.compiler.OnEvent(s.observe)
		s.watchErr = s.compiler.Watch(engine.WatchOptions{Quiet: true}, nil)
	})
	return s.watchErr
}

func (s *Server) observe(ev engine.Event) {
	s.gate.observe(ev)
	if ev.Status == engine.StatusSuccess && ev.Stats != nil {
		s.hub.Broadcast(ev.Stats.BuildID)
	}
}

// Addr returns the bound address, or nil before a successful Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Wait blocks until the server has shut down after its context ended.
func (s *Server) Wait() error {
	s.mu.Lock()
	wait := s.wait
	s.mu.Unlock()
	if wait == nil {
		return nil
	}
	return wait()
}

// Handler returns the dev server's router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.headers())

	r.GET(buildconfig.LiveReloadPath, gin.WrapH(s.hub))
	r.GET(internalPrefix+"status", s.status)
	if s.metrics != nil {
		r.GET(internalPrefix+"metrics", gin.WrapH(s.metrics))
	}

	files := http.StripPrefix(strings.TrimSuffix(s.opts.PublicPath, "/"), http.FileServer(http.Dir(s.opts.PublicDir)))
	r.NoRoute(s.waitForCompile(), func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	})
	return r
}

func (s *Server) headers() gin.HandlerFunc {
	return func(c *gin.Context) {
		for k, v := range s.opts.Headers {
			c.Header(k, v)
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// waitForCompile holds asset requests while the client compiles.
func (s *Server) waitForCompile() gin.HandlerFunc {
	return func(c *gin.Context) {
		waited, settled := s.gate.wait(c.Request.Context(), s.opts.RequestWait)
		if waited > 0 {
			s.recorder.ObserveRequestWait(waited)
		}
		if !settled {
			s.logger.Debug("serving before compile finished", "path", c.Request.URL.Path, "waited", waited)
		}
		c.Next()
	}
}

type statusResponse struct {
	Target  string `json:"target"`
	Status  string `json:"status"`
	Clients int    `json:"livereload_clients"`
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Target:  s.compiler.Target(),
		Status:  string(s.compiler.Status()),
		Clients: s.hub.Clients(),
	})
}

// serveContext serves on l until ctx ends, then shuts the server down.
func serveContext(ctx context.Context, l net.Listener, server *http.Server, onShutdown func()) (wait func() error) {
	eg, ctx := errgroup.WithContext(ctx)
	var (
		lock    sync.Mutex
		closing bool
	)
	eg.Go(func() error {
		err := server.Serve(l)
		lock.Lock()
		defer lock.Unlock()
		if errors.Is(err, http.ErrServerClosed) && closing {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		lock.Lock()
		closing = true
		lock.Unlock()

		// SSE streams never finish on their own.
		onShutdown()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(timeoutCtx)
	})
	return eg.Wait
}
