// Package server runs the status API and shuts the connector down in order
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const componentTimeout = 10 * time.Second

// Shutdownable is a component released when the connector exits
type Shutdownable interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// ShutdownFunc adapts a function to Shutdownable
type ShutdownFunc struct {
	name string
	fn   func(context.Context) error
}

// NewShutdownFunc creates a Shutdownable from a function
func NewShutdownFunc(name string, fn func(context.Context) error) *ShutdownFunc {
	return &ShutdownFunc{name: name, fn: fn}
}

// Name returns the component name
func (s *ShutdownFunc) Name() string {
	return s.name
}

// Shutdown calls the wrapped function
func (s *ShutdownFunc) Shutdown(ctx context.Context) error {
	return s.fn(ctx)
}

// Config holds configuration for graceful shutdown
type Config struct {
	Server          *http.Server
	Logger          *zap.Logger
	Shutdownables   []Shutdownable
	ShutdownTimeout time.Duration
}

// GracefulShutdown serves the status API until SIGINT, SIGTERM or a manual
// Shutdown, then releases the connector in three phases:
//
//  1. components added with AddFirst, one at a time in registration order
//     (the control session must close before anything it depends on)
//  2. the HTTP server
//  3. the remaining components, concurrently
//
// The whole sequence is bounded by ShutdownTimeout.
type GracefulShutdown struct {
	server  *http.Server
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	first  []Shutdownable
	others []Shutdownable

	trigger   chan struct{}
	triggered sync.Once
	serverErr chan error
}

// New creates a new GracefulShutdown manager
func New(cfg Config) *GracefulShutdown {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &GracefulShutdown{
		server:    cfg.Server,
		logger:    cfg.Logger.With(zap.String("component", "shutdown")),
		timeout:   cfg.ShutdownTimeout,
		others:    append([]Shutdownable(nil), cfg.Shutdownables...),
		trigger:   make(chan struct{}),
		serverErr: make(chan error, 1),
	}
}

// AddFirst registers a component released before the HTTP server, after any
// component added earlier with AddFirst
func (g *GracefulShutdown) AddFirst(s Shutdownable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.first = append(g.first, s)
}

// AddShutdownable registers a component released after the HTTP server
func (g *GracefulShutdown) AddShutdownable(s Shutdownable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.others = append(g.others, s)
}

// Start blocks until a termination signal or Shutdown, then runs the
// shutdown sequence
func (g *GracefulShutdown) Start() {
	g.StartWithContext(context.Background())
}

// StartWithContext is Start that also shuts down when ctx is done
func (g *GracefulShutdown) StartWithContext(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		g.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-g.trigger:
		g.logger.Info("Manual shutdown triggered")
	case <-ctx.Done():
		g.logger.Info("Context cancelled, initiating shutdown")
	}

	if err := g.shutdown(); err != nil {
		g.logger.Warn("Shutdown finished with errors", zap.Error(err))
		return
	}
	g.logger.Info("Graceful shutdown complete")
}

// Shutdown triggers the shutdown sequence. Later calls are no-ops.
func (g *GracefulShutdown) Shutdown() {
	g.triggered.Do(func() { close(g.trigger) })
}

// ListenAndServe serves the status API until shutdown. A listener that
// cannot start triggers the shutdown sequence and its error is returned.
func (g *GracefulShutdown) ListenAndServe() error {
	go func() {
		g.logger.Info("Status API listening", zap.String("addr", g.server.Addr))
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.serverErr <- err
			g.Shutdown()
		}
	}()

	g.Start()

	select {
	case err := <-g.serverErr:
		return err
	default:
		return nil
	}
}

func (g *GracefulShutdown) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	g.mu.Lock()
	first := append([]Shutdownable(nil), g.first...)
	others := append([]Shutdownable(nil), g.others...)
	g.mu.Unlock()

	var errs error
	for _, c := range first {
		errs = multierr.Append(errs, g.release(ctx, c))
	}

	if g.server != nil {
		errs = multierr.Append(errs, g.stopServer(ctx))
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all = make(chan struct{})
	)
	for _, c := range others {
		wg.Add(1)
		go func(c Shutdownable) {
			defer wg.Done()
			err := g.release(ctx, c)
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
		}(c)
	}
	go func() {
		wg.Wait()
		close(all)
	}()

	select {
	case <-all:
	case <-ctx.Done():
		g.logger.Warn("Shutdown timed out waiting for components")
	}

	mu.Lock()
	defer mu.Unlock()
	return errs
}

func (g *GracefulShutdown) stopServer(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		g.logger.Warn("Status API shutdown timed out, forcing close")
		return g.server.Close()
	}
	return err
}

// release shuts one component down under its own deadline
func (g *GracefulShutdown) release(ctx context.Context, s Shutdownable) error {
	ctx, cancel := context.WithTimeout(ctx, componentTimeout)
	defer cancel()

	log := g.logger.With(zap.String("target", s.Name()))
	if err := s.Shutdown(ctx); err != nil {
		log.Error("Component shutdown failed", zap.Error(err))
		return err
	}
	log.Debug("Component released")
	return nil
}

// StopSession releases the control session. stop blocks until the session
// loop has exited; it is abandoned when the shutdown deadline passes.
func StopSession(stop func()) Shutdownable {
	return NewShutdownFunc("session", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			stop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// CloseTracer flushes and stops the OpenTelemetry tracer provider
func CloseTracer(shutdownFunc func(context.Context) error) Shutdownable {
	return NewShutdownFunc("tracer", shutdownFunc)
}
