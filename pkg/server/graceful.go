// Package server wraps http.Server with request draining so the control
// plane can shut down without cutting off in-flight operator calls.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tfplatform/eventfabric/pkg/logger"
)

// Config holds configuration for the graceful server
type Config struct {
	// Addr is the listen address (e.g. ":8080")
	Addr string

	// Handler is the HTTP handler
	Handler http.Handler

	// ShutdownTimeout bounds the whole shutdown. Default 30s.
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests. Default 25s.
	DrainTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GracefulServer is an http.Server that tracks in-flight requests and
// drains them before shutting down
type GracefulServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
	drainTimeout    time.Duration

	inFlight       atomic.Int64
	isShuttingDown atomic.Bool
	shutdownOnce   sync.Once
	done           chan struct{}
}

// NewGracefulServer creates a graceful server from the config
func NewGracefulServer(cfg Config) *GracefulServer {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 25 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	return &GracefulServer{
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      cfg.Handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		drainTimeout:    cfg.DrainTimeout,
		done:            make(chan struct{}),
	}
}

// trackRequests counts in-flight requests and rejects new ones once
// shutdown has begun
func (gs *GracefulServer) trackRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gs.isShuttingDown.Load() {
			http.Error(w, `{"error":"server is shutting down"}`, http.StatusServiceUnavailable)
			return
		}

		gs.inFlight.Add(1)
		defer gs.inFlight.Add(-1)

		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves until an error or a termination signal, then shuts
// down gracefully
func (gs *GracefulServer) ListenAndServe() error {
	gs.server.Handler = gs.trackRequests(gs.server.Handler)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Control server listening on %s", gs.server.Addr)
		if err := gs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		logger.Info("Received signal %v, shutting down", sig)
		return gs.Shutdown(context.Background())
	}
}

// Shutdown rejects new requests, drains the in-flight ones and stops the
// listener. Safe to call more than once.
func (gs *GracefulServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	gs.shutdownOnce.Do(func() {
		gs.isShuttingDown.Store(true)

		shutdownCtx, cancel := context.WithTimeout(ctx, gs.shutdownTimeout)
		defer cancel()

		drainCtx, drainCancel := context.WithTimeout(shutdownCtx, gs.drainTimeout)
		defer drainCancel()

		if err := gs.drain(drainCtx); err != nil {
			logger.Warn("Request drain incomplete: %v", err)
			shutdownErr = err
		}

		if err := gs.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed: %v", err)
			if shutdownErr == nil {
				shutdownErr = err
			}
		}

		logger.Info("Control server stopped")
		close(gs.done)
	})

	return shutdownErr
}

func (gs *GracefulServer) drain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		inFlight := gs.inFlight.Load()
		if inFlight == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("drain timeout with %d requests in flight", inFlight)
		case <-ticker.C:
		}
	}
}

// InFlightRequests returns the current number of in-flight requests
func (gs *GracefulServer) InFlightRequests() int64 {
	return gs.inFlight.Load()
}

// IsShuttingDown reports whether shutdown has begun
func (gs *GracefulServer) IsShuttingDown() bool {
	return gs.isShuttingDown.Load()
}

// Wait blocks until shutdown is complete
func (gs *GracefulServer) Wait() {
	<-gs.done
}

// HealthHandler answers liveness probes; 503 once shutdown has begun
func (gs *GracefulServer) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if gs.IsShuttingDown() {
			http.Error(w, `{"status":"shutting_down"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			logger.Warn("Failed to write health response: %v", err)
		}
	}
}
