// Package server constructs and runs the relay HTTP service, owning the
// process-scoped registry, metrics, origin policy, and connection lifecycle.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server ties together the channel registry and the HTTP/WebSocket surface.
// All process-scoped relay state hangs off this value; nothing is stored in
// package globals.
type Server struct {
	cfg      Config
	log      *zap.Logger
	registry *Registry
	metrics  *Metrics
	origins  *originPolicy
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	// wg tracks the read/write pump goroutines of every accepted connection.
	wg sync.WaitGroup
}

// NewServer builds a relay server from the given configuration. A nil config
// uses defaults; a nil logger disables logging.
func NewServer(cfg *Config, log *zap.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	sanitized := cfg.sanitized()
	metrics := NewMetrics()

	s := &Server{
		cfg:      sanitized,
		log:      log,
		metrics:  metrics,
		registry: NewRegistry(log.Named("registry"), metrics),
		origins:  newOriginPolicy(sanitized.AllowedOrigins, log.Named("origin")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.httpSrv = &http.Server{
		Addr:              sanitized.Port,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Registry returns the server's channel registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start begins listening for connections and blocks until the listener stops.
// A graceful shutdown is not reported as an error.
func (s *Server) Start() error {
	s.log.Info("relay listening", zap.String("addr", s.cfg.Port))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every member's transport, and
// waits for the connection pumps to finish. It returns
// context.DeadlineExceeded when the pumps do not drain within the timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown error", zap.Error(err))
	}

	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("relay shutdown complete")
		return nil
	case <-ctx.Done():
		s.log.Warn("relay shutdown timed out; some connections may still be draining")
		return context.DeadlineExceeded
	}
}
