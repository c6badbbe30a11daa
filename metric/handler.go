package metric

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
)

// Server exposes the metrics registry (and optionally a health handler)
// over HTTP. Failure to bind is surfaced to the caller, which treats it as
// fatal at startup.
type Server struct {
	addr     string
	registry *Registry
	health   http.Handler
	server   *http.Server
	mu       sync.Mutex
}

// NewServer creates a metrics server on the given bind address. The health
// handler is optional; when set it is mounted at /healthz.
func NewServer(bind string, port int, registry *Registry, health http.Handler) *Server {
	if port == 0 {
		port = 9090
	}
	return &Server{
		addr:     net.JoinHostPort(bind, fmt.Sprintf("%d", port)),
		registry: registry,
		health:   health,
	}
}

// Start binds the listener and begins serving. Returns a fatal error if the
// socket cannot be bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"metric-server", "Start", "running check")
	}
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"),
			"metric-server", "Start", "registry validation")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry.Prometheus(),
		promhttp.HandlerOpts{}))
	if s.health != nil {
		mux.Handle("/healthz", s.health)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "metric-server", "Start", "socket binding")
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// ErrServerClosed is the normal shutdown path.
		_ = s.server.Serve(listener)
	}()

	return nil
}

// Addr returns the configured bind address.
func (s *Server) Addr() string {
	return s.addr
}

// Stop shuts the server down gracefully within the timeout. Idempotent.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "metric-server", "Stop", "graceful shutdown")
	}
	return nil
}
