// Package tcp implements the primary request/response transport: a line of
// JSON objects over a client TCP connection, each answered in order with a
// status envelope.
package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/component"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/dispatch"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/pkg/retry"
)

// DefaultReplyTimeout bounds the wait on a command outcome when the config
// leaves it unset.
const DefaultReplyTimeout = 10 * time.Second

// Submitter is the slice of the dispatcher the gateway needs: reliable
// enqueue with a completion handle.
type Submitter interface {
	Submit(cmd command.Command) (*dispatch.Completion, error)
}

// Server accepts client connections and serves the request/response command
// protocol over each.
type Server struct {
	bind         string
	port         int
	replyTimeout time.Duration
	submitter    Submitter
	logger       *slog.Logger
	metrics      *Metrics

	listener net.Listener
	conns    map[net.Conn]struct{}

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Counters
	requestsServed atomic.Int64
	requestErrors  atomic.Int64
	lastActivity   atomic.Value // stores time.Time
}

var _ component.Component = (*Server)(nil)

// Deps holds construction dependencies for the TCP gateway.
type Deps struct {
	Submitter Submitter
	Bind      string
	Port      int
	// ReplyTimeout bounds Completion.Wait; 0 means DefaultReplyTimeout.
	ReplyTimeout time.Duration
	// MetricsRegistry is optional; nil disables metrics.
	MetricsRegistry *metric.Registry
	// Logger is optional; nil falls back to slog.Default.
	Logger *slog.Logger
}

// NewServer creates a TCP gateway component.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "tcp-server", "port", deps.Port)
	}

	replyTimeout := deps.ReplyTimeout
	if replyTimeout <= 0 {
		replyTimeout = DefaultReplyTimeout
	}

	s := &Server{
		bind:         deps.Bind,
		port:         deps.Port,
		replyTimeout: replyTimeout,
		submitter:    deps.Submitter,
		logger:       logger,
		metrics:      newMetrics(deps.MetricsRegistry),
		conns:        make(map[net.Conn]struct{}),
	}
	s.lastActivity.Store(time.Time{})
	return s
}

// Meta returns the component metadata
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "tcp-server",
		Type:        "gateway",
		Description: fmt.Sprintf("TCP command gateway on %s:%d", s.bind, s.port),
	}
}

// Initialize validates construction state.
func (s *Server) Initialize() error {
	if s.submitter == nil {
		return errors.WrapInvalid(fmt.Errorf("nil submitter"),
			"tcp-server", "Initialize", "submitter validation")
	}
	if s.port < 0 || s.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", s.port),
			"tcp-server", "Initialize", "port validation")
	}
	return nil
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // Already running, idempotent
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	bindOperation := func() error {
		listener, err := net.Listen("tcp", net.JoinHostPort(s.bind, fmt.Sprintf("%d", s.port)))
		if err != nil {
			return err
		}
		s.listener = listener
		return nil
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), bindOperation); err != nil {
		return errors.WrapTransient(err, "tcp-server", "Start", "socket binding")
	}

	s.running.Store(true)
	s.startTime = time.Now()
	s.logger.Info("tcp gateway listening", "addr", s.listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.acceptLoop(ctx)
	}()

	return nil
}

// Addr returns the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdown:
				return
			default:
			}
			if !s.running.Load() {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.track(conn)
		if s.metrics != nil {
			s.metrics.connectionsTotal.Inc()
			s.metrics.connectionsActive.Inc()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			handler := newConnHandler(s, conn)
			handler.run(ctx)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
	if s.metrics != nil {
		s.metrics.connectionsActive.Dec()
	}
}

// Stop closes the listener and all client connections, then waits for the
// handlers to finish within the timeout. Idempotent.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"tcp-server", "Stop", "graceful shutdown")
	}
}

// Health returns the current health status of the gateway.
func (s *Server) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    s.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.requestErrors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (s *Server) DataFlow() component.FlowMetrics {
	served := s.requestsServed.Load()
	failed := s.requestErrors.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 {
		perSecond = float64(served) / uptime
	}
	if served > 0 {
		errorRate = float64(failed) / float64(served)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
