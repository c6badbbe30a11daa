// Package ws implements an optional WebSocket gateway carrying the same
// request/response command protocol as the TCP transport, one JSON object
// per message. Message boundaries come for free, so there is no streaming
// frame accumulation here.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/component"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/dispatch"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
)

// DefaultReplyTimeout bounds the wait on a command outcome when the config
// leaves it unset.
const DefaultReplyTimeout = 10 * time.Second

const maxMessageSize = 256 * 1024

// Submitter is the slice of the dispatcher the gateway needs.
type Submitter interface {
	Submit(cmd command.Command) (*dispatch.Completion, error)
}

// Server upgrades HTTP connections on /ws and serves the command protocol
// over each.
type Server struct {
	bind         string
	port         int
	replyTimeout time.Duration
	submitter    Submitter
	logger       *slog.Logger
	metrics      *Metrics

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	conns    map[*websocket.Conn]struct{}

	// Lifecycle management
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

// Deps holds construction dependencies for the WebSocket gateway.
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

// NewServer creates a WebSocket gateway component.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ws-server", "port", deps.Port)
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
		conns:        make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are local tools; origin enforcement would only block
			// browser-based controllers on the same machine.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	s.lastActivity.Store(time.Time{})
	return s
}

// Meta returns the component metadata
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ws-server",
		Type:        "gateway",
		Description: fmt.Sprintf("WebSocket command gateway on %s:%d", s.bind, s.port),
	}
}

// Initialize validates construction state.
func (s *Server) Initialize() error {
	if s.submitter == nil {
		return errors.WrapInvalid(fmt.Errorf("nil submitter"),
			"ws-server", "Initialize", "submitter validation")
	}
	if s.port < 0 || s.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", s.port),
			"ws-server", "Initialize", "port validation")
	}
	return nil
}

// Start binds the listener and begins serving upgrades on /ws.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil // Already running, idempotent
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(s.bind, fmt.Sprintf("%d", s.port)))
	if err != nil {
		return errors.WrapTransient(err, "ws-server", "Start", "socket binding")
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(ctx, w, r)
	})
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.running.Store(true)
	s.startTime = time.Now()
	s.logger.Info("websocket gateway listening", "addr", listener.Addr().String())

	// Capture locally: Stop nils out s.server, and the goroutine must not
	// read the field unsynchronized.
	server := s.server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// ErrServerClosed is the normal shutdown path.
		_ = server.Serve(listener)
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

func (s *Server) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.connectionsActive.Inc()
		s.metrics.connectionsTotal.Inc()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			_ = conn.Close()
			if s.metrics != nil {
				s.metrics.connectionsActive.Dec()
			}
		}()
		s.readLoop(ctx, conn)
	}()
}

// readLoop serves one connection: one request per message, answered in order.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !s.running.Load() {
			return
		}

		// Read and decode separately: once ReadMessage fails the read side
		// of the connection is gone for good, so every read error ends the
		// loop. Only a message that arrived intact but does not parse gets
		// a parse-error answer on a still-usable connection.
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("connection read failed", "error", err)
			}
			return
		}

		var req command.Request
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("malformed message", "error", err)
			if s.metrics != nil {
				s.metrics.parseErrors.Inc()
			}
			parseErr := errors.WrapInvalid(errors.ErrParse, "ws-server", "readLoop", "json decode")
			if writeErr := conn.WriteJSON(command.ErrorResponse(parseErr)); writeErr != nil {
				return
			}
			continue
		}

		response := s.dispatch(req)

		s.requestsServed.Add(1)
		s.lastActivity.Store(time.Now())
		if response.Status == command.StatusError {
			s.requestErrors.Add(1)
		}
		if s.metrics != nil {
			s.metrics.requestsTotal.WithLabelValues(response.Status).Inc()
		}

		if err := conn.WriteJSON(response); err != nil {
			logger.Debug("response write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req command.Request) command.Response {
	params, err := req.DecodeParams()
	if err != nil {
		return command.ErrorResponse(
			errors.WrapInvalid(errors.ErrParse, "ws-server", "dispatch", "params decode"),
		).WithID(req.ID)
	}

	if _, err := command.CheckTransport(req.Type, command.TransportReliable); err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}

	completion, err := s.submitter.Submit(
		command.NewCommand(req.Type, params, command.TransportReliable))
	if err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}

	outcome, err := completion.Wait(s.replyTimeout)
	if err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}
	if outcome.Err != nil {
		return command.ErrorResponse(outcome.Err).WithID(req.ID)
	}
	return command.SuccessResponse(outcome.Result).WithID(req.ID)
}

// Stop shuts the HTTP server down, closes open sockets, and waits for the
// read loops within the timeout. Idempotent.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.mu.Lock()
	server := s.server
	s.server = nil
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}

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
			"ws-server", "Stop", "graceful shutdown")
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
