// Package udp implements the fire-and-forget transport: one JSON command per
// datagram, no acknowledgment ever. Built for high-rate parameter streams
// where the newest value supersedes anything lost along the way.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/component"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/pkg/buffer"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/pkg/retry"
)

const (
	// maxDatagramSize bounds a single read; commands are small JSON objects.
	maxDatagramSize = 2048

	// DefaultStagingCapacity is the staging buffer size between the socket
	// read loop and dispatch when the config leaves it unset.
	DefaultStagingCapacity = 4096

	stagingBatchSize = 64
)

// Metrics holds Prometheus metrics for the UDP input component
type Metrics struct {
	datagramsReceived prometheus.Counter
	bytesReceived     prometheus.Counter
	datagramsDropped  prometheus.Counter
	malformedTotal    prometheus.Counter
	rejectedTotal     prometheus.Counter
	submittedTotal    prometheus.Counter
	socketErrors      prometheus.Counter
}

// newMetrics creates and registers UDP input metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "datagrams_received_total",
			Help:      "Datagrams read off the socket",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "bytes_received_total",
			Help:      "Bytes read off the socket",
		}),
		datagramsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams displaced from a full staging buffer",
		}),
		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "malformed_total",
			Help:      "Datagrams dropped because they failed to parse",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "rejected_total",
			Help:      "Datagrams dropped by transport policy",
		}),
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "submitted_total",
			Help:      "Commands handed to the dispatcher",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "udp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}),
	}

	registry.RegisterCounter("udp", "datagrams_received", metrics.datagramsReceived)
	registry.RegisterCounter("udp", "bytes_received", metrics.bytesReceived)
	registry.RegisterCounter("udp", "datagrams_dropped", metrics.datagramsDropped)
	registry.RegisterCounter("udp", "malformed", metrics.malformedTotal)
	registry.RegisterCounter("udp", "rejected", metrics.rejectedTotal)
	registry.RegisterCounter("udp", "submitted", metrics.submittedTotal)
	registry.RegisterCounter("udp", "socket_errors", metrics.socketErrors)

	return metrics
}

// AsyncSubmitter is the slice of the dispatcher this input needs:
// fire-and-forget enqueue, no completion handle.
type AsyncSubmitter interface {
	SubmitAsync(cmd command.Command) error
}

// Input listens for command datagrams and feeds them to the dispatcher.
// Nothing is ever written back to the sender.
type Input struct {
	bind      string
	port      int
	submitter AsyncSubmitter
	logger    *slog.Logger
	metrics   *Metrics

	staging *buffer.Circular[[]byte]

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	conn      *net.UDPConn

	// Counters
	received     atomic.Int64
	dropped      atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

var _ component.Component = (*Input)(nil)

// Deps holds construction dependencies for the UDP input.
type Deps struct {
	Submitter AsyncSubmitter
	Bind      string
	Port      int
	// StagingCapacity bounds the staging buffer; 0 means DefaultStagingCapacity.
	StagingCapacity int
	// MetricsRegistry is optional; nil disables metrics.
	MetricsRegistry *metric.Registry
	// Logger is optional; nil falls back to slog.Default.
	Logger *slog.Logger
}

// NewInput creates a UDP input component.
func NewInput(deps Deps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "udp-input", "port", deps.Port)
	}

	capacity := deps.StagingCapacity
	if capacity <= 0 {
		capacity = DefaultStagingCapacity
	}

	metrics := newMetrics(deps.MetricsRegistry)

	// Oldest datagrams are displaced first: for a stream of superseding
	// values the newest one is the one worth keeping.
	opts := []buffer.Option[[]byte]{
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
	}
	if metrics != nil {
		opts = append(opts, buffer.WithDropCounter[[]byte](metrics.datagramsDropped))
	}
	staging, err := buffer.NewCircular[[]byte](capacity, opts...)
	if err != nil {
		logger.Error("failed to create staging buffer", "error", err)
		return nil
	}

	u := &Input{
		bind:      deps.Bind,
		port:      deps.Port,
		submitter: deps.Submitter,
		logger:    logger,
		metrics:   metrics,
		staging:   staging,
	}
	u.lastActivity.Store(time.Time{})
	return u
}

// Meta returns the component metadata
func (u *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "udp-input",
		Type:        "input",
		Description: fmt.Sprintf("fire-and-forget command listener on %s:%d", u.bind, u.port),
	}
}

// Initialize validates construction state.
func (u *Input) Initialize() error {
	if u.submitter == nil {
		return errors.WrapInvalid(fmt.Errorf("nil submitter"),
			"udp-input", "Initialize", "submitter validation")
	}
	if u.port < 0 || u.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", u.port),
			"udp-input", "Initialize", "port validation")
	}
	return nil
}

// Start binds the socket and launches the read loop.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil // Already running, idempotent
	}

	u.shutdown = make(chan struct{})
	u.done = make(chan struct{})

	bindOperation := func() error {
		addr, err := net.ResolveUDPAddr("udp",
			net.JoinHostPort(u.bind, fmt.Sprintf("%d", u.port)))
		if err != nil {
			return retry.NonRetryable(err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			return err
		}
		u.conn = conn
		return nil
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), bindOperation); err != nil {
		return errors.WrapTransient(err, "udp-input", "Start", "socket binding")
	}

	u.running.Store(true)
	u.startTime = time.Now()
	u.logger.Info("udp input listening", "addr", u.conn.LocalAddr().String())

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer close(u.done)
		u.readLoop(ctx)
	}()

	return nil
}

// Addr returns the bound socket address, empty before Start.
func (u *Input) Addr() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return ""
	}
	return u.conn.LocalAddr().String()
}

// readLoop reads datagrams into the staging buffer and drains it into the
// dispatcher. The read deadline is short so shutdown is noticed promptly.
func (u *Input) readLoop(ctx context.Context) {
	datagram := make([]byte, maxDatagramSize)

	for u.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-u.shutdown:
			return
		default:
		}

		u.mu.RLock()
		conn := u.conn
		u.mu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(datagram)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				u.processStaged()
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-u.shutdown:
				return
			default:
				if u.metrics != nil {
					u.metrics.socketErrors.Inc()
				}
				// The loop must never die on a stray errno. Only a socket
				// that is gone for good ends it, and then health has to
				// reflect that.
				if fatalReadError(err) {
					u.running.Store(false)
					u.logger.Error("udp socket unusable, read loop exiting", "error", err)
					return
				}
				u.logger.Warn("socket read failed", "error", err)
				continue
			}
		}

		u.received.Add(1)
		u.lastActivity.Store(time.Now())
		if u.metrics != nil {
			u.metrics.datagramsReceived.Inc()
			u.metrics.bytesReceived.Add(float64(n))
		}

		data := make([]byte, n)
		copy(data, datagram[:n])
		_ = u.staging.Write(data)

		u.processStaged()
	}
}

// fatalReadError reports whether a read error means the socket is gone and
// no further read can succeed. Everything else is survivable.
func fatalReadError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// processStaged parses and dispatches staged datagrams. Every failure mode
// is silent to the sender: log, count, drop.
func (u *Input) processStaged() {
	for _, data := range u.staging.ReadBatch(stagingBatchSize) {
		if !u.running.Load() {
			return
		}
		u.dispatch(data)
	}
}

func (u *Input) dispatch(data []byte) {
	var req command.Request
	if err := json.Unmarshal(data, &req); err != nil {
		u.drop(u.malformed(), "malformed datagram", "error", err)
		return
	}

	params, err := req.DecodeParams()
	if err != nil {
		u.drop(u.malformed(), "malformed params", "command", req.Type, "error", err)
		return
	}

	// Unknown and reliable-only commands never reach the host from here.
	// An unknown name stays unknown; it is not promoted by arriving on a
	// different transport.
	if _, err := command.CheckTransport(req.Type, command.TransportLossy); err != nil {
		u.drop(u.rejected(), "command rejected for lossy transport",
			"command", req.Type, "error", err)
		return
	}

	cmd := command.NewCommand(req.Type, params, command.TransportLossy)
	if err := u.submitter.SubmitAsync(cmd); err != nil {
		u.drop(nil, "dispatch refused datagram", "command", req.Type, "error", err)
		return
	}

	if u.metrics != nil {
		u.metrics.submittedTotal.Inc()
	}
}

func (u *Input) malformed() prometheus.Counter {
	if u.metrics == nil {
		return nil
	}
	return u.metrics.malformedTotal
}

func (u *Input) rejected() prometheus.Counter {
	if u.metrics == nil {
		return nil
	}
	return u.metrics.rejectedTotal
}

func (u *Input) drop(counter prometheus.Counter, msg string, args ...any) {
	u.dropped.Add(1)
	if counter != nil {
		counter.Inc()
	}
	u.logger.Debug(msg, args...)
}

// Stop closes the socket and waits for the read loop to finish within the
// timeout. Staged datagrams not yet dispatched are discarded; lossy intake
// makes no delivery promise. Idempotent.
func (u *Input) Stop(timeout time.Duration) error {
	if !u.running.Load() {
		return nil
	}
	u.running.Store(false)

	u.mu.Lock()
	select {
	case <-u.shutdown:
	default:
		close(u.shutdown)
	}
	if u.conn != nil {
		_ = u.conn.Close()
	}
	u.mu.Unlock()

	select {
	case <-u.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp-input", "Stop", "graceful shutdown")
	}

	_ = u.staging.Close()
	return nil
}

// Health returns the current health status of the component.
func (u *Input) Health() component.HealthStatus {
	u.mu.RLock()
	connected := u.conn != nil
	u.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    u.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(u.dropped.Load()),
		Uptime:     time.Since(u.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (u *Input) DataFlow() component.FlowMetrics {
	received := u.received.Load()
	dropped := u.dropped.Load()
	lastActivity, _ := u.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(u.startTime).Seconds(); uptime > 0 {
		perSecond = float64(received) / uptime
	}
	if received > 0 {
		errorRate = float64(dropped) / float64(received)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
