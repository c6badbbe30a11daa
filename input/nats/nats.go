// Package nats implements an optional broker ingress: commands published on
// <prefix>.command.> reach the dispatcher. A message carrying a reply inbox
// gets full request/response semantics; a message without one is treated
// exactly like a UDP datagram.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/component"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/dispatch"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/natsclient"
)

// DefaultReplyTimeout bounds the wait on a command outcome when the config
// leaves it unset.
const DefaultReplyTimeout = 10 * time.Second

// Metrics holds Prometheus metrics for the NATS ingress
type Metrics struct {
	messagesReceived prometheus.Counter
	repliesSent      prometheus.Counter
	droppedTotal     prometheus.Counter
}

// newMetrics creates and registers NATS ingress metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "messages_received_total",
			Help:      "Command messages received from the broker",
		}),
		repliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "replies_sent_total",
			Help:      "Responses published to reply inboxes",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "dropped_total",
			Help:      "Inbox-less messages dropped as malformed or rejected",
		}),
	}

	registry.RegisterCounter("nats", "messages_received", metrics.messagesReceived)
	registry.RegisterCounter("nats", "replies_sent", metrics.repliesSent)
	registry.RegisterCounter("nats", "dropped", metrics.droppedTotal)

	return metrics
}

// Dispatcher is the slice of the dispatch layer this ingress needs: both
// submission modes, chosen per message by the presence of a reply inbox.
type Dispatcher interface {
	Submit(cmd command.Command) (*dispatch.Completion, error)
	SubmitAsync(cmd command.Command) error
}

// Ingress subscribes to command subjects and routes each message to the
// dispatcher under the transport class its reply inbox implies.
type Ingress struct {
	client        *natsclient.Client
	subjectPrefix string
	replyTimeout  time.Duration
	dispatcher    Dispatcher
	logger        *slog.Logger
	metrics       *Metrics

	sub *natsgo.Subscription

	// Lifecycle management
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Counters
	received     atomic.Int64
	dropped      atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

var _ component.Component = (*Ingress)(nil)

// Deps holds construction dependencies for the NATS ingress.
type Deps struct {
	Client        *natsclient.Client
	Dispatcher    Dispatcher
	SubjectPrefix string
	// ReplyTimeout bounds Completion.Wait; 0 means DefaultReplyTimeout.
	ReplyTimeout time.Duration
	// MetricsRegistry is optional; nil disables metrics.
	MetricsRegistry *metric.Registry
	// Logger is optional; nil falls back to slog.Default.
	Logger *slog.Logger
}

// NewIngress creates a NATS ingress component.
func NewIngress(deps Deps) *Ingress {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "nats-ingress")
	}

	replyTimeout := deps.ReplyTimeout
	if replyTimeout <= 0 {
		replyTimeout = DefaultReplyTimeout
	}

	i := &Ingress{
		client:        deps.Client,
		subjectPrefix: deps.SubjectPrefix,
		replyTimeout:  replyTimeout,
		dispatcher:    deps.Dispatcher,
		logger:        logger,
		metrics:       newMetrics(deps.MetricsRegistry),
	}
	i.lastActivity.Store(time.Time{})
	return i
}

// Meta returns the component metadata
func (i *Ingress) Meta() component.Metadata {
	return component.Metadata{
		Name:        "nats-ingress",
		Type:        "input",
		Description: fmt.Sprintf("broker command ingress on %s.command.>", i.subjectPrefix),
	}
}

// Initialize validates construction state.
func (i *Ingress) Initialize() error {
	if i.dispatcher == nil {
		return errors.WrapInvalid(fmt.Errorf("nil dispatcher"),
			"nats-ingress", "Initialize", "dispatcher validation")
	}
	if i.client == nil {
		return errors.WrapInvalid(fmt.Errorf("nil nats client"),
			"nats-ingress", "Initialize", "client validation")
	}
	if i.subjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"nats-ingress", "Initialize", "subject prefix validation")
	}
	return nil
}

// Start subscribes to the command subject tree.
func (i *Ingress) Start(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running.Load() {
		return nil // Already running, idempotent
	}

	subject := i.subjectPrefix + ".command.>"
	sub, err := i.client.Subscribe(subject, func(msg *natsgo.Msg) {
		i.handleMessage(msg.Subject, msg.Reply, msg.Data, func(data []byte) error {
			return i.client.Publish(msg.Reply, data)
		})
	})
	if err != nil {
		return errors.WrapTransient(err, "nats-ingress", "Start", "subject subscription")
	}

	i.sub = sub
	i.running.Store(true)
	i.startTime = time.Now()
	i.logger.Info("nats ingress subscribed", "subject", subject)
	return nil
}

// handleMessage routes one broker message. The respond function publishes to
// the message's reply inbox; it is injectable so routing is testable without
// a broker.
func (i *Ingress) handleMessage(subject, reply string, data []byte, respond func([]byte) error) {
	i.received.Add(1)
	i.lastActivity.Store(time.Now())
	if i.metrics != nil {
		i.metrics.messagesReceived.Inc()
	}

	if reply == "" {
		i.handleLossy(subject, data)
		return
	}

	// Reliable semantics: the wait happens off the delivery goroutine so a
	// slow host never stalls the subscription.
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.handleReliable(data, respond)
	}()
}

func (i *Ingress) handleReliable(data []byte, respond func([]byte) error) {
	response := i.dispatchReliable(data)
	if err := respond(response.Encode()); err != nil {
		i.logger.Warn("reply publish failed", "error", err)
		return
	}
	if i.metrics != nil {
		i.metrics.repliesSent.Inc()
	}
}

func (i *Ingress) dispatchReliable(data []byte) command.Response {
	var req command.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return command.ErrorResponse(
			errors.WrapInvalid(errors.ErrParse, "nats-ingress", "dispatchReliable", "json decode"),
		)
	}

	params, err := req.DecodeParams()
	if err != nil {
		return command.ErrorResponse(
			errors.WrapInvalid(errors.ErrParse, "nats-ingress", "dispatchReliable", "params decode"),
		).WithID(req.ID)
	}

	if _, err := command.CheckTransport(req.Type, command.TransportReliable); err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}

	completion, err := i.dispatcher.Submit(
		command.NewCommand(req.Type, params, command.TransportReliable))
	if err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}

	outcome, err := completion.Wait(i.replyTimeout)
	if err != nil {
		return command.ErrorResponse(err).WithID(req.ID)
	}
	if outcome.Err != nil {
		return command.ErrorResponse(outcome.Err).WithID(req.ID)
	}
	return command.SuccessResponse(outcome.Result).WithID(req.ID)
}

// handleLossy applies datagram semantics: parse, enforce lossy policy,
// fire-and-forget, never respond.
func (i *Ingress) handleLossy(subject string, data []byte) {
	var req command.Request
	if err := json.Unmarshal(data, &req); err != nil {
		i.drop("malformed message", "subject", subject, "error", err)
		return
	}

	params, err := req.DecodeParams()
	if err != nil {
		i.drop("malformed params", "command", req.Type, "error", err)
		return
	}

	if _, err := command.CheckTransport(req.Type, command.TransportLossy); err != nil {
		i.drop("command rejected for lossy delivery", "command", req.Type, "error", err)
		return
	}

	cmd := command.NewCommand(req.Type, params, command.TransportLossy)
	if err := i.dispatcher.SubmitAsync(cmd); err != nil {
		i.drop("dispatch refused message", "command", req.Type, "error", err)
	}
}

func (i *Ingress) drop(msg string, args ...any) {
	i.dropped.Add(1)
	if i.metrics != nil {
		i.metrics.droppedTotal.Inc()
	}
	i.logger.Debug(msg, args...)
}

// Stop unsubscribes and waits for in-flight reliable replies within the
// timeout. Idempotent.
func (i *Ingress) Stop(timeout time.Duration) error {
	if !i.running.Load() {
		return nil
	}
	i.running.Store(false)

	i.mu.Lock()
	if i.sub != nil {
		_ = i.sub.Unsubscribe()
		i.sub = nil
	}
	i.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"nats-ingress", "Stop", "graceful shutdown")
	}
}

// Health returns the current health status of the ingress.
func (i *Ingress) Health() component.HealthStatus {
	healthy := i.running.Load() && i.client != nil && i.client.IsConnected()
	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(i.dropped.Load()),
		Uptime:     time.Since(i.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (i *Ingress) DataFlow() component.FlowMetrics {
	received := i.received.Load()
	dropped := i.dropped.Load()
	lastActivity, _ := i.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(i.startTime).Seconds(); uptime > 0 {
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
