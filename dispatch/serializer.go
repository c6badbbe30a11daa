package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/component"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/host"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
)

// DefaultQueueCapacity bounds the task queue when no capacity is configured.
const DefaultQueueCapacity = 1024

// Dispatcher is the execution serializer. It owns the host Invoker and is
// the only caller of it: tasks from every transport funnel into one FIFO
// queue consumed by a single goroutine, so the non-reentrant host API sees
// strictly ordered, non-concurrent calls.
type Dispatcher struct {
	invoker  host.Invoker
	queue    chan Task
	logger   *slog.Logger
	metrics  *Metrics
	capacity int

	// Lifecycle management
	accepting atomic.Bool
	running   atomic.Bool
	shutdown  chan struct{}
	done      chan struct{}
	startTime time.Time

	// Counters
	seq           atomic.Uint64
	tasksExecuted atomic.Int64
	tasksFailed   atomic.Int64
	lastActivity  atomic.Value // stores time.Time
}

// Ensure Dispatcher implements the lifecycle contract
var _ component.Component = (*Dispatcher)(nil)

// Deps holds construction dependencies for the dispatcher.
type Deps struct {
	// Invoker is the host adapter. Ownership transfers to the dispatcher;
	// no other component may retain a reference.
	Invoker host.Invoker
	// QueueCapacity bounds the task queue; 0 means DefaultQueueCapacity.
	QueueCapacity int
	// MetricsRegistry is optional; nil disables metrics.
	MetricsRegistry *metric.Registry
	// Logger is optional; nil falls back to slog.Default.
	Logger *slog.Logger
}

// New creates a dispatcher. The queue is created here so Submit works (and
// queues) even before Start; nothing executes until Start runs.
func New(deps Deps) *Dispatcher {
	capacity := deps.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dispatcher")
	}

	d := &Dispatcher{
		invoker:  deps.Invoker,
		queue:    make(chan Task, capacity),
		capacity: capacity,
		logger:   logger,
		metrics:  newMetrics(deps.MetricsRegistry),
	}
	d.lastActivity.Store(time.Time{})
	return d
}

// Meta returns the component metadata
func (d *Dispatcher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "dispatcher",
		Type:        "core",
		Description: fmt.Sprintf("serialized host command executor (queue capacity %d)", d.capacity),
	}
}

// Initialize validates construction state.
func (d *Dispatcher) Initialize() error {
	if d.invoker == nil {
		return errors.WrapInvalid(fmt.Errorf("nil host invoker"),
			"dispatcher", "Initialize", "invoker validation")
	}
	return nil
}

// Start launches the consumer goroutine and opens the queue for intake.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.running.Load() {
		return nil // Already running, idempotent
	}
	if d.invoker == nil {
		return errors.WrapInvalid(fmt.Errorf("nil host invoker"),
			"dispatcher", "Start", "invoker validation")
	}

	d.shutdown = make(chan struct{})
	d.done = make(chan struct{})
	d.startTime = time.Now()
	d.running.Store(true)
	d.accepting.Store(true)

	// Host invocations survive context cancellation: a task already queued
	// when shutdown begins must still run to completion to keep host state
	// consistent.
	execCtx := context.WithoutCancel(ctx)

	go d.run(ctx, execCtx)
	return nil
}

// run consumes tasks one at a time, strictly in arrival order.
func (d *Dispatcher) run(ctx context.Context, execCtx context.Context) {
	defer close(d.done)

	for {
		select {
		case task := <-d.queue:
			d.execute(execCtx, task)
		case <-ctx.Done():
			// Intake must be closed before the consumer exits: a task
			// accepted after this point would sit in the queue forever and
			// its reliable caller would hang for the full reply timeout.
			d.accepting.Store(false)
			d.running.Store(false)
			d.drain(execCtx)
			return
		case <-d.shutdown:
			d.drain(execCtx)
			return
		}
	}
}

// drain executes everything already queued, then returns. New submissions
// are refused by the time this runs.
func (d *Dispatcher) drain(execCtx context.Context) {
	for {
		select {
		case task := <-d.queue:
			d.execute(execCtx, task)
		default:
			return
		}
	}
}

// execute runs one task against the host and settles its completion handle.
// A panic inside the host invocation is contained here: it becomes an error
// outcome and the consumer loop keeps running.
func (d *Dispatcher) execute(ctx context.Context, task Task) {
	if d.metrics != nil {
		d.metrics.queueDepth.Set(float64(len(d.queue)))
	}

	start := time.Now()
	result, err := d.invokeSafely(ctx, task.Command)
	elapsed := time.Since(start)

	d.lastActivity.Store(time.Now())
	if err != nil {
		d.tasksFailed.Add(1)
	}
	d.tasksExecuted.Add(1)

	if d.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		d.metrics.tasksExecuted.WithLabelValues(status).Inc()
		d.metrics.executionDuration.Observe(elapsed.Seconds())
	}

	if task.completion != nil {
		// Reliable transport: exactly one write, then the handle is dead.
		task.completion.deliver(Outcome{Result: result, Err: err})
		return
	}

	// Fire-and-forget: discard the outcome, log errors only.
	if err != nil {
		d.logger.Warn("fire-and-forget command failed",
			"command", task.Command.Name,
			"seq", task.seq,
			"error", err)
	}
}

// invokeSafely calls the host adapter with panic containment.
func (d *Dispatcher) invokeSafely(ctx context.Context, cmd command.Command) (result host.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			d.logger.Error("panic in host invocation",
				"command", cmd.Name,
				"panic", r,
				"stack", string(buf[:n]))
			if d.metrics != nil {
				d.metrics.panicsRecovered.Inc()
			}
			result = nil
			err = errors.WrapTransient(
				fmt.Errorf("%w: panic in %q: %v", errors.ErrHost, cmd.Name, r),
				"dispatcher", "invokeSafely", "host invocation")
		}
	}()

	return d.invoker.Invoke(ctx, cmd.Name, cmd.Params)
}

// Submit enqueues a reliable-transport command and returns the completion
// handle the caller blocks on. Returns an error when the dispatcher is
// shutting down or the queue is full; the command is then never executed.
func (d *Dispatcher) Submit(cmd command.Command) (*Completion, error) {
	completion := newCompletion()
	if err := d.enqueue(Task{Command: cmd, completion: completion}); err != nil {
		return nil, err
	}
	return completion, nil
}

// SubmitAsync enqueues a fire-and-forget command. No completion handle is
// created; the outcome is discarded after error logging.
func (d *Dispatcher) SubmitAsync(cmd command.Command) error {
	return d.enqueue(Task{Command: cmd})
}

func (d *Dispatcher) enqueue(task Task) error {
	if !d.accepting.Load() {
		if d.metrics != nil {
			d.metrics.tasksDropped.Inc()
		}
		return errors.WrapTransient(errors.ErrShuttingDown,
			"dispatcher", "enqueue", "intake check")
	}

	task.seq = d.seq.Add(1)

	select {
	case d.queue <- task:
		if d.metrics != nil {
			d.metrics.tasksSubmitted.WithLabelValues(task.Command.Transport.String()).Inc()
			d.metrics.queueDepth.Set(float64(len(d.queue)))
		}
		return nil
	default:
		if d.metrics != nil {
			d.metrics.tasksDropped.Inc()
		}
		return errors.WrapTransient(errors.ErrQueueFull,
			"dispatcher", "enqueue", "queue capacity check")
	}
}

// Stop closes intake, drains tasks already queued within the timeout, then
// stops the consumer. Idempotent; safe with nothing in flight.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	if !d.running.Load() {
		return nil
	}
	d.accepting.Store(false)
	d.running.Store(false)

	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}

	select {
	case <-d.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout),
			"dispatcher", "Stop", "graceful shutdown")
	}
}

// Health returns the current health status of the dispatcher.
func (d *Dispatcher) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    d.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(d.tasksFailed.Load()),
		Uptime:     time.Since(d.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (d *Dispatcher) DataFlow() component.FlowMetrics {
	executed := d.tasksExecuted.Load()
	failed := d.tasksFailed.Load()
	lastActivity, _ := d.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(d.startTime).Seconds(); uptime > 0 {
		perSecond = float64(executed) / uptime
	}
	if executed > 0 {
		errorRate = float64(failed) / float64(executed)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// QueueDepth returns the number of tasks currently waiting.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}
