package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
)

// Metrics holds Prometheus metrics for the dispatcher
type Metrics struct {
	tasksSubmitted    *prometheus.CounterVec
	tasksExecuted     *prometheus.CounterVec
	tasksDropped      prometheus.Counter
	panicsRecovered   prometheus.Counter
	queueDepth        prometheus.Gauge
	executionDuration prometheus.Histogram
}

// newMetrics creates and registers dispatcher metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted into the queue, by transport class",
		}, []string{"transport"}),
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "tasks_executed_total",
			Help:      "Tasks executed against the host, by outcome",
		}, []string{"status"}),
		tasksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "tasks_dropped_total",
			Help:      "Tasks rejected because the queue was full or closed",
		}),
		panicsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "panics_recovered_total",
			Help:      "Panics caught at the host invocation boundary",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Tasks currently waiting in the queue",
		}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "dispatch",
			Name:      "execution_duration_seconds",
			Help:      "Host invocation latency",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}

	registry.RegisterCounterVec("dispatch", "tasks_submitted", metrics.tasksSubmitted)
	registry.RegisterCounterVec("dispatch", "tasks_executed", metrics.tasksExecuted)
	registry.RegisterCounter("dispatch", "tasks_dropped", metrics.tasksDropped)
	registry.RegisterCounter("dispatch", "panics_recovered", metrics.panicsRecovered)
	registry.RegisterGauge("dispatch", "queue_depth", metrics.queueDepth)
	registry.RegisterHistogram("dispatch", "execution_duration", metrics.executionDuration)

	return metrics
}
