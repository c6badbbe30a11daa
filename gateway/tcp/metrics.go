package tcp

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
)

// Metrics holds Prometheus metrics for the TCP gateway
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	parseErrors       prometheus.Counter
	bytesRead         prometheus.Counter
	replyDuration     prometheus.Histogram
}

// newMetrics creates and registers TCP gateway metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "tcp",
			Name:      "connections_active",
			Help:      "Client connections currently open",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tcp",
			Name:      "connections_total",
			Help:      "Client connections accepted since start",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tcp",
			Name:      "requests_total",
			Help:      "Requests answered, by response status",
		}, []string{"status"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tcp",
			Name:      "parse_errors_total",
			Help:      "Malformed messages answered with a parse error",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tcp",
			Name:      "bytes_read_total",
			Help:      "Bytes read from client connections",
		}),
		replyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "tcp",
			Name:      "reply_duration_seconds",
			Help:      "Time from complete request to response write",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}

	registry.RegisterGauge("tcp", "connections_active", metrics.connectionsActive)
	registry.RegisterCounter("tcp", "connections_total", metrics.connectionsTotal)
	registry.RegisterCounterVec("tcp", "requests", metrics.requestsTotal)
	registry.RegisterCounter("tcp", "parse_errors", metrics.parseErrors)
	registry.RegisterCounter("tcp", "bytes_read", metrics.bytesRead)
	registry.RegisterHistogram("tcp", "reply_duration", metrics.replyDuration)

	return metrics
}
