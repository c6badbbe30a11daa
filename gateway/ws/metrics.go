package ws

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
)

// Metrics holds Prometheus metrics for the WebSocket gateway
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	requestsTotal     *prometheus.CounterVec
	parseErrors       prometheus.Counter
}

// newMetrics creates and registers WebSocket gateway metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Client connections currently open",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Client connections accepted since start",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ws",
			Name:      "requests_total",
			Help:      "Requests answered, by response status",
		}, []string{"status"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ws",
			Name:      "parse_errors_total",
			Help:      "Malformed messages answered with a parse error",
		}),
	}

	registry.RegisterGauge("ws", "connections_active", metrics.connectionsActive)
	registry.RegisterCounter("ws", "connections_total", metrics.connectionsTotal)
	registry.RegisterCounterVec("ws", "requests", metrics.requestsTotal)
	registry.RegisterCounter("ws", "parse_errors", metrics.parseErrors)

	return metrics
}
