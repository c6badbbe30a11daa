// Package metric manages Prometheus metrics for the bridge: a private
// registry, core per-component status metrics, and the HTTP server exposing
// them.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
)

// Namespace is the Prometheus namespace for every bridge metric.
const Namespace = "livebridge"

// Core holds process-wide metrics maintained by the service manager.
type Core struct {
	// ComponentUp is 1 while a component is running, 0 otherwise.
	ComponentUp *prometheus.GaugeVec
	// ComponentErrors counts lifecycle errors per component.
	ComponentErrors *prometheus.CounterVec
}

func newCore() *Core {
	return &Core{
		ComponentUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "component_up",
			Help:      "Whether a component is currently running",
		}, []string{"component"}),
		ComponentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "component_errors_total",
			Help:      "Lifecycle errors per component",
		}, []string{"component"}),
	}
}

// Registry manages the registration and lifecycle of bridge metrics.
type Registry struct {
	prom       *prometheus.Registry
	Core       *Core
	registered map[string]prometheus.Collector
	mu         sync.Mutex
}

// NewRegistry creates a registry with core metrics and Go runtime
// collectors pre-registered.
func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	core := newCore()

	prom.MustRegister(
		core.ComponentUp,
		core.ComponentErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		prom:       prom,
		Core:       core,
		registered: make(map[string]prometheus.Collector),
	}
}

// Prometheus returns the underlying Prometheus registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// register adds a collector under "component.metric", refusing duplicates.
func (r *Registry) register(component, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, component),
			"Registry", "register", "duplicate metric registration")
	}

	if err := r.prom.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "Registry", "register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "Registry", "register",
			"prometheus registration")
	}

	r.registered[key] = collector
	return nil
}

// RegisterCounter registers a counter metric for a component
func (r *Registry) RegisterCounter(component, name string, counter prometheus.Counter) error {
	return r.register(component, name, counter)
}

// RegisterGauge registers a gauge metric for a component
func (r *Registry) RegisterGauge(component, name string, gauge prometheus.Gauge) error {
	return r.register(component, name, gauge)
}

// RegisterHistogram registers a histogram metric for a component
func (r *Registry) RegisterHistogram(component, name string, histogram prometheus.Histogram) error {
	return r.register(component, name, histogram)
}

// RegisterCounterVec registers a counter vector metric for a component
func (r *Registry) RegisterCounterVec(component, name string, vec *prometheus.CounterVec) error {
	return r.register(component, name, vec)
}

// RegisterGaugeVec registers a gauge vector metric for a component
func (r *Registry) RegisterGaugeVec(component, name string, vec *prometheus.GaugeVec) error {
	return r.register(component, name, vec)
}

// Unregister removes a metric from the registry
func (r *Registry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	if r.prom.Unregister(collector) {
		delete(r.registered, key)
		return true
	}
	return false
}
