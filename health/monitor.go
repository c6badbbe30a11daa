package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Monitor tracks the latest health status of every registered component and
// serves the aggregate over HTTP as /healthz.
type Monitor struct {
	system   string
	statuses map[string]Status
	mu       sync.RWMutex
}

// NewMonitor creates a monitor aggregating under the given system name.
func NewMonitor(system string) *Monitor {
	return &Monitor{
		system:   system,
		statuses: make(map[string]Status),
	}
}

// Update records the latest status for a component.
func (m *Monitor) Update(status Status) {
	if status.Component == "" {
		return
	}
	m.mu.Lock()
	m.statuses[status.Component] = status
	m.mu.Unlock()
}

// Get returns the last recorded status for a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove drops a component from the monitor.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Components returns the registered component names, sorted.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// System returns the aggregate status over all registered components.
func (m *Monitor) System() Status {
	m.mu.RLock()
	parts := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		parts = append(parts, status)
	}
	m.mu.RUnlock()

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].Component < parts[j].Component
	})
	return Aggregate(m.system, parts)
}

// ServeHTTP serves the aggregate status as JSON. Unhealthy systems report
// 503 so load balancers and probes can act on the status code alone.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.System()

	code := http.StatusOK
	if status.Status == StateUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
