// Package service orchestrates component lifecycles: ordered startup,
// reverse-order shutdown, and health fan-in for the /healthz endpoint.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/component"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/health"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/metric"
)

// Manager starts components in registration order and stops them in reverse,
// so transports come up after the dispatcher they feed and go down before it.
type Manager struct {
	components []component.Component
	monitor    *health.Monitor
	registry   *metric.Registry
	logger     *slog.Logger

	started []component.Component
	running bool
	mu      sync.Mutex
}

// NewManager creates a lifecycle manager. Monitor and registry are optional.
func NewManager(monitor *health.Monitor, registry *metric.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "service-manager")
	}
	return &Manager{
		monitor:  monitor,
		registry: registry,
		logger:   logger,
	}
}

// Register appends a component to the startup order. Must be called before
// StartAll.
func (m *Manager) Register(c component.Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

// Components returns the registered components in startup order.
func (m *Manager) Components() []component.Component {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]component.Component, len(m.components))
	copy(out, m.components)
	return out
}

// StartAll initializes and starts every registered component in order. The
// first failure stops the sequence and rolls back the components already
// started, in reverse.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"service-manager", "StartAll", "running check")
	}

	for _, c := range m.components {
		name := c.Meta().Name

		if err := c.Initialize(); err != nil {
			m.rollback()
			return errors.Wrap(err, "service-manager", "StartAll",
				fmt.Sprintf("initialize %s", name))
		}
		if err := c.Start(ctx); err != nil {
			m.rollback()
			return errors.Wrap(err, "service-manager", "StartAll",
				fmt.Sprintf("start %s", name))
		}

		m.started = append(m.started, c)
		m.markUp(name, true)
		m.logger.Info("component started", "component", name)
	}

	m.running = true
	return nil
}

// rollback stops already-started components in reverse order. Errors are
// logged and swallowed; the original startup failure is the one that matters.
func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		name := c.Meta().Name
		if err := c.Stop(5 * time.Second); err != nil {
			m.logger.Warn("rollback stop failed", "component", name, "error", err)
		}
		m.markUp(name, false)
	}
	m.started = nil
}

// StopAll stops every started component in reverse order, giving each the
// full timeout. All stops are attempted even when some fail; the first
// error is returned. Idempotent.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running && len(m.started) == 0 {
		return nil
	}
	m.running = false

	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		name := c.Meta().Name

		if err := c.Stop(timeout); err != nil {
			m.logger.Error("component stop failed", "component", name, "error", err)
			if m.registry != nil {
				m.registry.Core.ComponentErrors.WithLabelValues(name).Inc()
			}
			if firstErr == nil {
				firstErr = err
			}
		} else {
			m.logger.Info("component stopped", "component", name)
		}
		m.markUp(name, false)
	}

	m.started = nil
	return firstErr
}

func (m *Manager) markUp(name string, up bool) {
	if m.registry != nil {
		value := 0.0
		if up {
			value = 1.0
		}
		m.registry.Core.ComponentUp.WithLabelValues(name).Set(value)
	}
	if m.monitor != nil {
		if up {
			m.monitor.Update(health.NewHealthy(name, ""))
		} else {
			m.monitor.Update(health.NewUnhealthy(name, "stopped"))
		}
	}
}

// RefreshHealth polls every started component and pushes its snapshot into
// the monitor. Called periodically by the binary's health loop.
func (m *Manager) RefreshHealth() {
	m.mu.Lock()
	started := make([]component.Component, len(m.started))
	copy(started, m.started)
	m.mu.Unlock()

	if m.monitor == nil {
		return
	}
	for _, c := range started {
		name := c.Meta().Name
		m.monitor.Update(health.FromComponent(name, c.Health()))
	}
}
