// Package health provides health monitoring for bridge components and the
// aggregate /healthz endpoint.
package health

import (
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/component"
)

// Health state strings reported on the wire.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status represents the health state of a component or of the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// NewHealthy builds a healthy status for a component.
func NewHealthy(name, message string) Status {
	return Status{
		Component: name,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status for a component.
func NewDegraded(name, message string) Status {
	return Status{
		Component: name,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status for a component.
func NewUnhealthy(name, message string) Status {
	return Status{
		Component: name,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromComponent converts a component's health snapshot into a Status.
func FromComponent(name string, hs component.HealthStatus) Status {
	if hs.Healthy {
		return NewHealthy(name, "")
	}
	return NewUnhealthy(name, hs.LastError)
}

// Aggregate combines sub-statuses into a system status: unhealthy if any
// part is unhealthy, degraded if any part is degraded, healthy otherwise.
func Aggregate(systemName string, parts []Status) Status {
	aggregate := NewHealthy(systemName, "")
	aggregate.SubStatuses = parts

	for _, part := range parts {
		switch part.Status {
		case StateUnhealthy:
			aggregate.Healthy = false
			aggregate.Status = StateUnhealthy
			return aggregate
		case StateDegraded:
			aggregate.Healthy = false
			aggregate.Status = StateDegraded
		}
	}
	return aggregate
}
