// Package component defines the lifecycle contract shared by every runtime
// part of the bridge (transports, gateways, ingresses, the dispatcher) and
// the health/flow snapshots they expose.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during a lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metadata describes a component for logs and health reporting.
type Metadata struct {
	Name        string
	Type        string
	Description string
}

// Component is a lifecycle-managed runtime part of the bridge:
//   - Initialize() error                // validate/create only, no context
//   - Start(ctx context.Context) error  // begin work, must not block
//   - Stop(timeout time.Duration) error // graceful stop within timeout
//
// Start receives the manager-owned context; components never store it beyond
// passing it into their own goroutines. Stop must be idempotent.
type Component interface {
	Meta() Metadata
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() HealthStatus
}

// HealthStatus is a point-in-time health snapshot of one component.
type HealthStatus struct {
	Healthy    bool
	LastError  string
	LastCheck  time.Time
	ErrorCount int
	Uptime     time.Duration
}

// FlowMetrics is a point-in-time traffic snapshot of one component.
type FlowMetrics struct {
	MessagesPerSecond float64
	BytesPerSecond    float64
	ErrorRate         float64
	LastActivity      time.Time
}

// FlowReporter is implemented by components that can report traffic rates.
type FlowReporter interface {
	DataFlow() FlowMetrics
}
