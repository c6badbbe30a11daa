// Package buffer provides a generic, thread-safe circular buffer used to
// stage inbound datagrams between a socket read loop and the dispatcher.
// Overflow behavior is configurable (DropOldest or DropNewest); statistics
// are always collected, and drop counts can optionally be exported as
// Prometheus metrics via a caller-provided counter.
package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OverflowPolicy selects what happens when a write hits a full buffer.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	// The right policy for continuous-control streams, where the newest
	// value supersedes everything before it.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item and keeps the backlog.
	DropNewest
)

// DropCallback is invoked with each item discarded by the overflow policy.
type DropCallback[T any] func(item T)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*options[T])

type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
	dropCounter    prometheus.Counter
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *options[T]) {
		opts.overflowPolicy = policy
	}
}

// WithDropCallback sets a callback invoked for each dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *options[T]) {
		opts.dropCallback = callback
	}
}

// WithDropCounter increments the given Prometheus counter for each dropped
// item. A nil counter is ignored.
func WithDropCounter[T any](counter prometheus.Counter) Option[T] {
	return func(opts *options[T]) {
		opts.dropCounter = counter
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	applied := &options[T]{overflowPolicy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(applied)
		}
	}
	return applied
}
