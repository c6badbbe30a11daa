// Package host defines the boundary to the controlled music application.
// The host API is single threaded and non-reentrant: an Invoker is owned by
// exactly one caller (the dispatcher) and must never be invoked concurrently.
package host

import (
	"context"
)

// Result is the structured payload a host operation returns. Operations with
// nothing to report return an empty (non-nil) map.
type Result = map[string]any

// Params is the structured parameter set a host operation receives.
type Params = map[string]any

// Invoker is the single outward boundary of the bridge core. Implementations
// wrap the host application's control API. Invoke is synchronous and may
// block for as long as the host needs; callers must tolerate that.
//
// Invoke is guaranteed to be called from one goroutine only. Implementations
// do not need internal locking and must not be shared outside the
// dispatcher that owns them.
type Invoker interface {
	// Invoke executes the named operation with the given parameters.
	Invoke(ctx context.Context, name string, params Params) (Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, name string, params Params) (Result, error)

// Invoke implements Invoker
func (f InvokerFunc) Invoke(ctx context.Context, name string, params Params) (Result, error) {
	return f(ctx, name, params)
}
