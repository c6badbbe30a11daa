package host

import (
	"context"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Name   string
	Params Params
}

// Recorder is an Invoker for tests. It records every invocation in order and
// returns configurable results. Unlike a real adapter it is safe to inspect
// from other goroutines, since tests assert on it while the dispatcher runs.
type Recorder struct {
	mu    sync.Mutex
	calls []Call

	// Result returned for every call when ResultFor has no entry.
	Result Result
	// ResultFor maps a command name to its result.
	ResultFor map[string]Result
	// ErrFor maps a command name to an error to return.
	ErrFor map[string]error
	// OnInvoke, when set, runs inside Invoke before returning. Used to
	// simulate slow or panicking host calls.
	OnInvoke func(name string, params Params)
}

var _ Invoker = (*Recorder)(nil)

// NewRecorder creates a recorder returning empty results.
func NewRecorder() *Recorder {
	return &Recorder{Result: Result{}}
}

// Invoke implements Invoker
func (r *Recorder) Invoke(_ context.Context, name string, params Params) (Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Params: params})
	hook := r.OnInvoke
	r.mu.Unlock()

	if hook != nil {
		hook(name, params)
	}

	if err, ok := r.ErrFor[name]; ok {
		return nil, err
	}
	if res, ok := r.ResultFor[name]; ok {
		return res, nil
	}
	return r.Result, nil
}

// Calls returns a copy of the recorded invocations in arrival order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Names returns just the recorded command names in arrival order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.calls))
	for i, c := range r.calls {
		names[i] = c.Name
	}
	return names
}

// Count returns the number of recorded invocations.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
