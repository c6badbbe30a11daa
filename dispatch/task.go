// Package dispatch contains the execution serializer: the single goroutine
// permitted to call the host API, the FIFO task queue feeding it, and the
// one-shot completion handles that correlate reliable-transport requests
// with their results.
package dispatch

import (
	"time"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/host"
)

// Outcome is the terminal state of one executed task: a host result or an
// error, never both.
type Outcome struct {
	Result host.Result
	Err    error
}

// Completion is a one-shot, single-writer/single-reader handle linking a
// reliable-transport request to its eventual outcome. The serializer writes
// exactly once; the submitting handler reads at most once and then discards
// the handle. The channel is buffered so the serializer's write never blocks
// when the reader has timed out or its connection has died.
type Completion struct {
	ch chan Outcome
}

func newCompletion() *Completion {
	return &Completion{ch: make(chan Outcome, 1)}
}

// deliver writes the outcome. Only the serializer calls this, once per task.
func (c *Completion) deliver(o Outcome) {
	select {
	case c.ch <- o:
	default:
		// Already delivered. Cannot happen with a single writer; kept so a
		// bug here degrades to a dropped outcome instead of a blocked
		// serializer.
	}
}

// Wait blocks until the outcome arrives or the timeout elapses. On timeout
// the handle is simply abandoned: the task still executes against host
// state, only the client-visible wait ends.
func (c *Completion) Wait(timeout time.Duration) (Outcome, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-c.ch:
		return outcome, nil
	case <-timer.C:
		return Outcome{}, errors.WrapTransient(errors.ErrTimeout,
			"completion", "Wait", "bounded result wait")
	}
}

// Task is the unit consumed by the serializer: a command plus, for reliable
// transports only, a completion handle. Fire-and-forget tasks carry nil.
type Task struct {
	Command    command.Command
	completion *Completion
	seq        uint64
}
