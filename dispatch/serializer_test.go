package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/host"
)

func startDispatcher(t *testing.T, rec host.Invoker, capacity int) *Dispatcher {
	t.Helper()
	d := New(Deps{Invoker: rec, QueueCapacity: capacity})
	require.NoError(t, d.Initialize())
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(2 * time.Second) })
	return d
}

func lossy(name string, params map[string]any) command.Command {
	return command.NewCommand(name, params, command.TransportLossy)
}

func reliable(name string, params map[string]any) command.Command {
	return command.NewCommand(name, params, command.TransportReliable)
}

func TestSubmitReliableRoundTrip(t *testing.T) {
	rec := host.NewRecorder()
	rec.ResultFor = map[string]host.Result{"get_value": {"value": 0.85}}
	d := startDispatcher(t, rec, 0)

	completion, err := d.Submit(reliable("get_value", map[string]any{"track": 0.0}))
	require.NoError(t, err)

	outcome, err := completion.Wait(time.Second)
	require.NoError(t, err)
	require.NoError(t, outcome.Err)
	assert.Equal(t, 0.85, outcome.Result["value"])
	assert.Equal(t, []string{"get_value"}, rec.Names())
}

func TestSubmitHostErrorPropagates(t *testing.T) {
	rec := host.NewRecorder()
	rec.ErrFor = map[string]error{"delete_track": fmt.Errorf("track 9 out of range")}
	d := startDispatcher(t, rec, 0)

	completion, err := d.Submit(reliable("delete_track", map[string]any{"track": 9.0}))
	require.NoError(t, err)

	outcome, err := completion.Wait(time.Second)
	require.NoError(t, err)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "out of range")
}

func TestFIFOOrderSingleProducer(t *testing.T) {
	rec := host.NewRecorder()
	d := startDispatcher(t, rec, 0)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, d.SubmitAsync(lossy("set_volume",
			map[string]any{"i": float64(i)})))
	}

	// A final reliable task acts as a barrier: when it completes, everything
	// queued before it has executed (FIFO).
	completion, err := d.Submit(reliable("get_value", nil))
	require.NoError(t, err)
	_, err = completion.Wait(5 * time.Second)
	require.NoError(t, err)

	calls := rec.Calls()
	require.Len(t, calls, n+1)
	for i := 0; i < n; i++ {
		assert.Equal(t, "set_volume", calls[i].Name)
		assert.Equal(t, float64(i), calls[i].Params["i"],
			"task %d executed out of order", i)
	}
}

func TestFIFOOrderPerProducerUnderConcurrency(t *testing.T) {
	rec := host.NewRecorder()
	d := startDispatcher(t, rec, 0)

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = d.SubmitAsync(lossy("set_volume",
					map[string]any{"producer": float64(p), "i": float64(i)}))
			}
		}(p)
	}
	wg.Wait()

	completion, err := d.Submit(reliable("get_value", nil))
	require.NoError(t, err)
	_, err = completion.Wait(5 * time.Second)
	require.NoError(t, err)

	calls := rec.Calls()
	require.Len(t, calls, producers*perProducer+1)

	// The host must never observe a producer's own submissions reordered.
	next := make(map[float64]float64)
	for _, call := range calls[:len(calls)-1] {
		p := call.Params["producer"].(float64)
		assert.Equal(t, next[p], call.Params["i"],
			"producer %v reordered", p)
		next[p]++
	}
}

func TestTimeoutDoesNotBlockLaterTasks(t *testing.T) {
	release := make(chan struct{})
	rec := host.NewRecorder()
	rec.OnInvoke = func(name string, _ host.Params) {
		if name == "load_instrument" {
			<-release
		}
	}
	d := startDispatcher(t, rec, 0)

	slow, err := d.Submit(reliable("load_instrument", map[string]any{"track": 0.0}))
	require.NoError(t, err)

	fast, err := d.Submit(reliable("get_value", nil))
	require.NoError(t, err)

	// The slow task blocks the serializer, so the caller's bounded wait
	// expires while the task keeps running.
	_, err = slow.Wait(50 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))

	// Unblock the host: the abandoned task completes, then the queued task
	// executes and its caller still gets a result.
	close(release)
	outcome, err := fast.Wait(2 * time.Second)
	require.NoError(t, err)
	require.NoError(t, outcome.Err)

	assert.Equal(t, []string{"load_instrument", "get_value"}, rec.Names())
}

func TestPanicContainedAtHostBoundary(t *testing.T) {
	rec := host.NewRecorder()
	rec.OnInvoke = func(name string, _ host.Params) {
		if name == "fire_clip" {
			panic("clip slot corrupted")
		}
	}
	d := startDispatcher(t, rec, 0)

	completion, err := d.Submit(reliable("fire_clip", nil))
	require.NoError(t, err)

	outcome, err := completion.Wait(time.Second)
	require.NoError(t, err)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "panic")
	assert.Equal(t, "host_error", errors.Kind(outcome.Err))

	// The serializer survived and keeps executing.
	after, err := d.Submit(reliable("get_value", nil))
	require.NoError(t, err)
	outcome, err = after.Wait(time.Second)
	require.NoError(t, err)
	assert.NoError(t, outcome.Err)
}

func TestQueueFull(t *testing.T) {
	block := make(chan struct{})
	rec := host.NewRecorder()
	rec.OnInvoke = func(string, host.Params) { <-block }
	defer close(block)

	d := startDispatcher(t, rec, 2)

	// First task occupies the serializer; the next two fill the queue.
	_, err := d.Submit(reliable("set_volume", nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.Count() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, d.SubmitAsync(lossy("set_volume", nil)))
	require.NoError(t, d.SubmitAsync(lossy("set_volume", nil)))

	err = d.SubmitAsync(lossy("set_volume", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrQueueFull))
	assert.Equal(t, "queue_full", errors.Kind(err))
}

func TestAbandonedCompletionNeverBlocksSerializer(t *testing.T) {
	rec := host.NewRecorder()
	d := startDispatcher(t, rec, 0)

	// Submit reliable tasks and abandon every handle without reading.
	for i := 0; i < 50; i++ {
		_, err := d.Submit(reliable("set_volume", map[string]any{"i": float64(i)}))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return rec.Count() == 50 },
		2*time.Second, 5*time.Millisecond,
		"serializer stalled on an abandoned completion handle")
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	rec := host.NewRecorder()
	d := New(Deps{Invoker: rec})
	require.NoError(t, d.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, d.SubmitAsync(lossy("set_volume",
			map[string]any{"i": float64(i)})))
	}

	require.NoError(t, d.Stop(2*time.Second))
	assert.Equal(t, 20, rec.Count(), "queued tasks must drain before stop")

	// Intake is closed after Stop.
	err := d.SubmitAsync(lossy("set_volume", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrShuttingDown))

	// Stop is idempotent.
	require.NoError(t, d.Stop(time.Second))
}

func TestContextCancelClosesIntake(t *testing.T) {
	rec := host.NewRecorder()
	d := New(Deps{Invoker: rec})
	require.NoError(t, d.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))

	cancel()
	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not exit on context cancellation")
	}

	// The consumer is gone, so intake must be refused: an accepted task
	// could never execute and its caller would hang on the completion.
	_, err := d.Submit(reliable("get_value", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrShuttingDown))

	err = d.SubmitAsync(lossy("set_volume", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrShuttingDown))

	assert.Equal(t, 0, rec.Count())
	assert.False(t, d.Health().Healthy)

	// Stop after cancellation is a no-op, not a hang.
	require.NoError(t, d.Stop(time.Second))
}

func TestStopWithNothingInFlight(t *testing.T) {
	d := New(Deps{Invoker: host.NewRecorder()})
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(time.Second))
	require.NoError(t, d.Stop(time.Second))
}

func TestStopTimeoutOnBlockedHost(t *testing.T) {
	release := make(chan struct{})
	rec := host.NewRecorder()
	rec.OnInvoke = func(string, host.Params) { <-release }
	defer close(release)

	d := New(Deps{Invoker: rec})
	require.NoError(t, d.Start(context.Background()))

	_, err := d.Submit(reliable("load_instrument", nil))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.Count() == 1 },
		time.Second, 5*time.Millisecond)

	err = d.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain timeout")
}

func TestInitializeRequiresInvoker(t *testing.T) {
	d := New(Deps{})
	assert.Error(t, d.Initialize())
	assert.Error(t, d.Start(context.Background()))
}

func TestHealthAndDataFlow(t *testing.T) {
	rec := host.NewRecorder()
	rec.ErrFor = map[string]error{"fire_clip": fmt.Errorf("boom")}
	d := startDispatcher(t, rec, 0)

	c1, _ := d.Submit(reliable("get_value", nil))
	_, _ = c1.Wait(time.Second)
	c2, _ := d.Submit(reliable("fire_clip", nil))
	_, _ = c2.Wait(time.Second)

	health := d.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, 1, health.ErrorCount)

	flow := d.DataFlow()
	assert.Equal(t, 0.5, flow.ErrorRate)
	assert.False(t, flow.LastActivity.IsZero())
}
