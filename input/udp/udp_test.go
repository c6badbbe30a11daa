package udp

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/dispatch"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/host"
)

// startStack wires a real dispatcher behind a UDP input on an ephemeral port.
func startStack(t *testing.T) (*Input, *host.Recorder) {
	t.Helper()

	recorder := host.NewRecorder()
	d := dispatch.New(dispatch.Deps{Invoker: recorder})
	require.NoError(t, d.Initialize())
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(time.Second) })

	u := NewInput(Deps{
		Submitter: d,
		Bind:      "127.0.0.1",
		Port:      0,
	})
	require.NotNil(t, u)
	require.NoError(t, u.Initialize())
	require.NoError(t, u.Start(context.Background()))
	t.Cleanup(func() { _ = u.Stop(2 * time.Second) })

	return u, recorder
}

func dialInput(t *testing.T, u *Input) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", u.Addr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestLossyCommandReachesHost(t *testing.T) {
	u, recorder := startStack(t)
	conn := dialInput(t, u)

	_, err := conn.Write([]byte(`{"type":"set_volume","params":{"track_index":0,"value":0.5}}`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return recorder.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"set_volume"}, recorder.Names())
}

func TestCriticalCommandNeverInvoked(t *testing.T) {
	u, recorder := startStack(t)
	conn := dialInput(t, u)

	_, err := conn.Write([]byte(`{"type":"delete_track","params":{"track_index":0}}`))
	require.NoError(t, err)
	// A permitted command after it proves the rejected one was processed.
	_, err = conn.Write([]byte(`{"type":"set_tempo","params":{"value":128}}`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return recorder.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"set_tempo"}, recorder.Names())
}

func TestReliableOnlyReadRejected(t *testing.T) {
	u, recorder := startStack(t)
	conn := dialInput(t, u)

	_, err := conn.Write([]byte(`{"type":"get_session_info"}`))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"type":"set_pan","params":{"track_index":1,"value":-0.2}}`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return recorder.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"set_pan"}, recorder.Names())
}

func TestMalformedDatagramProducesNoResponse(t *testing.T) {
	u, recorder := startStack(t)
	conn := dialInput(t, u)

	_, err := conn.Write([]byte(`{"type": not json`))
	require.NoError(t, err)

	// Nothing is ever written back on this transport.
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	_, readErr := conn.Read(buf)
	require.Error(t, readErr)
	netErr, ok := readErr.(net.Error)
	require.True(t, ok)
	assert.True(t, netErr.Timeout())

	assert.Equal(t, 0, recorder.Count())
}

func TestUnknownCommandDropped(t *testing.T) {
	u, recorder := startStack(t)
	conn := dialInput(t, u)

	_, err := conn.Write([]byte(`{"type":"warp_reality"}`))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"type":"scrub_position","params":{"value":1.5}}`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return recorder.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"scrub_position"}, recorder.Names())
}

func TestManyDatagramsAllDelivered(t *testing.T) {
	u, recorder := startStack(t)
	conn := dialInput(t, u)

	const n = 50
	for i := 0; i < n; i++ {
		_, err := conn.Write([]byte(`{"type":"set_volume","params":{"track_index":0,"value":0.5}}`))
		require.NoError(t, err)
	}

	// Local loopback should deliver all of them; the assertion allows for
	// nothing stronger than that on a lossy transport.
	assert.Eventually(t, func() bool {
		return recorder.Count() == n
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReadErrorClassification(t *testing.T) {
	assert.True(t, fatalReadError(net.ErrClosed))
	assert.True(t, fatalReadError(&net.OpError{Op: "read", Net: "udp", Err: net.ErrClosed}))

	// Anything the kernel throws short of a closed socket must not end the
	// read loop.
	assert.False(t, fatalReadError(&net.OpError{Op: "read", Net: "udp",
		Err: fmt.Errorf("connection refused")}))
	assert.False(t, fatalReadError(fmt.Errorf("no buffer space available")))
}

func TestSocketClosureEndsLoopAndHealth(t *testing.T) {
	u, _ := startStack(t)

	// The socket dying underneath the loop must end it and surface in health,
	// not leave a dead component reporting healthy.
	u.mu.RLock()
	conn := u.conn
	u.mu.RUnlock()
	require.NoError(t, conn.Close())

	select {
	case <-u.done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after socket closure")
	}
	assert.False(t, u.Health().Healthy)
}

func TestStopIsIdempotent(t *testing.T) {
	u, _ := startStack(t)
	require.NoError(t, u.Stop(time.Second))
	require.NoError(t, u.Stop(time.Second))
}

func TestInitializeRequiresSubmitter(t *testing.T) {
	u := NewInput(Deps{Bind: "127.0.0.1", Port: 0})
	require.NotNil(t, u)
	assert.Error(t, u.Initialize())
}
