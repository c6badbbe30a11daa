package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/dispatch"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/host"
	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/natsclient"
)

// newIngress wires a real dispatcher behind an ingress. Message routing is
// exercised through handleMessage directly, so no broker is needed.
func newIngress(t *testing.T) (*Ingress, *host.Recorder) {
	t.Helper()

	recorder := host.NewRecorder()
	d := dispatch.New(dispatch.Deps{Invoker: recorder})
	require.NoError(t, d.Initialize())
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(time.Second) })

	i := NewIngress(Deps{
		Client:        natsclient.New("nats://127.0.0.1:4222", "test", nil),
		Dispatcher:    d,
		SubjectPrefix: "livebridge",
		ReplyTimeout:  time.Second,
	})
	require.NoError(t, i.Initialize())
	return i, recorder
}

// collectReply returns a respond func that delivers the published response.
func collectReply() (func([]byte) error, chan command.Response) {
	replies := make(chan command.Response, 1)
	respond := func(data []byte) error {
		var resp command.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		replies <- resp
		return nil
	}
	return respond, replies
}

func TestReplyInboxGetsReliableSemantics(t *testing.T) {
	i, recorder := newIngress(t)
	respond, replies := collectReply()

	i.handleMessage("livebridge.command.get_session_info", "_INBOX.abc",
		[]byte(`{"type":"get_session_info"}`), respond)

	select {
	case resp := <-replies:
		assert.Equal(t, command.StatusSuccess, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply published")
	}
	assert.Equal(t, []string{"get_session_info"}, recorder.Names())
}

func TestCriticalCommandAllowedWithReplyInbox(t *testing.T) {
	i, recorder := newIngress(t)
	respond, replies := collectReply()

	i.handleMessage("livebridge.command.delete_track", "_INBOX.abc",
		[]byte(`{"type":"delete_track","params":{"track_index":1}}`), respond)

	select {
	case resp := <-replies:
		assert.Equal(t, command.StatusSuccess, resp.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply published")
	}
	assert.Equal(t, []string{"delete_track"}, recorder.Names())
}

func TestNoInboxGetsLossyPolicy(t *testing.T) {
	i, recorder := newIngress(t)

	// Critical command without a reply inbox is dropped, not executed.
	i.handleMessage("livebridge.command.delete_track", "",
		[]byte(`{"type":"delete_track","params":{"track_index":1}}`), nil)
	// A lossy-eligible one goes through.
	i.handleMessage("livebridge.command.set_volume", "",
		[]byte(`{"type":"set_volume","params":{"track_index":0,"value":0.7}}`), nil)

	assert.Eventually(t, func() bool {
		return recorder.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"set_volume"}, recorder.Names())
	assert.Equal(t, int64(1), i.dropped.Load())
}

func TestMalformedInboxMessageGetsParseErrorReply(t *testing.T) {
	i, recorder := newIngress(t)
	respond, replies := collectReply()

	i.handleMessage("livebridge.command.set_volume", "_INBOX.abc",
		[]byte(`{broken`), respond)

	select {
	case resp := <-replies:
		assert.Equal(t, command.StatusError, resp.Status)
		assert.Equal(t, "parse_error", resp.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply published")
	}
	assert.Equal(t, 0, recorder.Count())
}

func TestMalformedInboxlessMessageSilentlyDropped(t *testing.T) {
	i, recorder := newIngress(t)

	i.handleMessage("livebridge.command.set_volume", "", []byte(`{broken`), nil)

	assert.Equal(t, 0, recorder.Count())
	assert.Equal(t, int64(1), i.dropped.Load())
}

func TestUnknownCommandNeverUpgraded(t *testing.T) {
	i, recorder := newIngress(t)
	respond, replies := collectReply()

	i.handleMessage("livebridge.command.defrag_tape", "_INBOX.abc",
		[]byte(`{"type":"defrag_tape"}`), respond)

	select {
	case resp := <-replies:
		assert.Equal(t, command.StatusError, resp.Status)
		assert.Equal(t, "unknown_command", resp.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply published")
	}
	assert.Equal(t, 0, recorder.Count())
}

func TestInitializeValidation(t *testing.T) {
	i := NewIngress(Deps{SubjectPrefix: "livebridge"})
	assert.Error(t, i.Initialize())

	i = NewIngress(Deps{
		Client:     natsclient.New("nats://127.0.0.1:4222", "test", nil),
		Dispatcher: nil,
	})
	assert.Error(t, i.Initialize())
}
