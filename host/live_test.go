package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/command"
)

func invoke(t *testing.T, ls *LiveSet, name string, params Params) Result {
	t.Helper()
	res, err := ls.Invoke(context.Background(), name, params)
	require.NoError(t, err)
	return res
}

func TestLiveSetImplementsEveryClassifiedCommand(t *testing.T) {
	// The classification table and the adapter switch must enumerate the
	// same command set. Drive every name with plausible params and assert
	// none falls through to the "not implemented" default.
	params := Params{
		"track": float64(0), "slot": float64(0), "send": float64(0),
		"device": float64(0), "param": float64(0),
		"value": 0.5, "length": 4.0, "uri": "Operator",
	}

	for _, name := range command.Names() {
		ls := NewLiveSet()
		_, err := ls.Invoke(context.Background(), name, params)
		if err != nil {
			assert.NotContains(t, err.Error(), "not implemented",
				"command %s missing from adapter switch", name)
		}
	}
}

func TestSetVolumeThenGetValue(t *testing.T) {
	ls := NewLiveSet()
	invoke(t, ls, "set_volume", Params{"track": float64(0), "value": 0.5})

	res := invoke(t, ls, "get_value", Params{"track": float64(0), "field": "volume"})
	assert.Equal(t, 0.5, res["value"])
}

func TestSetVolumeClamps(t *testing.T) {
	ls := NewLiveSet()
	invoke(t, ls, "set_volume", Params{"track": float64(0), "value": 3.0})
	res := invoke(t, ls, "get_value", Params{"track": float64(0)})
	assert.Equal(t, 1.0, res["value"])
}

func TestSetVolumeBadParams(t *testing.T) {
	ls := NewLiveSet()

	_, err := ls.Invoke(context.Background(), "set_volume", Params{"value": 0.5})
	assert.ErrorContains(t, err, `missing parameter "track"`)

	_, err = ls.Invoke(context.Background(), "set_volume",
		Params{"track": "drums", "value": 0.5})
	assert.ErrorContains(t, err, "must be a number")

	_, err = ls.Invoke(context.Background(), "set_volume",
		Params{"track": 1.5, "value": 0.5})
	assert.ErrorContains(t, err, "must be an integer")

	_, err = ls.Invoke(context.Background(), "set_volume",
		Params{"track": float64(99), "value": 0.5})
	assert.ErrorContains(t, err, "out of range")
}

func TestTempoAndSessionInfo(t *testing.T) {
	ls := NewLiveSet()
	invoke(t, ls, "set_tempo", Params{"value": 174.0})

	res := invoke(t, ls, "get_session_info", nil)
	assert.Equal(t, 174.0, res["tempo"])
	assert.Equal(t, 4, res["track_count"])
	assert.Equal(t, false, res["playing"])

	// Out-of-range tempo clamps rather than erroring; tempo is a
	// continuous control.
	invoke(t, ls, "set_tempo", Params{"value": 5.0})
	res = invoke(t, ls, "get_session_info", nil)
	assert.Equal(t, minTempo, res["tempo"])
}

func TestCreateAndDeleteTrack(t *testing.T) {
	ls := NewLiveSet()
	require.Equal(t, 4, ls.TrackCount())

	res := invoke(t, ls, "create_midi_track", nil)
	assert.Equal(t, 4, res["index"])
	assert.Equal(t, 5, ls.TrackCount())

	res = invoke(t, ls, "create_audio_track", Params{"index": float64(0)})
	assert.Equal(t, 0, res["index"])
	assert.Equal(t, 6, ls.TrackCount())

	invoke(t, ls, "delete_track", Params{"track": float64(0)})
	assert.Equal(t, 5, ls.TrackCount())
}

func TestDeleteLastTrackRefused(t *testing.T) {
	ls := NewLiveSet()
	for ls.TrackCount() > 1 {
		invoke(t, ls, "delete_track", Params{"track": float64(0)})
	}
	_, err := ls.Invoke(context.Background(), "delete_track", Params{"track": float64(0)})
	assert.ErrorContains(t, err, "last track")
}

func TestClipLifecycle(t *testing.T) {
	ls := NewLiveSet()
	slot := Params{"track": float64(0), "slot": float64(2)}

	invoke(t, ls, "create_clip", Params{"track": float64(0), "slot": float64(2), "length": 8.0})

	// Creating into an occupied slot fails.
	_, err := ls.Invoke(context.Background(), "create_clip", slot)
	assert.ErrorContains(t, err, "already holds a clip")

	invoke(t, ls, "fire_clip", slot)
	info := invoke(t, ls, "get_track_info", Params{"track": float64(0)})
	clips := info["clips"].([]any)
	require.NotNil(t, clips[2])
	assert.Equal(t, true, clips[2].(map[string]any)["playing"])

	invoke(t, ls, "stop_clip", slot)
	invoke(t, ls, "delete_clip", slot)

	_, err = ls.Invoke(context.Background(), "fire_clip", slot)
	assert.ErrorContains(t, err, "empty")
}

func TestCreateClipOnAudioTrackFails(t *testing.T) {
	ls := NewLiveSet()
	_, err := ls.Invoke(context.Background(), "create_clip",
		Params{"track": float64(2), "slot": float64(0)})
	assert.ErrorContains(t, err, "not a MIDI track")
}

func TestDuplicateTrackCopiesState(t *testing.T) {
	ls := NewLiveSet()
	invoke(t, ls, "set_volume", Params{"track": float64(1), "value": 0.25})
	invoke(t, ls, "load_instrument", Params{"track": float64(1), "uri": "Wavetable"})

	res := invoke(t, ls, "duplicate_track", Params{"track": float64(1)})
	dupIndex := res["index"].(int)
	assert.Equal(t, 2, dupIndex)

	info := invoke(t, ls, "get_track_info", Params{"track": float64(dupIndex)})
	assert.Equal(t, 0.25, info["volume"])
	assert.Equal(t, "Wavetable", info["instrument"])
	assert.Contains(t, info["name"], "Copy")
}

func TestPlaybackStopsAllClips(t *testing.T) {
	ls := NewLiveSet()
	invoke(t, ls, "create_clip", Params{"track": float64(0), "slot": float64(0)})
	invoke(t, ls, "fire_clip", Params{"track": float64(0), "slot": float64(0)})

	res := invoke(t, ls, "get_session_info", nil)
	assert.Equal(t, true, res["playing"])

	invoke(t, ls, "stop_playback", nil)
	res = invoke(t, ls, "get_session_info", nil)
	assert.Equal(t, false, res["playing"])

	info := invoke(t, ls, "get_track_info", Params{"track": float64(0)})
	clips := info["clips"].([]any)
	assert.Equal(t, false, clips[0].(map[string]any)["playing"])
}

func TestUnknownOperation(t *testing.T) {
	ls := NewLiveSet()
	_, err := ls.Invoke(context.Background(), "self_destruct", nil)
	assert.ErrorContains(t, err, "not implemented")
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.ResultFor = map[string]Result{"get_value": {"value": 1.0}}
	rec.ErrFor = map[string]error{"delete_track": assert.AnError}

	res, err := rec.Invoke(context.Background(), "get_value", Params{"track": float64(0)})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res["value"])

	_, err = rec.Invoke(context.Background(), "delete_track", nil)
	assert.Error(t, err)

	assert.Equal(t, []string{"get_value", "delete_track"}, rec.Names())
	assert.Equal(t, 2, rec.Count())
}
