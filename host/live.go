package host

import (
	"context"
	"fmt"
)

const (
	// slotsPerTrack is the number of clip slots every track exposes.
	slotsPerTrack = 8
	// sendsPerTrack is the number of send knobs every track exposes.
	sendsPerTrack = 4

	defaultTempo = 120.0
	minTempo     = 20.0
	maxTempo     = 999.0
)

// trackKind distinguishes MIDI from audio tracks.
type trackKind string

const (
	trackMIDI  trackKind = "midi"
	trackAudio trackKind = "audio"
)

// clip is one occupied clip slot.
type clip struct {
	length  float64 // beats
	playing bool
}

// track models one mixer channel of the simulated set.
type track struct {
	name       string
	kind       trackKind
	volume     float64
	pan        float64
	mute       bool
	sends      []float64
	instrument string
	params     map[string]float64 // device parameters, keyed "device/param"
	clips      []*clip            // slotsPerTrack entries, nil = empty slot
}

func newTrack(name string, kind trackKind) *track {
	return &track{
		name:   name,
		kind:   kind,
		volume: 0.85,
		sends:  make([]float64, sendsPerTrack),
		params: make(map[string]float64),
		clips:  make([]*clip, slotsPerTrack),
	}
}

// LiveSet is an in-memory stand-in for the real control-surface adapter. It
// implements every classified command against a simulated session so the
// bridge is runnable and testable without the host application attached.
//
// LiveSet has no internal locking. Like the real host API it must only ever
// be invoked from the dispatcher's goroutine.
type LiveSet struct {
	tempo    float64
	playing  bool
	position float64 // song position in beats
	tracks   []*track
}

var _ Invoker = (*LiveSet)(nil)

// NewLiveSet creates a simulated set with a conventional starting layout:
// two MIDI tracks and two audio tracks at the default tempo.
func NewLiveSet() *LiveSet {
	return &LiveSet{
		tempo: defaultTempo,
		tracks: []*track{
			newTrack("1 MIDI", trackMIDI),
			newTrack("2 MIDI", trackMIDI),
			newTrack("3 Audio", trackAudio),
			newTrack("4 Audio", trackAudio),
		},
	}
}

// Invoke executes one named operation. The switch is exhaustive over the
// classification table; an unlisted name indicates a table/adapter mismatch
// and is reported as an error rather than a panic.
func (ls *LiveSet) Invoke(_ context.Context, name string, params Params) (Result, error) {
	switch name {
	case "set_volume":
		return ls.setVolume(params)
	case "set_pan":
		return ls.setPan(params)
	case "set_send":
		return ls.setSend(params)
	case "set_device_param":
		return ls.setDeviceParam(params)
	case "set_tempo":
		return ls.setTempo(params)
	case "scrub_position":
		return ls.scrubPosition(params)
	case "get_value":
		return ls.getValue(params)
	case "get_session_info":
		return ls.getSessionInfo()
	case "get_track_info":
		return ls.getTrackInfo(params)
	case "create_midi_track":
		return ls.createTrack(params, trackMIDI)
	case "create_audio_track":
		return ls.createTrack(params, trackAudio)
	case "create_clip":
		return ls.createClip(params)
	case "duplicate_track":
		return ls.duplicateTrack(params)
	case "delete_track":
		return ls.deleteTrack(params)
	case "delete_clip":
		return ls.deleteClip(params)
	case "fire_clip":
		return ls.fireClip(params)
	case "stop_clip":
		return ls.stopClip(params)
	case "start_playback":
		return ls.startPlayback()
	case "stop_playback":
		return ls.stopPlayback()
	case "load_instrument":
		return ls.loadInstrument(params)
	default:
		return nil, fmt.Errorf("operation %q not implemented by this adapter", name)
	}
}

// TrackCount returns the current number of tracks. Test helper.
func (ls *LiveSet) TrackCount() int {
	return len(ls.tracks)
}

func (ls *LiveSet) trackAt(params Params) (*track, int, error) {
	index, err := intParam(params, "track")
	if err != nil {
		return nil, 0, err
	}
	if index < 0 || index >= len(ls.tracks) {
		return nil, 0, fmt.Errorf("track %d out of range (0..%d)", index, len(ls.tracks)-1)
	}
	return ls.tracks[index], index, nil
}

func (ls *LiveSet) setVolume(params Params) (Result, error) {
	tr, _, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}
	value, err := floatParam(params, "value")
	if err != nil {
		return nil, err
	}
	tr.volume = clamp(value, 0, 1)
	return Result{}, nil
}

func (ls *LiveSet) setPan(params Params) (Result, error) {
	tr, _, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}
	value, err := floatParam(params, "value")
	if err != nil {
		return nil, err
	}
	tr.pan = clamp(value, -1, 1)
	return Result{}, nil
}

func (ls *LiveSet) setSend(params Params) (Result, error) {
	tr, _, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}
	send, err := intParam(params, "send")
	if err != nil {
		return nil, err
	}
	if send < 0 || send >= len(tr.sends) {
		return nil, fmt.Errorf("send %d out of range (0..%d)", send, len(tr.sends)-1)
	}
	value, err := floatParam(params, "value")
	if err != nil {
		return nil, err
	}
	tr.sends[send] = clamp(value, 0, 1)
	return Result{}, nil
}

func (ls *LiveSet) setDeviceParam(params Params) (Result, error) {
	tr, _, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}
	device, err := intParam(params, "device")
	if err != nil {
		return nil, err
	}
	param, err := intParam(params, "param")
	if err != nil {
		return nil, err
	}
	value, err := floatParam(params, "value")
	if err != nil {
		return nil, err
	}
	tr.params[fmt.Sprintf("%d/%d", device, param)] = value
	return Result{}, nil
}

func (ls *LiveSet) setTempo(params Params) (Result, error) {
	value, err := floatParam(params, "value")
	if err != nil {
		return nil, err
	}
	ls.tempo = clamp(value, minTempo, maxTempo)
	return Result{}, nil
}

func (ls *LiveSet) scrubPosition(params Params) (Result, error) {
	value, err := floatParam(params, "value")
	if err != nil {
		return nil, err
	}
	if value < 0 {
		value = 0
	}
	ls.position = value
	return Result{}, nil
}

func (ls *LiveSet) getValue(params Params) (Result, error) {
	// Without a track the query targets the set itself.
	if _, ok := params["track"]; !ok {
		return Result{"value": ls.tempo}, nil
	}

	tr, _, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}
	field, err := stringParamDefault(params, "field", "volume")
	if err != nil {
		return nil, err
	}
	switch field {
	case "volume":
		return Result{"value": tr.volume}, nil
	case "pan":
		return Result{"value": tr.pan}, nil
	case "mute":
		return Result{"value": tr.mute}, nil
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}
}

func (ls *LiveSet) getSessionInfo() (Result, error) {
	return Result{
		"tempo":       ls.tempo,
		"playing":     ls.playing,
		"position":    ls.position,
		"track_count": len(ls.tracks),
		"scene_count": slotsPerTrack,
	}, nil
}

func (ls *LiveSet) getTrackInfo(params Params) (Result, error) {
	tr, index, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}

	slots := make([]any, len(tr.clips))
	for i, c := range tr.clips {
		if c == nil {
			slots[i] = nil
			continue
		}
		slots[i] = map[string]any{"length": c.length, "playing": c.playing}
	}

	return Result{
		"index":      index,
		"name":       tr.name,
		"kind":       string(tr.kind),
		"volume":     tr.volume,
		"pan":        tr.pan,
		"mute":       tr.mute,
		"sends":      append([]float64(nil), tr.sends...),
		"instrument": tr.instrument,
		"clips":      slots,
	}, nil
}

func (ls *LiveSet) createTrack(params Params, kind trackKind) (Result, error) {
	index, err := intParamDefault(params, "index", len(ls.tracks))
	if err != nil {
		return nil, err
	}
	if index < 0 || index > len(ls.tracks) {
		return nil, fmt.Errorf("insert index %d out of range (0..%d)", index, len(ls.tracks))
	}

	name := fmt.Sprintf("%d %s", len(ls.tracks)+1, kind)
	tr := newTrack(name, kind)
	ls.tracks = append(ls.tracks, nil)
	copy(ls.tracks[index+1:], ls.tracks[index:])
	ls.tracks[index] = tr

	return Result{"index": index, "name": name}, nil
}

func (ls *LiveSet) duplicateTrack(params Params) (Result, error) {
	src, index, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}

	dup := newTrack(src.name+" Copy", src.kind)
	dup.volume = src.volume
	dup.pan = src.pan
	dup.mute = src.mute
	copy(dup.sends, src.sends)
	dup.instrument = src.instrument
	for k, v := range src.params {
		dup.params[k] = v
	}
	for i, c := range src.clips {
		if c != nil {
			dup.clips[i] = &clip{length: c.length}
		}
	}

	at := index + 1
	ls.tracks = append(ls.tracks, nil)
	copy(ls.tracks[at+1:], ls.tracks[at:])
	ls.tracks[at] = dup

	return Result{"index": at, "name": dup.name}, nil
}

func (ls *LiveSet) deleteTrack(params Params) (Result, error) {
	_, index, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}
	if len(ls.tracks) == 1 {
		return nil, fmt.Errorf("cannot delete the last track")
	}
	ls.tracks = append(ls.tracks[:index], ls.tracks[index+1:]...)
	return Result{"deleted": index}, nil
}

func (ls *LiveSet) clipSlot(params Params) (*track, int, error) {
	tr, _, err := ls.trackAt(params)
	if err != nil {
		return nil, 0, err
	}
	slot, err := intParam(params, "slot")
	if err != nil {
		return nil, 0, err
	}
	if slot < 0 || slot >= len(tr.clips) {
		return nil, 0, fmt.Errorf("slot %d out of range (0..%d)", slot, len(tr.clips)-1)
	}
	return tr, slot, nil
}

func (ls *LiveSet) createClip(params Params) (Result, error) {
	tr, slot, err := ls.clipSlot(params)
	if err != nil {
		return nil, err
	}
	if tr.kind != trackMIDI {
		return nil, fmt.Errorf("track %q is not a MIDI track", tr.name)
	}
	if tr.clips[slot] != nil {
		return nil, fmt.Errorf("slot %d already holds a clip", slot)
	}
	length, err := floatParamDefault(params, "length", 4)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("clip length must be positive, got %v", length)
	}
	tr.clips[slot] = &clip{length: length}
	return Result{"slot": slot, "length": length}, nil
}

func (ls *LiveSet) deleteClip(params Params) (Result, error) {
	tr, slot, err := ls.clipSlot(params)
	if err != nil {
		return nil, err
	}
	if tr.clips[slot] == nil {
		return nil, fmt.Errorf("slot %d is empty", slot)
	}
	tr.clips[slot] = nil
	return Result{"deleted": slot}, nil
}

func (ls *LiveSet) fireClip(params Params) (Result, error) {
	tr, slot, err := ls.clipSlot(params)
	if err != nil {
		return nil, err
	}
	if tr.clips[slot] == nil {
		return nil, fmt.Errorf("slot %d is empty", slot)
	}
	// Launching a clip stops whatever else plays on the track.
	for _, c := range tr.clips {
		if c != nil {
			c.playing = false
		}
	}
	tr.clips[slot].playing = true
	ls.playing = true
	return Result{"firing": slot}, nil
}

func (ls *LiveSet) stopClip(params Params) (Result, error) {
	tr, slot, err := ls.clipSlot(params)
	if err != nil {
		return nil, err
	}
	if tr.clips[slot] == nil {
		return nil, fmt.Errorf("slot %d is empty", slot)
	}
	tr.clips[slot].playing = false
	return Result{"stopped": slot}, nil
}

func (ls *LiveSet) startPlayback() (Result, error) {
	ls.playing = true
	return Result{"playing": true}, nil
}

func (ls *LiveSet) stopPlayback() (Result, error) {
	ls.playing = false
	for _, tr := range ls.tracks {
		for _, c := range tr.clips {
			if c != nil {
				c.playing = false
			}
		}
	}
	return Result{"playing": false}, nil
}

func (ls *LiveSet) loadInstrument(params Params) (Result, error) {
	tr, _, err := ls.trackAt(params)
	if err != nil {
		return nil, err
	}
	if tr.kind != trackMIDI {
		return nil, fmt.Errorf("track %q is not a MIDI track", tr.name)
	}
	uri, err := stringParam(params, "uri")
	if err != nil {
		return nil, err
	}
	tr.instrument = uri
	return Result{"instrument": uri}, nil
}
