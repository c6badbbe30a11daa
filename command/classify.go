package command

import (
	"fmt"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
)

// Criticality classifies a command by the consequence of losing or
// duplicating it.
type Criticality int

const (
	// Reversible commands are idempotent and fully overwritable by a later
	// command of the same shape, so occasional loss is tolerable.
	Reversible Criticality = iota
	// Critical commands are destructive, create or delete durable state, or
	// must report success/failure synchronously.
	Critical
)

// String returns a string representation of the criticality
func (c Criticality) String() string {
	switch c {
	case Reversible:
		return "reversible"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassificationEntry is the static policy record for one command name.
type ClassificationEntry struct {
	Name        string
	Criticality Criticality
	// LossyOK marks the command eligible for fire-and-forget transports.
	// Every command is reachable over reliable transports; lossy eligibility
	// requires the command to be reversible, carry no return value the
	// caller must consume, and be intended for high-frequency control loops.
	LossyOK bool
}

// AllowedOn reports whether the entry permits the given transport class.
func (e ClassificationEntry) AllowedOn(t Transport) bool {
	if t == TransportReliable {
		return true
	}
	return e.LossyOK
}

// table is the compiled-in classification policy. The host adapter's
// operation switch and this table enumerate the same command set; anything
// outside it is rejected at classification, before reaching the dispatcher.
var table = map[string]ClassificationEntry{
	// High-frequency continuous controls. Each call overwrites the previous
	// value, carries a tiny payload, and returns nothing a caller needs.
	"set_volume":       {Name: "set_volume", Criticality: Reversible, LossyOK: true},
	"set_pan":          {Name: "set_pan", Criticality: Reversible, LossyOK: true},
	"set_send":         {Name: "set_send", Criticality: Reversible, LossyOK: true},
	"set_device_param": {Name: "set_device_param", Criticality: Reversible, LossyOK: true},
	"set_tempo":        {Name: "set_tempo", Criticality: Reversible, LossyOK: true},
	"scrub_position":   {Name: "scrub_position", Criticality: Reversible, LossyOK: true},

	// Reads. Harmless but meaningless without a response channel.
	"get_value":        {Name: "get_value", Criticality: Reversible},
	"get_session_info": {Name: "get_session_info", Criticality: Reversible},
	"get_track_info":   {Name: "get_track_info", Criticality: Reversible},

	// Structural edits. Create durable state; a lost or duplicated message
	// is not correctable by resending.
	"create_midi_track":  {Name: "create_midi_track", Criticality: Critical},
	"create_audio_track": {Name: "create_audio_track", Criticality: Critical},
	"create_clip":        {Name: "create_clip", Criticality: Critical},
	"duplicate_track":    {Name: "duplicate_track", Criticality: Critical},

	// Destructive edits.
	"delete_track": {Name: "delete_track", Criticality: Critical},
	"delete_clip":  {Name: "delete_clip", Criticality: Critical},

	// Transport and launch controls. Low frequency, caller must know they
	// took effect.
	"fire_clip":       {Name: "fire_clip", Criticality: Critical},
	"stop_clip":       {Name: "stop_clip", Criticality: Critical},
	"start_playback":  {Name: "start_playback", Criticality: Critical},
	"stop_playback":   {Name: "stop_playback", Criticality: Critical},
	"load_instrument": {Name: "load_instrument", Criticality: Critical},
}

// Classify looks up the classification entry for a command name. Unknown
// names return ErrUnknownCommand regardless of transport; they are never
// upgraded to lossy eligibility.
func Classify(name string) (ClassificationEntry, error) {
	entry, ok := table[name]
	if !ok {
		return ClassificationEntry{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownCommand, name),
			"classifier", "Classify", "table lookup")
	}
	return entry, nil
}

// CheckTransport classifies a command name and enforces transport policy in
// one step. It returns the entry when the command exists and is permitted on
// the given transport class.
func CheckTransport(name string, t Transport) (ClassificationEntry, error) {
	entry, err := Classify(name)
	if err != nil {
		return ClassificationEntry{}, err
	}
	if !entry.AllowedOn(t) {
		return ClassificationEntry{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q is %s-only", errors.ErrTransportNotAllowed, name, TransportReliable),
			"classifier", "CheckTransport", "transport policy")
	}
	return entry, nil
}

// Known reports whether a command name exists in the classification table.
func Known(name string) bool {
	_, ok := table[name]
	return ok
}

// Names returns all classified command names. Used by the host adapter tests
// to keep the operation switch and the table in lockstep.
func Names() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}
