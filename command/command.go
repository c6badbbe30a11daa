// Package command defines the wire command model for LiveBridge: the Command
// value parsed from an inbound message, the request/response envelopes shared
// by every transport, and the static classification table deciding which
// transports a named operation may travel over.
package command

import (
	"encoding/json"
	"time"
)

// Transport identifies the channel class a command arrived on. The bridge
// distinguishes reliable channels (request/response, every message
// acknowledged) from lossy channels (fire-and-forget, no acknowledgment).
type Transport int

const (
	// TransportReliable covers TCP, WebSocket, and NATS request/reply.
	TransportReliable Transport = iota
	// TransportLossy covers UDP datagrams and NATS without a reply inbox.
	TransportLossy
)

// String returns a string representation of the transport class
func (t Transport) String() string {
	switch t {
	case TransportReliable:
		return "reliable"
	case TransportLossy:
		return "lossy"
	default:
		return "unknown"
	}
}

// Command is an immutable parsed inbound message. Created at the point a
// transport parses a complete message; never mutated afterwards.
type Command struct {
	// Name is the operation identifier ("set_volume", "delete_track", ...)
	Name string
	// Params holds the structured parameters as decoded JSON
	Params map[string]any
	// Transport records which channel class carried the command
	Transport Transport
	// ReceivedAt is when the transport finished parsing the message
	ReceivedAt time.Time
}

// NewCommand builds a Command stamped with the current time.
func NewCommand(name string, params map[string]any, transport Transport) Command {
	return Command{
		Name:       name,
		Params:     params,
		Transport:  transport,
		ReceivedAt: time.Now(),
	}
}

// Request is the wire shape of an inbound message on every transport:
//
//	{"type": "<command-name>", "params": { ... }}
//
// ID is optional and, when present on a reliable transport, is echoed back
// in the response so clients can correlate pipelined requests.
type Request struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
}

// DecodeParams decodes the raw params into a map. A missing or null params
// field decodes to an empty map so host operations never see nil.
func (r Request) DecodeParams() (map[string]any, error) {
	params := make(map[string]any)
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, err
	}
	return params, nil
}
