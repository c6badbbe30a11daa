package command

import (
	"encoding/json"

	"github.com/tobias-weiss-ai-xr/ableton-mcp-extended-sub001/errors"
)

// Response status values. These are the only two wire-visible outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the wire shape of a reply on reliable transports:
//
//	{"status": "success", "result": { ... }}
//	{"status": "error", "message": "<text>", "kind": "<kind>"}
//
// Lossy transports never produce a Response.
type Response struct {
	Status  string         `json:"status"`
	Result  map[string]any `json:"result,omitempty"`
	Message string         `json:"message,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	ID      string         `json:"id,omitempty"`
}

// SuccessResponse builds a success envelope carrying the host result.
func SuccessResponse(result map[string]any) Response {
	return Response{
		Status: StatusSuccess,
		Result: result,
	}
}

// ErrorResponse converts an error into a client-visible error envelope.
// The kind is derived from the bridge error taxonomy; internal wrapping
// context stays in the message as-is since clients are trusted local tools.
func ErrorResponse(err error) Response {
	if err == nil {
		err = errors.ErrHost
	}
	return Response{
		Status:  StatusError,
		Message: err.Error(),
		Kind:    errors.Kind(err),
	}
}

// WithID returns a copy of the response carrying the request correlation id.
func (r Response) WithID(id string) Response {
	r.ID = id
	return r
}

// Encode serializes the response for the wire.
func (r Response) Encode() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		// A response built from our own types always marshals; this path
		// exists only to keep the write side total.
		return []byte(`{"status":"error","message":"response encoding failed"}`)
	}
	return data
}
