// Package envelope defines the wire format shared by every BlueCollar
// gateway and worker: the request envelope pushed onto the work queue and
// the reply pushed onto a per-request reply channel.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON object a gateway pushes onto the work queue and a
// worker pops off it. Method is the only required field; Args and Kwargs
// default to empty when absent on the wire.
type Envelope struct {
	Method       string            `json:"method"`
	Args         []json.RawMessage `json:"args,omitempty"`
	Kwargs       map[string]any    `json:"kwargs,omitempty"`
	ReplyChannel string            `json:"reply_channel,omitempty"`
	NoExec       bool              `json:"no_exec,omitempty"`
}

// Decode parses a dequeued envelope. It rejects anything that is not a JSON
// object or that lacks a non-empty string "method" — the worker's Parse
// state (spec §4.3) is implemented entirely by this function so the loop
// has one place to look when deciding whether to log-and-drop.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("envelope: invalid JSON: %w", err)
	}
	if env.Method == "" {
		return nil, fmt.Errorf("envelope: missing or empty method")
	}
	return &env, nil
}

// ErrorRecord is the structured error reply shape from spec §3.
type ErrorRecord struct {
	Message      string `json:"message"`
	ResponseCode int    `json:"response_code,omitempty"`
	Error        bool   `json:"error"`
}

// PresenceRecord answers a no_exec envelope: the resolver found something
// at this path without invoking it.
type PresenceRecord struct {
	Found bool   `json:"found"`
	Ref   string `json:"ref"`
}

// Reply is a tagged union over the wire's four reply shapes (spec §9,
// "Error channel"): a bare JSON value, a structured error record, a
// presence record, or a legacy raw error string. Exactly one field is set.
type Reply struct {
	Value    json.RawMessage
	Err      *ErrorRecord
	Presence *PresenceRecord
	RawError string
}

// OK wraps a successful result value for encoding onto a reply channel.
func OK(v any) (Reply, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Value: raw}, nil
}

// Error wraps a message and HTTP-ish response code as a structured error
// reply (spec §3, "error record").
func Error(message string, responseCode int) Reply {
	return Reply{Err: &ErrorRecord{Message: message, ResponseCode: responseCode, Error: true}}
}

// Found answers a no_exec probe affirmatively.
func Found(ref string) Reply {
	return Reply{Presence: &PresenceRecord{Found: true, Ref: ref}}
}

// MarshalJSON emits exactly the shape a legacy BlueCollar client expects:
// the bare value, the error record, the presence record, or the legacy raw
// error string — never a
// wrapper object naming which case it is.
func (r Reply) MarshalJSON() ([]byte, error) {
	switch {
	case r.Err != nil:
		return json.Marshal(r.Err)
	case r.Presence != nil:
		return json.Marshal(r.Presence)
	case r.RawError != "":
		return json.Marshal(r.RawError)
	case r.Value != nil:
		return r.Value, nil
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON accepts any of the four wire shapes and classifies it. A
// gateway decoding a popped reply cannot know ahead of time which shape it
// will receive (spec §9, "the gateway cannot reliably distinguish them") so
// this is a best-effort structural sniff: an object with "error": true is
// an ErrorRecord, an object with "found": true is a PresenceRecord, a bare
// JSON string is treated as a legacy raw error, anything else is a value.
func (r *Reply) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if isErr, ok := probe["error"]; ok {
			var flag bool
			if json.Unmarshal(isErr, &flag) == nil && flag {
				var rec ErrorRecord
				if err := json.Unmarshal(data, &rec); err != nil {
					return err
				}
				r.Err = &rec
				return nil
			}
		}
		if found, ok := probe["found"]; ok {
			var flag bool
			if json.Unmarshal(found, &flag) == nil && flag {
				var rec PresenceRecord
				if err := json.Unmarshal(data, &rec); err != nil {
					return err
				}
				r.Presence = &rec
				return nil
			}
		}
		r.Value = append(json.RawMessage(nil), data...)
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		r.RawError = asString
		return nil
	}

	r.Value = append(json.RawMessage(nil), data...)
	return nil
}

// IsError reports whether the reply represents any failure shape.
func (r Reply) IsError() bool {
	return r.Err != nil || r.RawError != ""
}
