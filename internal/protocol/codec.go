package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode matches every envelope decoding or validation failure.
var ErrDecode = errors.New("protocol decode error")

// DecodeError describes why an inbound text block was not a valid Envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// rawEnvelope uses pointers so absent fields can be told apart from empty ones.
type rawEnvelope struct {
	Action  *string         `json:"action"`
	Event   *string         `json:"event"`
	Context *string         `json:"context"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses one complete text block into an Envelope.
// Unknown fields are tolerated since the host adds fields over time.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}

	switch {
	case raw.Action == nil:
		return nil, &DecodeError{Reason: "missing required field: action"}
	case raw.Event == nil:
		return nil, &DecodeError{Reason: "missing required field: event"}
	case raw.Context == nil:
		return nil, &DecodeError{Reason: "missing required field: context"}
	}

	payload := bytes.TrimSpace(raw.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, &DecodeError{Reason: "missing required field: payload"}
	}
	if payload[0] != '{' {
		return nil, &DecodeError{Reason: "payload is not an object"}
	}

	return &Envelope{
		Action:  *raw.Action,
		Event:   *raw.Event,
		Context: *raw.Context,
		Payload: payload,
	}, nil
}

// EncodeRegistration serializes the registration message.
func EncodeRegistration(registerEvent, pluginUUID string) ([]byte, error) {
	if registerEvent == "" || pluginUUID == "" {
		return nil, fmt.Errorf("registration requires both event and uuid")
	}
	data, err := json.Marshal(Registration{Event: registerEvent, UUID: pluginUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration: %w", err)
	}
	return data, nil
}

// EncodeEvent serializes an outbound event.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev.Event == "" {
		return nil, fmt.Errorf("outbound event missing name")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %q: %w", ev.Event, err)
	}
	return data, nil
}
