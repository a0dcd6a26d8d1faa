package protocol

import "encoding/json"

// Registration is sent once, immediately after the host connection opens.
type Registration struct {
	Event string `json:"event"`
	UUID  string `json:"uuid"`
}

// Envelope is the inbound message wrapper received from the host.
// All four fields are required; see DecodeEnvelope.
type Envelope struct {
	Action  string          `json:"action"`
	Event   string          `json:"event"`
	Context string          `json:"context"`
	Payload json.RawMessage `json:"payload"`
}

// Event is an outbound message sent from the plugin to the host.
type Event struct {
	Event   string `json:"event"`
	Context string `json:"context"`
	Payload any    `json:"payload,omitempty"`
}

// Outbound event names understood by the host.
const (
	EventSetTitle                = "setTitle"
	EventSetImage                = "setImage"
	EventShowAlert               = "showAlert"
	EventShowOK                  = "showOk"
	EventSetSettings             = "setSettings"
	EventSetState                = "setState"
	EventSendToPropertyInspector = "sendToPropertyInspector"
)

// Target selects which surface a title or image update applies to.
type Target int

const (
	TargetBoth     Target = 0
	TargetHardware Target = 1
	TargetSoftware Target = 2
)

// TitlePayload is the payload of a setTitle event.
type TitlePayload struct {
	Title  string `json:"title"`
	Target Target `json:"target"`
	State  int    `json:"state"`
}

// ImagePayload is the payload of a setImage event. Image is a data URI.
type ImagePayload struct {
	Image  string `json:"image"`
	Target Target `json:"target"`
	State  int    `json:"state"`
}

// StatePayload is the payload of a setState event.
type StatePayload struct {
	State int `json:"state"`
}
