package pairing

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message kinds carried in the envelope "type" field.
const (
	KindAvailability  = "availability"  // server → controller
	KindPairRequest   = "pairRequest"   // controller → server
	KindPaired        = "paired"        // server → both
	KindPairError     = "pairError"     // server → requester
	KindUnpairRequest = "unpairRequest" // either → server
	KindUnpaired      = "unpaired"      // server → both
	KindRelay         = "relay"         // either → server → partner
	KindError         = "error"         // server → sender
)

// Envelope is an inbound wire message: {"type": <string>, "data": <any>}.
// Data is kept raw so relay payloads pass through untouched.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outbound is the encoding shape of every server-originated message.
type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// AvailabilityEntry describes one unpaired connection in an availability payload.
type AvailabilityEntry struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
	Role      Role   `json:"role"`
}

// PairedPayload is the data of a paired message.
type PairedPayload struct {
	ControllerID string `json:"controllerId"`
	DeviceID     string `json:"deviceId"`
}

// DecodeEnvelope parses an inbound frame.
//
// Returns ErrMalformedMessage if the frame is not a JSON object and
// ErrMissingType if the type field is absent or empty.
func DecodeEnvelope(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, ErrMalformedMessage
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// TargetID extracts the target device id from a pairRequest envelope.
func (e Envelope) TargetID() (string, error) {
	var target string
	if len(e.Data) == 0 {
		return "", ErrInvalidTarget
	}
	if err := json.Unmarshal(e.Data, &target); err != nil || target == "" {
		return "", ErrInvalidTarget
	}
	return target, nil
}

// Encode builds a server-originated message.
func Encode(kind string, data any) ([]byte, error) {
	b, err := json.Marshal(outbound{Type: kind, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", kind, err)
	}
	return b, nil
}

// relayPrefix opens every relay frame. The payload is spliced in after it.
const relayPrefix = `{"type":"` + KindRelay + `","data":`

// encodeRelay wraps an opaque payload without re-encoding it, so the
// partner receives the sender's bytes unchanged. An empty payload becomes
// null.
func encodeRelay(payload json.RawMessage) []byte {
	data := []byte(payload)
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("null")
	}

	frame := make([]byte, 0, len(relayPrefix)+len(data)+1)
	frame = append(frame, relayPrefix...)
	frame = append(frame, data...)
	return append(frame, '}')
}
