package realtime

import (
	"encoding/json"
	"time"

	v1 "courier/shared/contracts/chat/v1"
)

// newEnvelope wraps an already-encoded payload in the canonical wire envelope.
func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

// newMessageEnvelope encodes the payload and wraps it.
func newMessageEnvelope(typ string, payload any, ts time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(typ, raw, ts), nil
}
