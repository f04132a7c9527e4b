// Package protocol defines the JSON message envelope exchanged between
// PulseHub clients and the server, the closed set of message kinds, and the
// channel whitelist with its validation rules.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message kinds sent by clients.
const (
	KindSubscribe = "subscribe"
	KindChat      = "chat"
	KindDraw      = "draw"
	KindPing      = "ping"
)

// Message kinds sent by the server.
const (
	KindSystem       = "system"
	KindMetrics      = "metrics"
	KindSubscription = "subscription"
	KindPong         = "pong"
	KindError        = "error"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrEmptyType is returned when an envelope carries no type field.
var ErrEmptyType = errors.New("message envelope has no type")

// DecodeEnvelope parses a raw frame into an Envelope. The payload is left
// undecoded; handlers decode Data once they know the kind.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if env.Type == "" {
		return nil, ErrEmptyType
	}
	return &env, nil
}

// Encode builds the wire form of an envelope for the given kind and payload.
func Encode(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Data: data})
}
