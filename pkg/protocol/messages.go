// Package protocol defines the JSON messages exchanged between clients and
// the Passage gateway over WebSocket.
//
// Client-to-gateway messages carry a top-level "type" field; the reserved
// types below are handled by the gateway itself, every other type is relayed
// verbatim to the upstream realtime service. Gateway-originated messages use
// the Envelope form with a structured "data" payload.
package protocol

import "encoding/json"

// Reserved message types.
const (
	// TypePing is the client's liveness probe. The gateway answers with a
	// pong and never forwards it upstream.
	TypePing = "ping"
	// TypePong is the gateway's reply to a ping.
	TypePong = "pong"
	// TypeStatus reports upstream connectivity changes to the client.
	TypeStatus = "status"
	// TypeError carries a gateway-originated error to the client.
	TypeError = "error"
)

// Envelope is the wire format for gateway-originated messages.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Status reports upstream session state.
type Status struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// Error carries a human-readable error and optional detail.
type Error struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Inbound is the minimal view of a client message: only the type is
// inspected, the raw bytes are relayed unchanged.
type Inbound struct {
	Type string `json:"type"`
}

// Marshal encodes an envelope, ignoring marshal errors for payloads that are
// known-serializable structs.
func Marshal(msgType string, data any) []byte {
	b, _ := json.Marshal(Envelope{Type: msgType, Data: data})
	return b
}

// MarshalStatus builds a status envelope.
func MarshalStatus(connected bool, reason string) []byte {
	return Marshal(TypeStatus, Status{Connected: connected, Reason: reason})
}

// MarshalError builds an error envelope.
func MarshalError(message, details string) []byte {
	return Marshal(TypeError, Error{Message: message, Details: details})
}
