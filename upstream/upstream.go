// Package upstream abstracts the duplex session the gateway opens to the
// third-party realtime service on behalf of each client connection. The wire
// format is opaque to the gateway; a session is a byte-message channel with a
// connect/disconnect contract.
package upstream

import "context"

// EventKind discriminates session events.
type EventKind int

const (
	// EventMessage carries a message from the realtime service.
	EventMessage EventKind = iota
	// EventError reports a non-fatal session error.
	EventError
	// EventDisconnected signals that the session is gone. It is emitted at
	// most once and is the last event a session produces.
	EventDisconnected
)

// Event is a single occurrence on an upstream session.
type Event struct {
	Kind EventKind
	Data []byte // message payload for EventMessage
	Err  error  // set for EventError and abnormal EventDisconnected
}

// Session is one duplex channel to the realtime service. Exactly one session
// exists per client connection; it is created at registration and destroyed
// at teardown, never shared or re-created.
type Session interface {
	// Connect opens the session. It must be called exactly once.
	Connect(ctx context.Context) error

	// Disconnect closes the session. Safe to call multiple times and before
	// Connect has succeeded.
	Disconnect()

	// Send writes one message to the service.
	Send(data []byte) error

	// Events returns the channel on which session events are delivered.
	Events() <-chan Event
}

// Dialer constructs sessions bound to a principal.
type Dialer interface {
	NewSession(principalID string) Session
}
