package connection

import (
	"time"

	"github.com/correomqtt/correo-core/internal/event"
)

// StateChangedEvent is published once for every applied transition.
type StateChangedEvent struct {
	ConnectionID string
	State        State
	Previous     State

	// Cause is the transport error behind an ungraceful transition, if any.
	Cause error
}

// Attribute exposes the connection id for filtered delivery.
func (e StateChangedEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.ConnectionID, key)
}

// FailedEvent reports a failed connect attempt or an exhausted retry sequence.
type FailedEvent struct {
	ConnectionID string
	Err          error

	// Attempt is the reconnect attempt that failed, 0 for a user-requested connect.
	Attempt int

	// Exhausted is set when the reconnect policy has given up.
	Exhausted bool
}

// Attribute exposes the connection id for filtered delivery.
func (e FailedEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.ConnectionID, key)
}

// ReconnectScheduledEvent announces a pending reconnect attempt.
type ReconnectScheduledEvent struct {
	ConnectionID string
	Attempt      int
	Delay        time.Duration
}

// Attribute exposes the connection id for filtered delivery.
func (e ReconnectScheduledEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.ConnectionID, key)
}

func connectionAttribute(id, key string) (string, bool) {
	if key == event.FilterConnectionID {
		return id, true
	}
	return "", false
}
