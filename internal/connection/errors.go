package connection

import "errors"

// Domain errors for the connection package.
var (
	// ErrInvalidState is returned when decoding an unknown state name.
	ErrInvalidState = errors.New("connection: invalid state")

	// ErrRetriesExhausted is carried by the FailedEvent published when the
	// reconnect policy gives up.
	ErrRetriesExhausted = errors.New("connection: reconnect attempts exhausted")
)
