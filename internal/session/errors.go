package session

import "errors"

// Domain errors for the session package.
var (
	// ErrUnknownConnection is returned for ids missing from the saved connections.
	ErrUnknownConnection = errors.New("session: unknown connection")

	// ErrNotConnected is returned when an operation needs a CONNECTED session.
	ErrNotConnected = errors.New("session: not connected")

	// ErrNotSubscribed is returned by Unsubscribe for unknown topics.
	ErrNotSubscribed = errors.New("session: topic not subscribed")

	// ErrAlreadyActive is returned by Connect when the session is connecting or connected.
	ErrAlreadyActive = errors.New("session: connection already active")

	// ErrAborted is returned by Connect and Subscribe when a disconnect or a
	// newer connect attempt overtook the operation before it finished.
	ErrAborted = errors.New("session: operation aborted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: manager closed")
)
