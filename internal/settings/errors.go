package settings

import "errors"

// Domain errors for the settings package.
var (
	// ErrConnectionNotFound is returned when a connection id is not configured.
	ErrConnectionNotFound = errors.New("settings: connection not found")

	// ErrDuplicateConnection is returned when two connections share an id.
	ErrDuplicateConnection = errors.New("settings: duplicate connection id")

	// ErrInvalidConfig is returned when validation fails.
	ErrInvalidConfig = errors.New("settings: invalid configuration")

	// ErrInvalidJSON is returned when the file cannot be parsed.
	ErrInvalidJSON = errors.New("settings: invalid JSON format")

	// ErrWriteFailed is returned when the file cannot be written.
	ErrWriteFailed = errors.New("settings: saving failed")
)
