package event

import "errors"

// Domain errors for the event package.
var (
	// ErrNilSubscriber is returned when registering a nil subscriber.
	ErrNilSubscriber = errors.New("event: subscriber is nil")

	// ErrNotComparable is returned for subscribers that cannot be used as a
	// registration key (slices, maps, funcs). Register pointers instead.
	ErrNotComparable = errors.New("event: subscriber is not comparable")

	// ErrMissingFilter is returned when a handler uses FilterBy but the
	// subscriber does not implement Filterer.
	ErrMissingFilter = errors.New("event: filtered handler on subscriber without FilterValue")

	// ErrInvalidHandler is returned for handlers not created with Handle.
	ErrInvalidHandler = errors.New("event: invalid handler")

	// ErrTypeMismatch is returned by a handler receiving an event of the wrong type.
	ErrTypeMismatch = errors.New("event: event type mismatch")
)
