package event

import (
	"fmt"
	"reflect"
)

// FilterConnectionID is the filter key scoping events to one connection.
const FilterConnectionID = "connectionId"

// Event is any immutable value fired on the bus.
// Delivery is keyed on the dynamic type of the value.
type Event any

// Attributer is implemented by events that expose named attributes
// for filtered delivery.
type Attributer interface {
	Attribute(key string) (string, bool)
}

// Subscriber declares the handlers a component wants registered.
type Subscriber interface {
	Handlers() []Handler
}

// Filterer is implemented by subscribers whose handlers use FilterBy.
// FilterValue returns the value the subscriber is interested in for key.
type Filterer interface {
	FilterValue(key string) string
}

// Handler binds a callback to one concrete event type.
// Create handlers with Handle.
type Handler struct {
	eventType reflect.Type
	filterKey string
	fn        func(Event) error
}

// Handle creates a handler invoked for events of type T.
//
// Example:
//
//	event.Handle(func(e connection.StateChangedEvent) error {
//	    log.Info("state changed", "state", e.State)
//	    return nil
//	})
func Handle[T any](fn func(T) error) Handler {
	return Handler{
		eventType: reflect.TypeFor[T](),
		fn: func(e Event) error {
			typed, ok := e.(T)
			if !ok {
				return fmt.Errorf("%w: got %T", ErrTypeMismatch, e)
			}
			return fn(typed)
		},
	}
}

// FilterBy returns a copy of the handler that is only delivered events whose
// attribute key equals the subscriber's FilterValue(key).
func (h Handler) FilterBy(key string) Handler {
	h.filterKey = key
	return h
}

// EventType returns the type the handler is registered for.
func (h Handler) EventType() reflect.Type {
	return h.eventType
}

// FilterKey returns the filter key, or "" for unfiltered handlers.
func (h Handler) FilterKey() string {
	return h.filterKey
}

// TypeName returns a short printable name for an event, used in logs.
func TypeName(e Event) string {
	if e == nil {
		return "<nil>"
	}
	return reflect.TypeOf(e).String()
}
