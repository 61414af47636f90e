// Package event provides the in-process event bus for correo.
//
// The bus decouples producers of domain occurrences (the connection state
// tracker, the session manager, the settings service) from the components
// that react to them (API hub, history recorder, telemetry, CLI output).
//
// # Subscribers
//
// A subscriber is any comparable value (normally a pointer) that declares its
// handlers:
//
//	type statusView struct{ connectionID string }
//
//	func (v *statusView) Handlers() []event.Handler {
//	    return []event.Handler{
//	        event.Handle(v.onStateChanged).FilterBy(event.FilterConnectionID),
//	    }
//	}
//
//	func (v *statusView) FilterValue(key string) string { return v.connectionID }
//
// # Filtered Delivery
//
// A handler created with FilterBy(key) only receives events whose
// Attribute(key) equals the subscriber's FilterValue(key). Both values are
// read when the event is fired. Events that do not expose the attribute are
// never delivered to filtered handlers.
//
// # Delivery Guarantees
//
//   - Fire is synchronous and runs handlers on the calling goroutine.
//   - Handlers run in registration order (subscribers first, then the order
//     of their Handlers slice).
//   - Errors and panics from one handler are logged and do not stop delivery.
//   - Registering a subscriber twice replaces its handlers; it is never
//     delivered to twice.
//   - After Unregister returns, the subscriber receives nothing further.
//
// Thread Safety: all Bus methods are safe for concurrent use, including from
// inside handlers (re-entrant Fire, Register, Unregister).
package event
