package event

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// registration holds one subscriber's handlers.
// A registration is immutable once published; re-registering swaps in a new one.
type registration struct {
	subscriber Subscriber
	handlers   []Handler
	active     atomic.Bool
}

// Bus is a synchronous publish/subscribe dispatcher with attribute filtering.
type Bus struct {
	mu     sync.RWMutex
	regs   []*registration
	bySub  map[Subscriber]*registration
	logger atomic.Value // holds loggerBox
}

type loggerBox struct{ Logger }

// NewBus creates an empty event bus.
func NewBus() *Bus {
	b := &Bus{
		bySub: make(map[Subscriber]*registration),
	}
	b.logger.Store(loggerBox{noopLogger{}})
	return b
}

// SetLogger sets the logger used to report handler failures.
func (b *Bus) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger.Store(loggerBox{logger})
}

func (b *Bus) log() Logger {
	return b.logger.Load().(loggerBox).Logger //nolint:forcetypeassert // only loggerBox is stored
}

// Register adds all handlers declared by the subscriber.
//
// Registering a subscriber that is already registered replaces its handlers
// and keeps its position in delivery order, so double registration never
// causes duplicate delivery.
//
// Returns:
//   - error: ErrNilSubscriber, ErrNotComparable, ErrInvalidHandler or ErrMissingFilter
func (b *Bus) Register(sub Subscriber) error {
	if isNil(sub) {
		return ErrNilSubscriber
	}
	if !reflect.TypeOf(sub).Comparable() {
		return fmt.Errorf("%w: %T", ErrNotComparable, sub)
	}

	handlers := append([]Handler(nil), sub.Handlers()...)
	_, isFilterer := sub.(Filterer)
	for _, h := range handlers {
		if h.fn == nil || h.eventType == nil {
			return fmt.Errorf("%w: subscriber %T", ErrInvalidHandler, sub)
		}
		if h.filterKey != "" && !isFilterer {
			return fmt.Errorf("%w: subscriber %T, key %q", ErrMissingFilter, sub, h.filterKey)
		}
	}

	reg := &registration{subscriber: sub, handlers: handlers}
	reg.active.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, exists := b.bySub[sub]; exists {
		old.active.Store(false)
		for i, r := range b.regs {
			if r == old {
				b.regs[i] = reg
				break
			}
		}
		b.bySub[sub] = reg
		b.log().Debug("event subscriber re-registered", "subscriber", fmt.Sprintf("%T", sub))
		return nil
	}

	b.regs = append(b.regs, reg)
	b.bySub[sub] = reg
	return nil
}

// Unregister removes all handlers of the subscriber.
// It is a no-op for subscribers that are not registered.
func (b *Bus) Unregister(sub Subscriber) {
	if sub == nil || !reflect.TypeOf(sub).Comparable() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	reg, exists := b.bySub[sub]
	if !exists {
		return
	}
	reg.active.Store(false)
	delete(b.bySub, sub)

	for i, r := range b.regs {
		if r == reg {
			b.regs = append(b.regs[:i:i], b.regs[i+1:]...)
			break
		}
	}
}

// Registered reports whether the subscriber is currently registered.
func (b *Bus) Registered(sub Subscriber) bool {
	if sub == nil || !reflect.TypeOf(sub).Comparable() {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.bySub[sub]
	return exists
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.regs)
}

// Fire delivers the event to every matching handler on the calling goroutine.
//
// A handler matches when it was created for the event's dynamic type and,
// for filtered handlers, the event attribute equals the subscriber's filter
// value. Handler errors and panics are logged; delivery always continues.
func (b *Bus) Fire(e Event) {
	if e == nil {
		return
	}
	eventType := reflect.TypeOf(e)

	// Snapshot under the read lock so handlers may (un)register freely.
	b.mu.RLock()
	regs := make([]*registration, len(b.regs))
	copy(regs, b.regs)
	b.mu.RUnlock()

	delivered := 0
	for _, reg := range regs {
		delivered += b.deliver(b.resolve(reg), eventType, e)
	}

	b.log().Debug("event fired", "event_type", eventType.String(), "deliveries", delivered)
}

// deliver runs the handlers of reg for one event. A registration replaced
// before any of its handlers ran is followed to its replacement.
func (b *Bus) deliver(reg *registration, eventType reflect.Type, e Event) int {
	delivered := 0
	for reg != nil {
		replaced := false
		for _, h := range reg.handlers {
			if h.eventType != eventType {
				continue
			}
			if !reg.active.Load() {
				if delivered == 0 {
					reg = b.resolve(reg)
					replaced = true
				}
				break
			}
			if !matchesFilter(reg.subscriber, h, e) {
				continue
			}
			b.safeCall(reg.subscriber, h, e)
			delivered++
		}
		if !replaced {
			break
		}
	}
	return delivered
}

// resolve returns the live registration of reg's subscriber, or nil once
// the subscriber is unregistered.
func (b *Bus) resolve(reg *registration) *registration {
	if reg.active.Load() {
		return reg
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bySub[reg.subscriber]
}

// isNil also catches typed nil pointers wrapped in the interface.
func isNil(sub Subscriber) bool {
	if sub == nil {
		return true
	}
	v := reflect.ValueOf(sub)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// matchesFilter applies the attribute-equality filter of a handler.
func matchesFilter(sub Subscriber, h Handler, e Event) bool {
	if h.filterKey == "" {
		return true
	}
	attr, ok := e.(Attributer)
	if !ok {
		return false
	}
	value, ok := attr.Attribute(h.filterKey)
	if !ok {
		return false
	}
	filterer, ok := sub.(Filterer)
	if !ok {
		return false
	}
	return filterer.FilterValue(h.filterKey) == value
}

// safeCall invokes a handler, logging returned errors and recovered panics.
func (b *Bus) safeCall(sub Subscriber, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("event handler panic recovered",
				"event_type", TypeName(e),
				"subscriber", fmt.Sprintf("%T", sub),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := h.fn(e); err != nil {
		b.log().Warn("event handler returned error",
			"event_type", TypeName(e),
			"subscriber", fmt.Sprintf("%T", sub),
			"error", err,
		)
	}
}

// Firer is the publishing side of the bus, for components that only emit events.
type Firer interface {
	Fire(e Event)
}

// funcSubscriber adapts a list of handlers into an anonymous subscriber.
type funcSubscriber struct {
	handlers []Handler
}

func (f *funcSubscriber) Handlers() []Handler { return f.handlers }

// Funcs wraps handlers into a subscriber value for callers that have no
// component of their own. Keep the returned value to unregister later.
func Funcs(handlers ...Handler) Subscriber {
	return &funcSubscriber{handlers: handlers}
}
