package subscription

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/correomqtt/correo-core/internal/connection"
	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the active subscriptions of every connection in
// subscription order.
//
// It registers itself on the bus for connection state changes: a graceful
// disconnect or a reset clears the connection's subscriptions, while an
// ungraceful disconnect keeps them so a reconnect can restore them.
//
// All public methods are thread-safe.
type Registry struct {
	bus    event.Firer
	mu     sync.RWMutex
	byConn map[string][]Subscription
	logger Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry firing on bus.
func NewRegistry(bus event.Firer) *Registry {
	return &Registry{
		bus:    bus,
		byConn: make(map[string][]Subscription),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Handlers implements event.Subscriber.
func (r *Registry) Handlers() []event.Handler {
	return []event.Handler{
		event.Handle(r.onStateChanged),
	}
}

func (r *Registry) onStateChanged(e connection.StateChangedEvent) error {
	switch e.State {
	case connection.StateDisconnectedGraceful, connection.StateDisconnected:
		r.Clear(e.ConnectionID)
	}
	return nil
}

// Add records an acknowledged subscription and fires AddedEvent.
// Adding a topic that is already subscribed updates its QoS in place.
func (r *Registry) Add(connectionID, topic string, qos byte) (Subscription, error) {
	if err := mqtt.ValidateTopicFilter(topic); err != nil {
		return Subscription{}, fmt.Errorf("subscription %q: %w", topic, err)
	}
	if qos > 2 {
		return Subscription{}, mqtt.ErrInvalidQoS
	}

	r.mu.Lock()
	subs := r.byConn[connectionID]
	var sub Subscription
	found := false
	for i := range subs {
		if subs[i].Topic == topic {
			subs[i].QoS = qos
			sub = subs[i]
			found = true
			break
		}
	}
	if !found {
		sub = Subscription{
			ID:           uuid.NewString(),
			ConnectionID: connectionID,
			Topic:        topic,
			QoS:          qos,
			Status:       StatusActive,
			CreatedAt:    r.now().UTC(),
		}
		r.byConn[connectionID] = append(subs, sub)
	}
	r.mu.Unlock()

	r.logger.Debug("subscription added",
		"connection_id", connectionID,
		"topic", topic,
		"qos", qos,
		"updated", found,
	)
	r.bus.Fire(AddedEvent{Subscription: sub})
	return sub, nil
}

// Remove drops one subscription and fires RemovedEvent.
// Returns false when the topic was not subscribed.
func (r *Registry) Remove(connectionID, topic string) (Subscription, bool) {
	r.mu.Lock()
	subs := r.byConn[connectionID]
	idx := -1
	for i := range subs {
		if subs[i].Topic == topic {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return Subscription{}, false
	}
	sub := subs[idx]
	r.byConn[connectionID] = append(subs[:idx:idx], subs[idx+1:]...)
	if len(r.byConn[connectionID]) == 0 {
		delete(r.byConn, connectionID)
	}
	r.mu.Unlock()

	sub.Status = StatusRemoved
	r.logger.Debug("subscription removed", "connection_id", connectionID, "topic", topic)
	r.bus.Fire(RemovedEvent{Subscription: sub})
	return sub, true
}

// Clear drops all subscriptions of a connection and fires ClearedEvent.
// Nothing is fired when the connection had no subscriptions.
func (r *Registry) Clear(connectionID string) []Subscription {
	r.mu.Lock()
	subs := r.byConn[connectionID]
	delete(r.byConn, connectionID)
	r.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	cleared := make([]Subscription, len(subs))
	for i, s := range subs {
		s.Status = StatusCleared
		cleared[i] = s
	}

	r.logger.Info("subscriptions cleared", "connection_id", connectionID, "count", len(cleared))
	r.bus.Fire(ClearedEvent{ConnectionID: connectionID, Subscriptions: cleared})
	return cleared
}

// List returns a copy of the connection's subscriptions in subscription order.
func (r *Registry) List(connectionID string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Subscription(nil), r.byConn[connectionID]...)
}

// Get returns the subscription for an exact topic filter.
func (r *Registry) Get(connectionID, topic string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byConn[connectionID] {
		if s.Topic == topic {
			return s, true
		}
	}
	return Subscription{}, false
}

// Match returns the subscriptions whose filter matches a received topic.
func (r *Registry) Match(connectionID, topic string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Subscription
	for _, s := range r.byConn[connectionID] {
		if mqtt.MatchTopic(s.Topic, topic) {
			matched = append(matched, s)
		}
	}
	return matched
}

// Count returns the number of subscriptions of a connection.
func (r *Registry) Count(connectionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn[connectionID])
}
