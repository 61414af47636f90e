// Package subscription keeps the per-connection list of topic subscriptions
// and announces changes on the event bus.
package subscription

import (
	"time"

	"github.com/correomqtt/correo-core/internal/event"
)

// Status is the delivery state of a subscription.
type Status string

const (
	StatusActive  Status = "active"
	StatusCleared Status = "cleared"
	StatusRemoved Status = "removed"
)

// Subscription is one acknowledged topic filter on one connection.
type Subscription struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Topic        string    `json:"topic"`
	QoS          byte      `json:"qos"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// AddedEvent is fired after the broker acknowledged a subscription.
type AddedEvent struct {
	Subscription Subscription
}

// Attribute exposes the connection id for filtered delivery.
func (e AddedEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.Subscription.ConnectionID, key)
}

// RemovedEvent is fired after an unsubscribe.
type RemovedEvent struct {
	Subscription Subscription
}

// Attribute exposes the connection id for filtered delivery.
func (e RemovedEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.Subscription.ConnectionID, key)
}

// ClearedEvent is fired when all subscriptions of a connection were dropped,
// either by an explicit unsubscribe-all or by connection teardown.
type ClearedEvent struct {
	ConnectionID  string
	Subscriptions []Subscription
}

// Attribute exposes the connection id for filtered delivery.
func (e ClearedEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.ConnectionID, key)
}

func connectionAttribute(id, key string) (string, bool) {
	if key == event.FilterConnectionID {
		return id, true
	}
	return "", false
}
