// Package history persists the topics a connection subscribed to and the
// messages it published, so they can be offered again later.
//
// Subscribe history keeps one row per topic and connection, refreshed on
// every subscribe. Publish history keeps every successful publish. Both are
// trimmed to a per-connection limit, newest first.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/message"
)

// Default per-connection limits.
const (
	DefaultSubscribeLimit = 100
	DefaultPublishLimit   = 100
)

// ErrConnectionRequired is returned when a record or query has no connection id.
var ErrConnectionRequired = errors.New("history: connection id is required")

// Limits caps how many entries are kept per connection.
type Limits struct {
	Subscribe int
	Publish   int
}

// DefaultLimits returns the default history limits.
func DefaultLimits() Limits {
	return Limits{Subscribe: DefaultSubscribeLimit, Publish: DefaultPublishLimit}
}

// SubscribeEntry is one remembered subscription topic.
type SubscribeEntry struct {
	ConnectionID string    `json:"connection_id"`
	Topic        string    `json:"topic"`
	QoS          byte      `json:"qos"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// Store is the persistence used by the Recorder.
type Store interface {
	RecordSubscribe(ctx context.Context, connectionID, topic string, qos byte) error
	RecordPublish(ctx context.Context, m message.Message) error
	SubscribeHistory(ctx context.Context, connectionID string, limit int) ([]SubscribeEntry, error)
	PublishHistory(ctx context.Context, connectionID string, limit int) ([]message.Message, error)
	DeleteConnection(ctx context.Context, connectionID string) error
}

// PersistSubscribeHistoryUpdateEvent is fired after the subscribe history of
// a connection changed.
type PersistSubscribeHistoryUpdateEvent struct {
	ConnectionID string
}

func (e PersistSubscribeHistoryUpdateEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.ConnectionID, key)
}

// PersistPublishHistoryUpdateEvent is fired after the publish history of a
// connection changed.
type PersistPublishHistoryUpdateEvent struct {
	ConnectionID string
}

func (e PersistPublishHistoryUpdateEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.ConnectionID, key)
}

func connectionAttribute(id, key string) (string, bool) {
	if key == event.FilterConnectionID {
		return id, true
	}
	return "", false
}
