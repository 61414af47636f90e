package history

import (
	"context"
	"time"

	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/message"
	"github.com/correomqtt/correo-core/internal/settings"
	"github.com/correomqtt/correo-core/internal/subscription"
)

// writeTimeout bounds each history write made from an event handler.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface used by the Recorder.
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

// Recorder writes history in response to bus events.
//
// Register it on the bus: new subscriptions and successful publishes are
// stored and announced with PersistSubscribeHistoryUpdateEvent and
// PersistPublishHistoryUpdateEvent. Connections removed from the settings
// lose their history.
type Recorder struct {
	store  Store
	bus    event.Firer
	logger Logger
}

// NewRecorder creates a recorder writing to store and firing on bus.
func NewRecorder(store Store, bus event.Firer) *Recorder {
	return &Recorder{store: store, bus: bus, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Handlers implements event.Subscriber.
func (r *Recorder) Handlers() []event.Handler {
	return []event.Handler{
		event.Handle(r.onSubscriptionAdded),
		event.Handle(r.onPublished),
		event.Handle(r.onConnectionsUpdated),
	}
}

func (r *Recorder) onSubscriptionAdded(e subscription.AddedEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	sub := e.Subscription
	if err := r.store.RecordSubscribe(ctx, sub.ConnectionID, sub.Topic, sub.QoS); err != nil {
		return err
	}
	r.bus.Fire(PersistSubscribeHistoryUpdateEvent{ConnectionID: sub.ConnectionID})
	return nil
}

func (r *Recorder) onPublished(e message.PublishedEvent) error {
	if e.Err != nil || e.Message.PublishStatus != message.PublishStatusSucceeded {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.RecordPublish(ctx, e.Message); err != nil {
		return err
	}
	r.bus.Fire(PersistPublishHistoryUpdateEvent{ConnectionID: e.Message.ConnectionID})
	return nil
}

func (r *Recorder) onConnectionsUpdated(e settings.ConnectionsUpdatedEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	for _, id := range e.Removed {
		if err := r.store.DeleteConnection(ctx, id); err != nil {
			r.logger.Warn("deleting history of removed connection failed", "connection_id", id, "error", err)
			continue
		}
		r.logger.Debug("history deleted", "connection_id", id)
	}
	return nil
}
