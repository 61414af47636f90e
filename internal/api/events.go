package api

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/launchdarkly/eventsource"

	"github.com/correomqtt/correo-core/internal/connection"
	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/history"
	"github.com/correomqtt/correo-core/internal/infrastructure/logging"
	"github.com/correomqtt/correo-core/internal/message"
	"github.com/correomqtt/correo-core/internal/settings"
	"github.com/correomqtt/correo-core/internal/subscription"
)

// Channel names shared by WebSocket broadcasts and SSE event names.
const (
	ChannelConnectionState     = "connection.state"
	ChannelConnectionFailed    = "connection.failed"
	ChannelReconnectScheduled  = "connection.reconnect_scheduled"
	ChannelMessageReceived     = "message.received"
	ChannelMessagePublished    = "message.published"
	ChannelSubscriptionAdded   = "subscription.added"
	ChannelSubscriptionRemoved = "subscription.removed"
	ChannelSubscriptionCleared = "subscription.cleared"
	ChannelHistorySubscribe    = "history.subscribe"
	ChannelHistoryPublish      = "history.publish"
	ChannelConnectionsUpdated  = "settings.connections"
)

type statePayload struct {
	ConnectionID string           `json:"connection_id"`
	State        connection.State `json:"state"`
	Previous     connection.State `json:"previous"`
	Cause        string           `json:"cause,omitempty"`
}

type failedPayload struct {
	ConnectionID string `json:"connection_id"`
	Error        string `json:"error"`
	Attempt      int    `json:"attempt"`
	Exhausted    bool   `json:"exhausted"`
}

type reconnectPayload struct {
	ConnectionID string `json:"connection_id"`
	Attempt      int    `json:"attempt"`
	DelayMS      int64  `json:"delay_ms"`
}

// messagePayload adds the payload as text next to the base64 form.
type messagePayload struct {
	message.Message
	Text  string `json:"payload_text"`
	Error string `json:"error,omitempty"`
}

type clearedPayload struct {
	ConnectionID  string                      `json:"connection_id"`
	Subscriptions []subscription.Subscription `json:"subscriptions"`
}

type historyPayload struct {
	ConnectionID string `json:"connection_id"`
}

type connectionsPayload struct {
	IDs     []string `json:"ids"`
	Removed []string `json:"removed,omitempty"`
}

// sseEvent is one server-sent event.
type sseEvent struct {
	id   string
	name string
	data string
}

func (e sseEvent) Id() string    { return e.id } //nolint:revive // name fixed by eventsource.Event
func (e sseEvent) Event() string { return e.name }
func (e sseEvent) Data() string  { return e.data }

// relay forwards bus events to WebSocket clients and to the SSE stream of
// the connection they belong to.
type relay struct {
	hub    *Hub
	sse    *eventsource.Server
	logger *logging.Logger
	seq    atomic.Uint64
}

// Handlers implements event.Subscriber.
func (r *relay) Handlers() []event.Handler {
	return []event.Handler{
		event.Handle(func(e connection.StateChangedEvent) error {
			p := statePayload{ConnectionID: e.ConnectionID, State: e.State, Previous: e.Previous}
			if e.Cause != nil {
				p.Cause = e.Cause.Error()
			}
			r.forward(ChannelConnectionState, e.ConnectionID, p)
			return nil
		}),
		event.Handle(func(e connection.FailedEvent) error {
			p := failedPayload{ConnectionID: e.ConnectionID, Attempt: e.Attempt, Exhausted: e.Exhausted}
			if e.Err != nil {
				p.Error = e.Err.Error()
			}
			r.forward(ChannelConnectionFailed, e.ConnectionID, p)
			return nil
		}),
		event.Handle(func(e connection.ReconnectScheduledEvent) error {
			r.forward(ChannelReconnectScheduled, e.ConnectionID, reconnectPayload{
				ConnectionID: e.ConnectionID,
				Attempt:      e.Attempt,
				DelayMS:      e.Delay.Milliseconds(),
			})
			return nil
		}),
		event.Handle(func(e message.ReceivedEvent) error {
			r.forward(ChannelMessageReceived, e.Message.ConnectionID, newMessagePayload(e.Message, nil))
			return nil
		}),
		event.Handle(func(e message.PublishedEvent) error {
			r.forward(ChannelMessagePublished, e.Message.ConnectionID, newMessagePayload(e.Message, e.Err))
			return nil
		}),
		event.Handle(func(e subscription.AddedEvent) error {
			r.forward(ChannelSubscriptionAdded, e.Subscription.ConnectionID, e.Subscription)
			return nil
		}),
		event.Handle(func(e subscription.RemovedEvent) error {
			r.forward(ChannelSubscriptionRemoved, e.Subscription.ConnectionID, e.Subscription)
			return nil
		}),
		event.Handle(func(e subscription.ClearedEvent) error {
			r.forward(ChannelSubscriptionCleared, e.ConnectionID, clearedPayload(e))
			return nil
		}),
		event.Handle(func(e history.PersistSubscribeHistoryUpdateEvent) error {
			r.forward(ChannelHistorySubscribe, e.ConnectionID, historyPayload(e))
			return nil
		}),
		event.Handle(func(e history.PersistPublishHistoryUpdateEvent) error {
			r.forward(ChannelHistoryPublish, e.ConnectionID, historyPayload(e))
			return nil
		}),
		event.Handle(func(e settings.ConnectionsUpdatedEvent) error {
			ids := make([]string, 0, len(e.Connections))
			for _, c := range e.Connections {
				ids = append(ids, c.ID)
			}
			// Configs carry passwords; relay ids only.
			r.hub.Broadcast(ChannelConnectionsUpdated, "", connectionsPayload{IDs: ids, Removed: e.Removed})
			return nil
		}),
	}
}

// forward broadcasts on the hub and publishes on the connection's SSE channel.
func (r *relay) forward(channel, connectionID string, payload any) {
	r.hub.Broadcast(channel, connectionID, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal event stream payload", "channel", channel, "error", err)
		return
	}
	r.sse.Publish([]string{connectionID}, sseEvent{
		id:   strconv.FormatUint(r.seq.Add(1), 10),
		name: channel,
		data: string(data),
	})
}

func newMessagePayload(m message.Message, err error) messagePayload {
	p := messagePayload{Message: m, Text: m.PayloadString()}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

// eventTime formats event timestamps the same way for every transport.
func eventTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
