// Package telemetry forwards message and connection activity from the
// event bus to a metrics writer such as the InfluxDB client.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/correomqtt/correo-core/internal/connection"
	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/message"
)

// Writer receives telemetry points. *influxdb.Client implements it.
type Writer interface {
	WriteMessage(connectionID, direction, topic string, size int, qos byte, at time.Time)
	WriteConnectionState(connectionID, state string, attempt int, at time.Time)
}

// Counters are running totals since the recorder was created.
type Counters struct {
	Received    uint64 `json:"received"`
	Published   uint64 `json:"published"`
	Transitions uint64 `json:"transitions"`
}

// Recorder is a bus subscriber writing one point per received message,
// successful publish, state transition and scheduled reconnect.
type Recorder struct {
	w           Writer
	received    atomic.Uint64
	published   atomic.Uint64
	transitions atomic.Uint64
}

// NewRecorder creates a recorder writing to w. A nil writer only counts.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w}
}

// Handlers implements event.Subscriber.
func (r *Recorder) Handlers() []event.Handler {
	return []event.Handler{
		event.Handle(r.onReceived),
		event.Handle(r.onPublished),
		event.Handle(r.onStateChanged),
		event.Handle(r.onReconnectScheduled),
	}
}

// Counters returns the running totals.
func (r *Recorder) Counters() Counters {
	return Counters{
		Received:    r.received.Load(),
		Published:   r.published.Load(),
		Transitions: r.transitions.Load(),
	}
}

func (r *Recorder) onReceived(e message.ReceivedEvent) error {
	r.received.Add(1)
	r.writeMessage(e.Message)
	return nil
}

func (r *Recorder) onPublished(e message.PublishedEvent) error {
	if e.Err != nil || e.Message.PublishStatus != message.PublishStatusSucceeded {
		return nil
	}
	r.published.Add(1)
	r.writeMessage(e.Message)
	return nil
}

func (r *Recorder) onStateChanged(e connection.StateChangedEvent) error {
	r.transitions.Add(1)
	if r.w != nil {
		r.w.WriteConnectionState(e.ConnectionID, e.State.String(), 0, time.Now())
	}
	return nil
}

func (r *Recorder) onReconnectScheduled(e connection.ReconnectScheduledEvent) error {
	if r.w != nil {
		r.w.WriteConnectionState(e.ConnectionID, "RECONNECT_SCHEDULED", e.Attempt, time.Now())
	}
	return nil
}

func (r *Recorder) writeMessage(m message.Message) {
	if r.w == nil {
		return
	}
	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	r.w.WriteMessage(m.ConnectionID, string(m.Direction), m.Topic, len(m.Payload), m.QoS, at)
}
