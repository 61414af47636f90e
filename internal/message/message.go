// Package message defines received and published MQTT messages as they
// flow through correo.
package message

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/correomqtt/correo-core/internal/event"
)

// previewLength is the maximum number of characters shown in a list preview.
const previewLength = 1000

// PublishStatus tracks an outgoing message.
type PublishStatus string

const (
	PublishStatusPublished PublishStatus = "published"
	PublishStatusSucceeded PublishStatus = "succeeded"
	PublishStatusFailed    PublishStatus = "failed"
)

// Direction tells received and published messages apart.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Validation is the verdict of a message validator extension.
type Validation struct {
	Valid   bool   `json:"valid"`
	Tooltip string `json:"tooltip,omitempty"`
}

// Message is one MQTT message with the metadata correo attaches to it.
type Message struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Direction    Direction `json:"direction"`
	Topic        string    `json:"topic"`
	Payload      []byte    `json:"payload"`
	QoS          byte      `json:"qos"`
	Retained     bool      `json:"retained"`
	Timestamp    time.Time `json:"timestamp"`

	// Subscription is the first subscription filter that matched an incoming message.
	Subscription string `json:"subscription,omitempty"`

	PublishStatus PublishStatus `json:"publish_status,omitempty"`
	Validation    *Validation   `json:"validation,omitempty"`

	// Labels are short tags added by message list hooks.
	Labels []string `json:"labels,omitempty"`
}

// New creates a message with a fresh id and the current time.
func New(connectionID string, dir Direction, topic string, payload []byte, qos byte, retained bool) Message {
	return Message{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Direction:    dir,
		Topic:        topic,
		Payload:      payload,
		QoS:          qos,
		Retained:     retained,
		Timestamp:    time.Now().UTC(),
	}
}

// PayloadString returns the payload as text.
func (m Message) PayloadString() string {
	return string(m.Payload)
}

// Preview returns the payload cut to the first 1000 characters with line
// breaks replaced by spaces, for single-line list display.
func (m Message) Preview() string {
	runes := []rune(string(m.Payload))
	if len(runes) > previewLength {
		runes = runes[:previewLength]
	}
	preview := strings.NewReplacer("\n", " ", "\r", " ").Replace(string(runes))
	return strings.TrimSpace(preview)
}

// IsJSON reports whether the payload is a JSON document.
func (m Message) IsJSON() bool {
	return json.Valid(bytes.TrimSpace(m.Payload))
}

// Pretty returns the payload indented if it is JSON, else the raw text.
func (m Message) Pretty() string {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(m.Payload), "", "  "); err != nil {
		return string(m.Payload)
	}
	return out.String()
}

// AddLabel appends a label once.
func (m *Message) AddLabel(label string) {
	for _, l := range m.Labels {
		if l == label {
			return
		}
	}
	m.Labels = append(m.Labels, label)
}

// ReceivedEvent is fired for every incoming message.
type ReceivedEvent struct {
	Message Message
}

// Attribute exposes the connection id for filtered delivery.
func (e ReceivedEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.Message.ConnectionID, key)
}

// PublishedEvent is fired once a publish attempt finished.
// Message.PublishStatus says whether it succeeded; Err carries the failure.
type PublishedEvent struct {
	Message Message
	Err     error
}

// Attribute exposes the connection id for filtered delivery.
func (e PublishedEvent) Attribute(key string) (string, bool) {
	return connectionAttribute(e.Message.ConnectionID, key)
}

func connectionAttribute(id, key string) (string, bool) {
	if key == event.FilterConnectionID {
		return id, true
	}
	return "", false
}
