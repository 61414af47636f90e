package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by correo.
const (
	MeasurementMessages        = "mqtt_messages"
	MeasurementConnectionState = "connection_state"
)

// WriteMessage records one received or published message. Topics are
// tagged, payload size and QoS are fields.
func (c *Client) WriteMessage(connectionID, direction, topic string, size int, qos byte, at time.Time) {
	c.WritePoint(MeasurementMessages,
		map[string]string{
			"connection_id": connectionID,
			"direction":     direction,
			"topic":         topic,
		},
		map[string]interface{}{
			"bytes": size,
			"qos":   int(qos),
		},
		at)
}

// WriteConnectionState records a connection state transition.
func (c *Client) WriteConnectionState(connectionID, state string, attempt int, at time.Time) {
	c.WritePoint(MeasurementConnectionState,
		map[string]string{
			"connection_id": connectionID,
			"state":         state,
		},
		map[string]interface{}{
			"attempt": attempt,
		},
		at)
}

// WritePoint queues a point. A zero time means now. Points written while
// disconnected are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
