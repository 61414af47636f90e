// Package influxdb exports correo telemetry to InfluxDB v2.
//
// Two measurements are written: mqtt_messages (one point per received or
// published message, tagged by connection, direction and topic) and
// connection_state (one point per state transition). Writes are batched by
// the client library and never block the caller; failures are reported to
// the SetOnError callback.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
package influxdb
