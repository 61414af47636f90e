// Package mqtt provides the broker transport for correo connections.
//
// This package manages:
//   - One paho client per configured connection
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after a reconnect
//   - Topic name/filter validation and wildcard matching
//
// # Reconnects
//
// Paho's built-in auto-reconnect is switched off. A lost connection is
// reported through SetOnConnectionLost and the connection tracker decides
// whether and when to call Connect again.
//
// # Security Considerations
//
//   - TLS uses ssl:// with TLS 1.2 minimum
//   - TLSInsecureSkipVerify is a per-connection opt-in for self-signed brokers
//   - Credentials are passed to the broker as-is
//
// # Usage
//
//	client := mqtt.NewClient(mqtt.Options{
//	    ConnectionID: "local",
//	    Host:         "127.0.0.1",
//	    Port:         1883,
//	    ClientID:     "correo-1",
//	})
//	client.SetOnConnectionLost(func(err error) { tracker.ConnectionLost("local", err) })
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err := client.Subscribe(ctx, "sensors/#", 1, func(m mqtt.Message) error {
//	    log.Printf("%s = %s", m.Topic, m.Payload)
//	    return nil
//	})
package mqtt
