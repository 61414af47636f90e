package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/correomqtt/correo-core/internal/infrastructure/config"
	"github.com/correomqtt/correo-core/internal/infrastructure/mqtt"
	"github.com/correomqtt/correo-core/internal/settings"
)

// Transport is one broker connection as the Manager drives it.
// *mqtt.Client implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(ctx context.Context, filter string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(ctx context.Context, filters ...string) error
	IsConnected() bool
	SetOnConnectionLost(callback func(err error))
}

// TransportFactory creates a disconnected transport for the given options.
type TransportFactory func(opts mqtt.Options) Transport

// MQTTTransport is the production TransportFactory.
func MQTTTransport(logger mqtt.Logger) TransportFactory {
	return func(opts mqtt.Options) Transport {
		c := mqtt.NewClient(opts)
		if logger != nil {
			c.SetLogger(logger)
		}
		return c
	}
}

// ConnectionSource provides saved connection configurations.
// *settings.Service implements it.
type ConnectionSource interface {
	Connections() []settings.ConnectionConfig
	Connection(id string) (settings.ConnectionConfig, error)
}

// BuildOptions maps a saved connection onto transport options, filling
// gaps from the daemon-wide MQTT defaults. An empty client id becomes the
// configured prefix plus a random suffix.
func BuildOptions(c settings.ConnectionConfig, defaults config.MQTTConfig) mqtt.Options {
	opts := mqtt.Options{
		ConnectionID:          c.ID,
		Host:                  c.Host,
		Port:                  c.Port,
		TLS:                   c.SSL,
		TLSInsecureSkipVerify: c.SSLInsecure,
		ClientID:              c.ClientID,
		Username:              c.Username,
		Password:              c.Password,
		CleanSession:          c.CleanSession,
		KeepAlive:             defaults.KeepAlive,
		ConnectTimeout:        defaults.ConnectTimeout,
		OperationTimeout:      defaults.OperationTimeout,
	}
	if opts.ClientID == "" {
		opts.ClientID = defaults.ClientIDPrefix + uuid.NewString()[:8]
	}
	if c.KeepAlive > 0 {
		opts.KeepAlive = time.Duration(c.KeepAlive) * time.Second
	}
	if c.LWTTopic != "" {
		opts.Will = &mqtt.Will{
			Topic:    c.LWTTopic,
			Payload:  []byte(c.LWTPayload),
			QoS:      c.LWTQoS,
			Retained: c.LWTRetained,
		}
	}
	return opts
}
