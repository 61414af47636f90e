package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultOperationTimeout is the maximum time to wait for publish,
	// subscribe and unsubscribe acknowledgments.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options describes one broker connection.
type Options struct {
	// ConnectionID is the application-level id, used in logs.
	ConnectionID string

	Host string
	Port int

	// TLS switches the scheme to ssl://.
	TLS bool
	// TLSInsecureSkipVerify disables certificate verification (self-signed brokers).
	TLSInsecureSkipVerify bool

	ClientID string
	Username string
	Password string

	CleanSession bool

	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration

	// Will is the optional last-will message.
	Will *Will
}

// Will is a last-will-and-testament message published by the broker when
// the client disappears without a DISCONNECT.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// BrokerURL returns the paho broker URL for the options.
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

// Validate checks that the options can be used to connect.
func (o Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.Will != nil {
		if err := ValidateTopicName(o.Will.Topic); err != nil {
			return fmt.Errorf("%w: last will: %w", ErrInvalidOptions, err)
		}
		if o.Will.QoS > maxQoS {
			return fmt.Errorf("%w: last will: %w", ErrInvalidOptions, ErrInvalidQoS)
		}
	}
	return nil
}

// withDefaults fills unset timeouts.
func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
	return o
}

// buildClientOptions creates paho MQTT options.
//
// Paho's own reconnect and connect-retry are disabled: retry policy belongs
// to the connection tracker, which needs to see every lost connection.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(o.CleanSession)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetOrderMatters(false)

	if o.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tlsMinVersion,
			InsecureSkipVerify: o.TLSInsecureSkipVerify, //nolint:gosec // opt-in per connection
		})
	}

	if o.Will != nil {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}

	return opts
}
