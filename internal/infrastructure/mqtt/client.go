package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client wraps paho.mqtt.golang for one configured broker connection.
//
// A Client is created disconnected. Connect may be called again after the
// connection was lost; each call dials with a fresh paho client and
// restores the tracked subscriptions once the broker accepts the session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks run on paho goroutines and must not block.
type Client struct {
	opts Options

	client   pahomqtt.Client
	clientMu sync.RWMutex

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	onConnect        func()
	onConnectionLost func(err error)
	callbackMu       sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// Message is an inbound PUBLISH.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho goroutines and should hand work off rather
// than block. A returned error is logged and does not affect acknowledgment.
type MessageHandler func(msg Message) error

// NewClient creates a disconnected client for the given options.
func NewClient(opts Options) *Client {
	return &Client{
		opts:          opts.withDefaults(),
		subscriptions: make(map[string]subscription),
	}
}

// Options returns the options the client was created with, defaults applied.
func (c *Client) Options() Options {
	return c.opts
}

// Connect dials the broker and waits for the CONNACK.
//
// Returns:
//   - error: ErrInvalidOptions, or ErrConnectionFailed wrapping the cause
//     (refused, timeout, ctx cancellation)
func (c *Client) Connect(ctx context.Context) error {
	if err := c.opts.Validate(); err != nil {
		return err
	}

	opts := buildClientOptions(c.opts)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	client := pahomqtt.NewClient(opts)
	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()

	token := client.Connect()
	if err := waitToken(ctx, token, c.opts.ConnectTimeout); err != nil {
		// The dial may still complete in the background; drop it if it does.
		go func() {
			<-token.Done()
			if token.Error() == nil {
				client.Disconnect(0)
			}
		}()
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.opts.BrokerURL(), err)
	}

	// The OnConnectHandler runs asynchronously and may not have executed yet.
	c.setConnected(true)
	return nil
}

// Disconnect sends DISCONNECT and forgets tracked subscriptions.
// Safe to call on a client that never connected.
func (c *Client) Disconnect() {
	c.subMu.Lock()
	c.subscriptions = make(map[string]subscription)
	c.subMu.Unlock()

	client := c.current()
	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
	c.setConnected(false)
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost is called by paho when an open connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.setConnected(false)

	c.callbackMu.RLock()
	callback := c.onConnectionLost
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked filters after a reconnect.
func (c *Client) restoreSubscriptions() {
	client := c.current()
	if client == nil {
		return
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Not waited on: this runs inside paho's connect callback.
		client.Subscribe(sub.filter, sub.qos, c.wrapHandler(sub.handler))
	}
}

// HealthCheck verifies the connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	connected := c.connected
	c.connMu.RUnlock()

	client := c.current()
	return connected && client != nil && client.IsConnected()
}

// SetOnConnect sets a callback invoked every time the broker accepts the session.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnConnectionLost sets a callback invoked when an open connection drops.
// It is not called for Disconnect.
func (c *Client) SetOnConnectionLost(callback func(err error)) {
	c.callbackMu.Lock()
	c.onConnectionLost = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for handler errors and panics.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) current() pahomqtt.Client {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"connection_id", c.opts.ConnectionID,
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		m := Message{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			QoS:       msg.Qos(),
			Retained:  msg.Retained(),
			Duplicate: msg.Duplicate(),
			MessageID: msg.MessageID(),
		}
		if err := handler(m); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"connection_id", c.opts.ConnectionID,
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

// waitToken waits for a paho token, honouring ctx and a timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
