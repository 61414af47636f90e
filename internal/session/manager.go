// Package session connects saved connections to brokers and keeps the
// connection tracker, the subscription registry and the event bus in step
// with what the transports report.
//
// User operations (Connect, Disconnect, Subscribe, Publish) run on the
// caller's goroutine and apply tracker transitions directly; the tracker
// serialises them per connection. Transport callbacks (incoming messages,
// connection loss) arrive on client goroutines and are posted to the
// executor, so bus handlers see them in arrival order on one goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/correomqtt/correo-core/internal/connection"
	"github.com/correomqtt/correo-core/internal/dispatch"
	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/extension"
	"github.com/correomqtt/correo-core/internal/infrastructure/config"
	"github.com/correomqtt/correo-core/internal/infrastructure/mqtt"
	"github.com/correomqtt/correo-core/internal/message"
	"github.com/correomqtt/correo-core/internal/settings"
	"github.com/correomqtt/correo-core/internal/subscription"
)

const defaultConnectTimeout = 10 * time.Second

// Logger defines the logging interface used by the Manager.
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

// Deps are the collaborators of a Manager.
type Deps struct {
	Bus           event.Firer
	Connections   ConnectionSource
	Tracker       *connection.Tracker
	Subscriptions *subscription.Registry

	// Extensions validates and labels incoming messages. Optional.
	Extensions *extension.Registry

	// Executor receives transport callbacks. Nil runs them inline.
	Executor dispatch.Executor

	// NewTransport creates transports. Nil uses MQTTTransport.
	NewTransport TransportFactory

	// MQTT holds the defaults applied to every connection.
	MQTT config.MQTTConfig
}

// Status summarises one saved connection.
type Status struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Host          string           `json:"host"`
	Port          int              `json:"port"`
	State         connection.State `json:"state"`
	Attempt       int              `json:"reconnect_attempt"`
	Subscriptions int              `json:"subscriptions"`
}

// attempt is one dialled transport. Sessions are tracked by attempt
// pointer so transports of any type can be compared.
type attempt struct {
	tr Transport
}

// Manager owns one transport per active connection.
//
// All public methods are thread-safe.
type Manager struct {
	bus      event.Firer
	conns    ConnectionSource
	tracker  *connection.Tracker
	subs     *subscription.Registry
	ext      *extension.Registry
	exec     dispatch.Executor
	dial     TransportFactory
	defaults config.MQTTConfig
	logger   Logger

	mu         sync.Mutex
	transports map[string]*attempt
	closed     bool
}

// NewManager creates a manager and installs itself as the tracker's
// reconnect function. Register the manager on the bus so it reacts to
// state changes and removed connections.
func NewManager(d Deps) *Manager {
	exec := d.Executor
	if exec == nil {
		exec = dispatch.Direct{}
	}
	dial := d.NewTransport
	if dial == nil {
		dial = MQTTTransport(nil)
	}
	m := &Manager{
		bus:        d.Bus,
		conns:      d.Connections,
		tracker:    d.Tracker,
		subs:       d.Subscriptions,
		ext:        d.Extensions,
		exec:       exec,
		dial:       dial,
		defaults:   d.MQTT,
		logger:     noopLogger{},
		transports: make(map[string]*attempt),
	}
	m.tracker.SetReconnectFunc(m.reconnect)
	return m
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Handlers implements event.Subscriber.
func (m *Manager) Handlers() []event.Handler {
	return []event.Handler{
		event.Handle(m.onStateChanged),
		event.Handle(m.onConnectionsUpdated),
	}
}

// Connect starts a user-requested connect and waits for the outcome.
//
// Returns:
//   - ErrUnknownConnection when id is not saved
//   - ErrAlreadyActive when the session is connecting or connected
//   - the transport error when the broker could not be reached; the
//     tracker then schedules retries according to its policy
//   - ErrAborted when a disconnect or newer attempt overtook this one
func (m *Manager) Connect(ctx context.Context, id string) error {
	if m.isClosed() {
		return ErrClosed
	}
	cfg, err := m.connection(id)
	if err != nil {
		return err
	}
	if !m.tracker.RequestConnect(id) {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyActive, id, m.tracker.State(id))
	}
	return m.connect(ctx, id, cfg)
}

// Disconnect ends a session on user request. Disconnecting an idle session
// is a no-op.
func (m *Manager) Disconnect(_ context.Context, id string) error {
	if _, err := m.connection(id); err != nil {
		return err
	}
	m.tracker.RequestDisconnect(id)
	// A session whose retries were exhausted still holds its lost transport.
	m.detach(id, nil)
	return nil
}

// Subscribe subscribes a connected session to topic and records the
// subscription.
func (m *Manager) Subscribe(ctx context.Context, id, topic string, qos byte) (subscription.Subscription, error) {
	a, err := m.connected(id)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if err := mqtt.ValidateTopicFilter(topic); err != nil {
		return subscription.Subscription{}, err
	}
	if qos > 2 {
		return subscription.Subscription{}, mqtt.ErrInvalidQoS
	}

	// The registry learns the filter first: retained messages may arrive
	// before Subscribe returns and must be tagged with it.
	prev, existed := m.subs.Get(id, topic)
	sub, err := m.subs.Add(id, topic, qos)
	if err != nil {
		return subscription.Subscription{}, err
	}
	if err := a.tr.Subscribe(ctx, topic, qos, m.onMessage(id)); err != nil {
		m.undoSubscribe(id, topic, prev, existed)
		return subscription.Subscription{}, err
	}
	if !m.isCurrent(id, a) || m.tracker.State(id) != connection.StateConnected {
		m.undoSubscribe(id, topic, prev, existed)
		return subscription.Subscription{}, fmt.Errorf("%w: %s lost its session during subscribe", ErrAborted, id)
	}
	return sub, nil
}

// undoSubscribe reverts a registry Add. Entries already cleared by a
// teardown stay cleared.
func (m *Manager) undoSubscribe(id, topic string, prev subscription.Subscription, existed bool) {
	cur, ok := m.subs.Get(id, topic)
	if !ok {
		return
	}
	if !existed {
		m.subs.Remove(id, topic)
		return
	}
	if cur.QoS != prev.QoS {
		if _, err := m.subs.Add(id, topic, prev.QoS); err != nil {
			m.logger.Warn("restoring subscription qos failed", "connection_id", id, "topic", topic, "error", err)
		}
	}
}

// Unsubscribe removes one subscription.
func (m *Manager) Unsubscribe(ctx context.Context, id, topic string) error {
	a, err := m.connected(id)
	if err != nil {
		return err
	}
	if _, ok := m.subs.Get(id, topic); !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}
	if err := a.tr.Unsubscribe(ctx, topic); err != nil {
		return err
	}
	// Removing is idempotent, so a teardown during UNSUBACK converges too.
	m.subs.Remove(id, topic)
	return nil
}

// UnsubscribeAll removes every subscription of a connection.
func (m *Manager) UnsubscribeAll(ctx context.Context, id string) error {
	a, err := m.connected(id)
	if err != nil {
		return err
	}
	subs := m.subs.List(id)
	if len(subs) == 0 {
		return nil
	}
	topics := make([]string, len(subs))
	for i, s := range subs {
		topics[i] = s.Topic
	}
	if err := a.tr.Unsubscribe(ctx, topics...); err != nil {
		return err
	}
	m.subs.Clear(id)
	return nil
}

// Publish sends a message and fires PublishedEvent with the outcome.
func (m *Manager) Publish(ctx context.Context, id, topic string, payload []byte, qos byte, retained bool) (message.Message, error) {
	msg := message.New(id, message.DirectionOutgoing, topic, payload, qos, retained)
	msg.PublishStatus = message.PublishStatusPublished

	a, err := m.connected(id)
	if err == nil {
		err = mqtt.ValidateTopicName(topic)
	}
	if err == nil {
		err = a.tr.Publish(ctx, topic, payload, qos, retained)
	}
	if err != nil {
		msg.PublishStatus = message.PublishStatusFailed
		m.logger.Warn("publish failed", "connection_id", id, "topic", topic, "error", err)
	} else {
		msg.PublishStatus = message.PublishStatusSucceeded
	}
	m.bus.Fire(message.PublishedEvent{Message: msg, Err: err})
	return msg, err
}

// Subscriptions lists the active subscriptions of a saved connection.
func (m *Manager) Subscriptions(id string) ([]subscription.Subscription, error) {
	if _, err := m.connection(id); err != nil {
		return nil, err
	}
	return m.subs.List(id), nil
}

// Statuses reports every saved connection in saved order.
func (m *Manager) Statuses() []Status {
	saved := m.conns.Connections()
	out := make([]Status, 0, len(saved))
	for _, c := range saved {
		out = append(out, Status{
			ID:            c.ID,
			Name:          c.Name,
			Host:          c.Host,
			Port:          c.Port,
			State:         m.tracker.State(c.ID),
			Attempt:       m.tracker.Attempt(c.ID),
			Subscriptions: m.subs.Count(c.ID),
		})
	}
	return out
}

// Close cancels pending reconnects and disconnects every transport.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.transports))
	for id := range m.transports {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.tracker.Close()
	for _, id := range ids {
		m.tracker.RequestDisconnect(id)
		m.detach(id, nil)
	}
}

// connect dials a fresh transport for a session already in CONNECTING.
func (m *Manager) connect(ctx context.Context, id string, cfg settings.ConnectionConfig) error {
	a := &attempt{tr: m.dial(BuildOptions(cfg, m.defaults))}
	tr := a.tr
	tr.SetOnConnectionLost(func(err error) {
		m.post(func() { m.lost(id, a, err) })
	})
	if old := m.attach(id, a); old != nil {
		old.tr.Disconnect()
	}

	m.logger.Debug("dialling broker", "connection_id", id, "host", cfg.Host, "port", cfg.Port)
	err := tr.Connect(ctx)
	if !m.isCurrent(id, a) {
		tr.Disconnect()
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrAborted, id)
	}
	if err != nil {
		m.detach(id, a)
		m.tracker.ConnectFailed(id, err)
		return err
	}

	// Subscriptions survive an ungraceful loss; put them back before the
	// session is announced as connected.
	for _, s := range m.subs.List(id) {
		if err := tr.Subscribe(ctx, s.Topic, s.QoS, m.onMessage(id)); err != nil {
			m.logger.Warn("restoring subscription failed", "connection_id", id, "topic", s.Topic, "error", err)
		}
	}

	if !m.tracker.Connected(id) {
		m.detach(id, a)
		return fmt.Errorf("%w: %s", ErrAborted, id)
	}
	return nil
}

// reconnect is the tracker's ReconnectFunc. The tracker has moved id to
// CONNECTING; the dial runs off the executor.
func (m *Manager) reconnect(id string) {
	go func() {
		cfg, err := m.connection(id)
		if err != nil {
			m.tracker.ConnectFailed(id, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout())
		defer cancel()
		if err := m.connect(ctx, id, cfg); err != nil {
			m.logger.Debug("reconnect attempt failed", "connection_id", id, "error", err)
		}
	}()
}

// lost handles a transport reporting an unexpected drop.
func (m *Manager) lost(id string, a *attempt, err error) {
	if !m.isCurrent(id, a) {
		return
	}
	m.tracker.ConnectionLost(id, err)
}

func (m *Manager) onMessage(id string) mqtt.MessageHandler {
	return func(in mqtt.Message) error {
		msg := message.New(id, message.DirectionIncoming, in.Topic, in.Payload, in.QoS, in.Retained)
		m.post(func() { m.deliver(msg) })
		return nil
	}
}

// deliver tags an incoming message and fires ReceivedEvent.
func (m *Manager) deliver(msg message.Message) {
	if matches := m.subs.Match(msg.ConnectionID, msg.Topic); len(matches) > 0 {
		msg.Subscription = matches[0].Topic
	}
	if m.ext != nil {
		msg.Validation = extension.Validate(m.ext, msg.Topic, msg.Payload)
		extension.ApplyListHooks(m.ext, &msg)
	}
	m.bus.Fire(message.ReceivedEvent{Message: msg})
}

func (m *Manager) onStateChanged(e connection.StateChangedEvent) error {
	switch e.State {
	case connection.StateDisconnectedGraceful, connection.StateDisconnected:
		m.detach(e.ConnectionID, nil)
	}
	return nil
}

func (m *Manager) onConnectionsUpdated(e settings.ConnectionsUpdatedEvent) error {
	for _, id := range e.Removed {
		m.logger.Info("connection removed, tearing down", "connection_id", id)
		m.tracker.Remove(id)
		m.detach(id, nil)
	}
	return nil
}

func (m *Manager) connection(id string) (settings.ConnectionConfig, error) {
	cfg, err := m.conns.Connection(id)
	if errors.Is(err, settings.ErrConnectionNotFound) {
		return cfg, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return cfg, err
}

// connected returns the current attempt of a CONNECTED session.
func (m *Manager) connected(id string) (*attempt, error) {
	if m.tracker.State(id) != connection.StateConnected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	m.mu.Lock()
	a := m.transports[id]
	m.mu.Unlock()
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return a, nil
}

// attach makes a the current attempt of id and returns the previous one.
func (m *Manager) attach(id string, a *attempt) *attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.transports[id]
	m.transports[id] = a
	return old
}

// detach disconnects and forgets the transport of id. With a non-nil a it
// only acts if a is still the current attempt.
func (m *Manager) detach(id string, a *attempt) {
	m.mu.Lock()
	cur := m.transports[id]
	if cur == nil || (a != nil && cur != a) {
		m.mu.Unlock()
		return
	}
	delete(m.transports, id)
	m.mu.Unlock()

	cur.tr.Disconnect()
}

func (m *Manager) isCurrent(id string, a *attempt) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transports[id] == a
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) post(fn func()) {
	if err := m.exec.Post(fn); err != nil {
		m.logger.Debug("dropping transport callback", "error", err)
	}
}

func (m *Manager) connectTimeout() time.Duration {
	if m.defaults.ConnectTimeout > 0 {
		return m.defaults.ConnectTimeout
	}
	return defaultConnectTimeout
}
