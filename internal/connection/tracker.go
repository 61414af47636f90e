package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/correomqtt/correo-core/internal/dispatch"
	"github.com/correomqtt/correo-core/internal/event"
)

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ReconnectFunc is called after the tracker moved a connection back to
// CONNECTING for a scheduled retry. It must start a connect attempt and
// report the outcome through Connected or ConnectFailed.
type ReconnectFunc func(connectionID string)

// Config holds Tracker settings.
type Config struct {
	// Policy controls automatic reconnects.
	Policy ReconnectPolicy

	// Executor runs retry timers. Nil runs them on the timer goroutine.
	Executor dispatch.Executor
}

// Tracker owns the lifecycle state of every connection and announces each
// transition on the bus.
//
// Transitions for one connection id are serialised and their events are
// published in the order the transitions were applied, also when a handler
// requests a further transition for the same id while an event is being
// delivered. Different ids never contend for the same lock.
//
// All public methods are thread-safe.
type Tracker struct {
	bus    event.Firer
	policy ReconnectPolicy
	exec   dispatch.Executor
	logger Logger

	mu        sync.Mutex
	entries   map[string]*entry
	reconnect ReconnectFunc
	closed    bool

	retryGen  atomic.Uint64
	afterFunc func(time.Duration, func()) (stop func() bool)
}

// entry is the single state holder for one connection id.
type entry struct {
	mu       sync.Mutex
	state    State
	attempt  int
	retryGen uint64 // 0 when no retry is pending
	stop     func() bool
	pending  []event.Event
	draining bool
}

// NewTracker creates a tracker publishing on bus.
func NewTracker(bus event.Firer, cfg Config) *Tracker {
	exec := cfg.Executor
	if exec == nil {
		exec = dispatch.Direct{}
	}
	return &Tracker{
		bus:     bus,
		policy:  cfg.Policy,
		exec:    exec,
		logger:  noopLogger{},
		entries: make(map[string]*entry),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// SetReconnectFunc registers the function that performs reconnect attempts.
// Without one, ungraceful disconnects are never retried.
func (t *Tracker) SetReconnectFunc(fn ReconnectFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnect = fn
}

// Policy returns the reconnect policy.
func (t *Tracker) Policy() ReconnectPolicy {
	return t.policy
}

// State returns the current state of a connection. Unknown ids are DISCONNECTED.
func (t *Tracker) State(id string) State {
	e := t.lookup(id)
	if e == nil {
		return StateDisconnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Attempt returns the number of reconnect attempts made since the last
// successful connect.
func (t *Tracker) Attempt(id string) int {
	e := t.lookup(id)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempt
}

// States returns a snapshot of all tracked connection states.
func (t *Tracker) States() map[string]State {
	t.mu.Lock()
	entries := make(map[string]*entry, len(t.entries))
	for id, e := range t.entries {
		entries[id] = e
	}
	t.mu.Unlock()

	states := make(map[string]State, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		states[id] = e.state
		e.mu.Unlock()
	}
	return states
}

// RequestConnect starts a user-requested connect.
// Valid from any disconnected state; cancels a pending retry.
func (t *Tracker) RequestConnect(id string) bool {
	return t.transition(id, "connect", func(e *entry) []event.Event {
		if !e.state.IsDisconnected() {
			return nil
		}
		t.cancelRetry(e)
		e.attempt = 0
		return []event.Event{t.set(id, e, StateConnecting, nil)}
	})
}

// Connected records that the broker accepted the session.
func (t *Tracker) Connected(id string) bool {
	return t.update(id, "connected", func(e *entry) []event.Event {
		if e.state != StateConnecting {
			return nil
		}
		e.attempt = 0
		return []event.Event{t.set(id, e, StateConnected, nil)}
	})
}

// ConnectFailed records a failed connect attempt.
func (t *Tracker) ConnectFailed(id string, err error) bool {
	return t.update(id, "connect failed", func(e *entry) []event.Event {
		if e.state != StateConnecting {
			return nil
		}
		t.logger.Error("connection attempt failed",
			"connection_id", id,
			"attempt", e.attempt,
			"error", err,
		)
		events := []event.Event{
			t.set(id, e, StateDisconnectedUngraceful, err),
			FailedEvent{ConnectionID: id, Err: err, Attempt: e.attempt},
		}
		return append(events, t.scheduleRetry(id, e)...)
	})
}

// ConnectionLost records an unexpected loss of an established connection.
func (t *Tracker) ConnectionLost(id string, err error) bool {
	return t.update(id, "connection lost", func(e *entry) []event.Event {
		if e.state != StateConnected {
			return nil
		}
		t.logger.Warn("connection lost", "connection_id", id, "error", err)
		events := []event.Event{t.set(id, e, StateDisconnectedUngraceful, err)}
		return append(events, t.scheduleRetry(id, e)...)
	})
}

// RequestDisconnect handles a user-requested disconnect.
//
// A connected or connecting session becomes DISCONNECTED_GRACEFUL. A
// connection waiting for a retry has the retry cancelled and settles in
// DISCONNECTED. Anything else is a no-op.
func (t *Tracker) RequestDisconnect(id string) bool {
	return t.update(id, "disconnect", func(e *entry) []event.Event {
		switch {
		case e.state == StateConnected || e.state == StateConnecting:
			t.cancelRetry(e)
			e.attempt = 0
			return []event.Event{t.set(id, e, StateDisconnectedGraceful, nil)}
		case e.state == StateDisconnectedUngraceful && e.retryGen != 0:
			t.cancelRetry(e)
			e.attempt = 0
			return []event.Event{t.set(id, e, StateDisconnected, nil)}
		default:
			return nil
		}
	})
}

// Reset tears a connection down to DISCONNECTED from any other state.
func (t *Tracker) Reset(id string) bool {
	return t.update(id, "reset", t.reset(id))
}

// Remove resets a connection and forgets it.
func (t *Tracker) Remove(id string) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	delete(t.entries, id)
	t.mu.Unlock()

	if !ok {
		return false
	}
	return t.apply(id, e, "remove", t.reset(id))
}

func (t *Tracker) reset(id string) func(e *entry) []event.Event {
	return func(e *entry) []event.Event {
		t.cancelRetry(e)
		e.attempt = 0
		if e.state == StateDisconnected {
			return nil
		}
		return []event.Event{t.set(id, e, StateDisconnected, nil)}
	}
}

// Close cancels every pending retry. Transitions remain usable, but no new
// retries are scheduled.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		t.cancelRetry(e)
		e.mu.Unlock()
	}
}

// retry runs a scheduled reconnect attempt if it is still current.
func (t *Tracker) retry(id string, gen uint64) {
	e := t.lookup(id)
	if e == nil {
		return
	}

	started := t.apply(id, e, "retry", func(e *entry) []event.Event {
		if e.retryGen != gen || e.state != StateDisconnectedUngraceful {
			return nil
		}
		e.retryGen = 0
		e.stop = nil
		t.logger.Info("reconnecting", "connection_id", id, "attempt", e.attempt)
		return []event.Event{t.set(id, e, StateConnecting, nil)}
	})
	if !started {
		return
	}

	if fn := t.reconnectFunc(); fn != nil {
		fn(id)
	}
}

// scheduleRetry arms the next reconnect attempt. Caller holds e.mu and has
// just moved e into DISCONNECTED_UNGRACEFUL.
func (t *Tracker) scheduleRetry(id string, e *entry) []event.Event {
	if !t.policy.Enabled || t.reconnectFunc() == nil || t.isClosed() {
		return nil
	}

	next := e.attempt + 1
	if !t.policy.Allows(next) {
		t.logger.Error("reconnect attempts exhausted",
			"connection_id", id,
			"attempts", e.attempt,
		)
		attempts := e.attempt
		e.attempt = 0
		return []event.Event{
			FailedEvent{ConnectionID: id, Err: ErrRetriesExhausted, Attempt: attempts, Exhausted: true},
			t.set(id, e, StateDisconnected, ErrRetriesExhausted),
		}
	}

	e.attempt = next
	delay := t.policy.Delay(next)
	gen := t.retryGen.Add(1)
	e.retryGen = gen
	e.stop = t.afterFunc(delay, func() {
		if err := t.exec.Post(func() { t.retry(id, gen) }); err != nil {
			t.logger.Debug("reconnect dropped", "connection_id", id, "error", err)
		}
	})

	t.logger.Info("reconnect scheduled",
		"connection_id", id,
		"attempt", next,
		"delay", delay,
	)
	return []event.Event{ReconnectScheduledEvent{ConnectionID: id, Attempt: next, Delay: delay}}
}

// cancelRetry stops a pending retry timer. Caller holds e.mu.
func (t *Tracker) cancelRetry(e *entry) {
	if e.stop != nil {
		e.stop()
	}
	e.stop = nil
	e.retryGen = 0
}

// set moves e to state and builds the matching event. Caller holds e.mu.
func (t *Tracker) set(id string, e *entry, to State, cause error) StateChangedEvent {
	from := e.state
	e.state = to
	t.logger.Info("connection state changed",
		"connection_id", id,
		"from", from.String(),
		"to", to.String(),
	)
	return StateChangedEvent{ConnectionID: id, State: to, Previous: from, Cause: cause}
}

// transition applies fn to the entry for id, creating it if needed.
func (t *Tracker) transition(id, op string, fn func(e *entry) []event.Event) bool {
	return t.apply(id, t.getOrCreate(id), op, fn)
}

// update applies fn to an existing entry. Unknown ids are DISCONNECTED,
// from which only a connect can move, so no entry is created for them.
func (t *Tracker) update(id, op string, fn func(e *entry) []event.Event) bool {
	e := t.lookup(id)
	if e == nil {
		t.logger.Debug("ignoring connection transition",
			"connection_id", id,
			"op", op,
			"state", StateDisconnected.String(),
		)
		return false
	}
	return t.apply(id, e, op, fn)
}

// apply runs fn under the entry lock, queues the events it returns and
// drains the queue unless another caller is already draining it.
func (t *Tracker) apply(id string, e *entry, op string, fn func(e *entry) []event.Event) bool {
	e.mu.Lock()
	events := fn(e)
	if len(events) == 0 {
		state := e.state
		e.mu.Unlock()
		t.logger.Debug("ignoring connection transition",
			"connection_id", id,
			"op", op,
			"state", state.String(),
		)
		return false
	}

	e.pending = append(e.pending, events...)
	if e.draining {
		e.mu.Unlock()
		return true
	}
	e.draining = true
	e.mu.Unlock()

	t.drain(e)
	return true
}

// drain publishes queued events one at a time without holding e.mu, so
// handlers may request further transitions for the same id.
func (t *Tracker) drain(e *entry) {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		ev := e.pending[0]
		e.pending[0] = nil
		e.pending = e.pending[1:]
		e.mu.Unlock()

		t.bus.Fire(ev)
	}
}

func (t *Tracker) lookup(id string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[id]
}

func (t *Tracker) getOrCreate(id string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &entry{}
		t.entries[id] = e
	}
	return e
}

func (t *Tracker) reconnectFunc() ReconnectFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reconnect
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
