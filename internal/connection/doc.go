// Package connection tracks the lifecycle state of MQTT connections.
//
// The Tracker is the single source of truth for each connection id. It turns
// user requests (connect, disconnect) and transport callbacks (connected,
// connect failed, connection lost) into transitions of a small state
// machine and publishes a StateChangedEvent for every applied transition.
//
// # State Machine
//
//	DISCONNECTED ──RequestConnect──▶ CONNECTING ──Connected──▶ CONNECTED
//	     ▲                              │                         │
//	     │                        ConnectFailed             ConnectionLost
//	     │                              ▼                         ▼
//	     │◀──retries exhausted── DISCONNECTED_UNGRACEFUL ◀────────┘
//	     │                              │
//	     │                        retry timer ──▶ CONNECTING
//	     │
//	     └──Reset── any     CONNECTED/CONNECTING ──RequestDisconnect──▶ DISCONNECTED_GRACEFUL
//
// Requests that do not apply to the current state are ignored and logged at
// debug level; they never return errors.
//
// # Reconnects
//
// With an enabled ReconnectPolicy and a ReconnectFunc set, entering
// DISCONNECTED_UNGRACEFUL schedules attempt n after
// min(InitialDelay*2^(n-1), MaxDelay). When MaxAttempts is exceeded the
// tracker publishes a FailedEvent with Exhausted set and settles in
// DISCONNECTED.
package connection
