package connection

import "fmt"

// State is the lifecycle state of one connection.
type State int

const (
	// StateDisconnected is the initial state and the settled state after teardown.
	StateDisconnected State = iota
	// StateConnecting means a connect attempt is in flight.
	StateConnecting
	// StateConnected means the broker acknowledged the session.
	StateConnected
	// StateDisconnectedGraceful follows a user-requested disconnect.
	StateDisconnectedGraceful
	// StateDisconnectedUngraceful follows a lost connection or failed connect.
	StateDisconnectedUngraceful
)

var stateNames = map[State]string{
	StateDisconnected:           "DISCONNECTED",
	StateConnecting:             "CONNECTING",
	StateConnected:              "CONNECTED",
	StateDisconnectedGraceful:   "DISCONNECTED_GRACEFUL",
	StateDisconnectedUngraceful: "DISCONNECTED_UNGRACEFUL",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsDisconnected reports whether the state is one of the three disconnected states.
func (s State) IsDisconnected() bool {
	return s == StateDisconnected || s == StateDisconnectedGraceful || s == StateDisconnectedUngraceful
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidState, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts a state name into a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateDisconnected, fmt.Errorf("%w: %q", ErrInvalidState, name)
}
