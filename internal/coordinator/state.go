package coordinator

import "fmt"

// State is a coordinator lifecycle state. Transitions only move forward:
//
//	Created -> Listening -> Running -> ShuttingDown -> Stopped
//
// Listening and Running may be skipped when shutdown is requested early,
// and a failed Listen goes straight to Stopped.
type State int32

const (
	StateCreated State = iota
	StateListening
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText renders the state by name in status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateCreated; st <= StateStopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown coordinator state %q", text)
}
