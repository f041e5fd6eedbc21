package instrument

import "fmt"

// State is the connection state of the instrument.
type State uint8

const (
	StateDisconnected State = iota
	StateProbing
	StateComponentsFound
	StateInitializing
	StateReady
	// StateMisconfigured is entered when a component failed to initialise.
	// The instrument stays connected and its drivers stay valid until an
	// explicit disconnect.
	StateMisconfigured
)

var stateNames = map[State]string{
	StateDisconnected:    "Disconnected",
	StateProbing:         "Probing",
	StateComponentsFound: "ComponentsFound",
	StateInitializing:    "Initializing",
	StateReady:           "Ready",
	StateMisconfigured:   "Misconfigured",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", s)
}

// Connected reports whether the transport is open in state s.
func (s State) Connected() bool {
	return s != StateDisconnected
}

// MarshalText lets states travel as their names.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
