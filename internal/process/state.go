package process

import "fmt"

// State is the lifecycle state of a supervised project.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Crashed
)

var stateNames = [...]string{
	Stopped:  "stopped",
	Starting: "starting",
	Running:  "running",
	Stopping: "stopping",
	Crashed:  "crashed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Active reports whether a child process may exist in this state.
func (s State) Active() bool {
	return s == Starting || s == Running || s == Stopping
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == Stopped || s == Crashed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState converts a lowercase state name back into a State.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Stopped, fmt.Errorf("unknown state %q", name)
}

// AllStates lists every state in declaration order.
func AllStates() []State {
	return []State{Stopped, Starting, Running, Stopping, Crashed}
}
