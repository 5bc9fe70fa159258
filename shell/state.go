package shell

// State describes the session lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateClosed
	StateDead
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}
