package bot

// State 生命周期状态
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Running is only reachable through Starting; Stopped is reachable from every
// state that has not already reached it.
var transitions = map[State][]State{
	StateCreated:  {StateStarting, StateStopped},
	StateStarting: {StateRunning, StateStopped},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func stateNames() []string {
	return []string{
		StateCreated.String(),
		StateStarting.String(),
		StateRunning.String(),
		StateStopping.String(),
		StateStopped.String(),
	}
}
