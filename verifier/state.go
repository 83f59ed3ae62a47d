package verifier

// State is a step of the verifier session state machine
type State int

const (
	StateIdle State = iota
	StateSettingUp
	StateAwaitingProof
	StateVerifying
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSettingUp:
		return "setting_up"
	case StateAwaitingProof:
		return "awaiting_proof"
	case StateVerifying:
		return "verifying"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var next = map[State]State{
	StateIdle:          StateSettingUp,
	StateSettingUp:     StateAwaitingProof,
	StateAwaitingProof: StateVerifying,
	StateVerifying:     StateClosed,
}

func validTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return to == StateFailed || next[from] == to
}
