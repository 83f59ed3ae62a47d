package prover

// State is a step of the prover session state machine
type State int

const (
	StateIdle State = iota
	StateSettingUp
	StateConnected
	StateRequestSent
	StateAwaitingResponse
	StateComputingDisclosure
	StateProving
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSettingUp:
		return "setting_up"
	case StateConnected:
		return "connected"
	case StateRequestSent:
		return "request_sent"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateComputingDisclosure:
		return "computing_disclosure"
	case StateProving:
		return "proving"
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

// next lists the forward transitions; Failed is reachable from any non-terminal state
var next = map[State]State{
	StateIdle:                StateSettingUp,
	StateSettingUp:           StateConnected,
	StateConnected:           StateRequestSent,
	StateRequestSent:         StateAwaitingResponse,
	StateAwaitingResponse:    StateComputingDisclosure,
	StateComputingDisclosure: StateProving,
	StateProving:             StateClosed,
}

func validTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}
