package wscengine

// State of the connection managed by the engine.
//
// Closed and Failed are terminal: once the engine reaches one of them, it never writes to the
// connection again and writability requests are ignored.
type ConnectionState int32

const (
	// Engine is dialing the server. Initial state.
	Connecting ConnectionState = iota
	// Connection is established and messages can be exchanged.
	Open
	// Engine is closing the connection following a local request.
	Closing
	// Connection has been closed normally.
	Closed
	// Engine stopped because of an unrecoverable error. See WebsocketEngine.Err.
	Failed
)

// Allowed transitions. Terminal states have no entry.
var allowedTransitions = map[ConnectionState][]ConnectionState{
	Connecting: {Open, Failed},
	Open:       {Closing, Closed, Failed},
	Closing:    {Closed, Failed},
}

// Return a human readable name for the state.
func (state ConnectionState) String() string {
	switch state {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Return true if no transition is possible from the state.
func (state ConnectionState) IsTerminal() bool {
	return state == Closed || state == Failed
}

// Return true if the state machine allows a transition from state to next.
func (state ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range allowedTransitions[state] {
		if allowed == next {
			return true
		}
	}
	return false
}
