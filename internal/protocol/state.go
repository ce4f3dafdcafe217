package protocol

// State is the engine's position in the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateAwaitingReady
	StateInitializing
	StateInitialized
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
