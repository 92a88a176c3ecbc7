package core

type SessionID string

// SessionState is the lifecycle phase of one client connection.
type SessionState int32

const (
	StateAwaitingJoin SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingJoin:
		return "awaiting_join"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
