package realtime

import "time"

// State is the connection state of a Client.
type State int

const (
	// StateDisconnected means there is no socket and no reconnect pending.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the socket is open.
	StateConnected
	// StateReconnecting means a reconnect attempt is scheduled.
	StateReconnecting
	// StateAuthRejected means the server refused the credentials. Terminal
	// until Connect is called with a new session.
	StateAuthRejected
	// StateExhausted means every reconnect attempt failed. Terminal until
	// Connect is called again.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateAuthRejected:
		return "auth_rejected"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Status is a snapshot for connectivity indicators.
type Status struct {
	State            State
	Attempts         int
	MaxAttempts      int
	Delay            time.Duration
	LastConnected    time.Time
	LastDisconnected time.Time
}

// Backoff returns the delay before reconnect attempt n (1-based): floor on the
// first attempt, doubling on each further attempt, never above ceiling.
func Backoff(attempt int, floor, ceiling time.Duration) time.Duration {
	if attempt <= 1 {
		return min(floor, ceiling)
	}
	delay := floor
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling || delay <= 0 {
			return ceiling
		}
	}
	return delay
}
