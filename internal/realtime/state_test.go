package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {
	var got []time.Duration
	for attempt := 1; attempt <= 7; attempt++ {
		got = append(got, Backoff(attempt, time.Second, 30*time.Second))
	}
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, got)
}

func TestBackoffEdges(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, time.Second, 30*time.Second))
	assert.Equal(t, 5*time.Second, Backoff(1, 10*time.Second, 5*time.Second))
	assert.Equal(t, 30*time.Second, Backoff(500, time.Second, 30*time.Second))
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateAuthRejected: "auth_rejected",
		StateExhausted:    "exhausted",
		State(42):         "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
