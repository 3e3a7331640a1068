package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cloudfarm/internal/queue"
	"cloudfarm/internal/wire"
)

// Publisher delivers an envelope to everyone subscribed to its channel.
type Publisher interface {
	Publish(ctx context.Context, env wire.Envelope) error
}

// Enqueuer hands background work to the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// publish sends data as msgType on every channel. Failures are logged; the
// mutation that produced the event has already been committed.
func publish(ctx context.Context, pub Publisher, log zerolog.Logger, msgType string, data any, channels ...string) {
	if pub == nil {
		return
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, ch := range channels {
		env, err := wire.New(msgType, ch, data)
		if err != nil {
			log.Error().Err(err).Str("event", msgType).Msg("encode event failed")
			return
		}
		env.Timestamp = stamp
		if err := pub.Publish(ctx, env); err != nil {
			log.Warn().Err(err).Str("event", msgType).Str("channel", ch).Msg("publish event failed")
		}
	}
}
