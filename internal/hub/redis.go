package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cloudfarm/internal/wire"
)

// RedisPublisher lets processes without a hub, such as the worker, reach
// the sockets held by API instances.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "cloudfarm:rt:"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, env wire.Envelope) error {
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return publishRedis(ctx, p.client, p.prefix, env)
}

func publishRedis(ctx context.Context, client redis.UniversalClient, prefix string, env wire.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := client.Publish(ctx, prefix+env.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Channel, err)
	}
	return nil
}
