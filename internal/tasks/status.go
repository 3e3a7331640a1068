package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// StatusLedger remembers the status each talhão had at the previous sweep.
// Sync replaces the snapshot and returns the one it replaced.
type StatusLedger interface {
	Sync(ctx context.Context, current map[string]string) (map[string]string, error)
}

type MemoryLedger struct {
	mu   sync.Mutex
	last map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{last: map[string]string{}}
}

func (l *MemoryLedger) Sync(_ context.Context, current map[string]string) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.last
	l.last = make(map[string]string, len(current))
	for id, status := range current {
		l.last[id] = status
	}
	return prev, nil
}

// RedisLedger keeps the snapshot in one hash so every worker replica sees it.
type RedisLedger struct {
	client redis.UniversalClient
	key    string
}

func NewRedisLedger(client redis.UniversalClient, key string) *RedisLedger {
	if key == "" {
		key = "cloudfarm:talhao-status"
	}
	return &RedisLedger{client: client, key: key}
}

func (l *RedisLedger) Sync(ctx context.Context, current map[string]string) (map[string]string, error) {
	prev, err := l.client.HGetAll(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load status ledger: %w", err)
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.key)
		if len(current) > 0 {
			values := make(map[string]any, len(current))
			for id, status := range current {
				values[id] = status
			}
			pipe.HSet(ctx, l.key, values)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store status ledger: %w", err)
	}
	return prev, nil
}
