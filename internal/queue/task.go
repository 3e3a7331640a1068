package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TaskStatusSweep    = "status_sweep"
	TaskSessionCleanup = "session_cleanup"
	TaskImageIngest    = "image_ingest"
)

var ErrMalformedTask = errors.New("malformed task")

// Task is one entry of the task stream. Fields are flat strings so entries stay
// readable with XRANGE.
type Task struct {
	ID         string
	Type       string
	TalhaoID   string
	ObjectKey  string
	EnqueuedAt time.Time
}

func (t Task) values() map[string]any {
	values := map[string]any{
		"type":        t.Type,
		"enqueued_at": t.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.TalhaoID != "" {
		values["talhao_id"] = t.TalhaoID
	}
	if t.ObjectKey != "" {
		values["object_key"] = t.ObjectKey
	}
	return values
}

func parseTask(msg redis.XMessage) (Task, error) {
	field := func(name string) string {
		if v, ok := msg.Values[name].(string); ok {
			return v
		}
		return ""
	}

	task := Task{
		ID:        msg.ID,
		Type:      field("type"),
		TalhaoID:  field("talhao_id"),
		ObjectKey: field("object_key"),
	}
	if task.Type == "" {
		return Task{}, fmt.Errorf("%w: %s has no type", ErrMalformedTask, msg.ID)
	}
	if raw := field("enqueued_at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Task{}, fmt.Errorf("%w: enqueued_at %q", ErrMalformedTask, raw)
		}
		task.EnqueuedAt = at
	}
	return task, nil
}

// Producer appends tasks to a stream.
type Producer struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewProducer(client redis.UniversalClient, stream string) *Producer {
	return &Producer{client: client, stream: stream, maxLen: 10000}
}

func (p *Producer) Enqueue(ctx context.Context, task Task) (string, error) {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: task.values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Type, err)
	}
	return id, nil
}
