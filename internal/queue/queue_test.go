package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStream = "cloudfarm:tasks:test"

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type recorder struct {
	mu    sync.Mutex
	tasks []Task
	fail  bool
}

func (r *recorder) Handle(_ context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.tasks = append(r.tasks, task)
	return nil
}

func newConsumer(client *redis.Client, name string, h Handler) *Consumer {
	return NewConsumer(client, ConsumerConfig{
		Stream:        testStream,
		Group:         "workers",
		Consumer:      name,
		ClaimInterval: time.Millisecond,
		Block:         -1,
	}, zerolog.Nop(), h)
}

func TestProduceAndConsume(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	rec := &recorder{}
	consumer := newConsumer(client, "w1", rec)
	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, consumer.EnsureGroup(ctx))

	producer := NewProducer(client, testStream)
	_, err := producer.Enqueue(ctx, Task{Type: TaskImageIngest, TalhaoID: "t1", ObjectKey: "t1/a.png"})
	require.NoError(t, err)
	_, err = producer.Enqueue(ctx, Task{Type: TaskStatusSweep})
	require.NoError(t, err)

	handled, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, handled)

	require.Len(t, rec.tasks, 2)
	assert.Equal(t, TaskImageIngest, rec.tasks[0].Type)
	assert.Equal(t, "t1", rec.tasks[0].TalhaoID)
	assert.Equal(t, "t1/a.png", rec.tasks[0].ObjectKey)
	assert.False(t, rec.tasks[0].EnqueuedAt.IsZero())
	assert.Equal(t, TaskStatusSweep, rec.tasks[1].Type)

	pending, err := client.XPending(ctx, testStream, "workers").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending.Count)
}

func TestMalformedEntriesAreDropped(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	rec := &recorder{}
	consumer := newConsumer(client, "w1", rec)
	require.NoError(t, consumer.EnsureGroup(ctx))

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: testStream, Values: map[string]any{"foo": "bar"}}).Err())

	handled, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, handled)
	assert.Empty(t, rec.tasks)

	pending, err := client.XPending(ctx, testStream, "workers").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending.Count)
}

func TestFailedTasksAreClaimedByAnotherConsumer(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)

	failing := &recorder{fail: true}
	first := newConsumer(client, "w1", failing)
	require.NoError(t, first.EnsureGroup(ctx))

	_, err := NewProducer(client, testStream).Enqueue(ctx, Task{Type: TaskSessionCleanup})
	require.NoError(t, err)

	handled, err := first.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, handled)

	time.Sleep(20 * time.Millisecond)

	rec := &recorder{}
	second := newConsumer(client, "w2", rec)
	claimed, err := second.ClaimStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	require.Len(t, rec.tasks, 1)
	assert.Equal(t, TaskSessionCleanup, rec.tasks[0].Type)
}

func TestParseTask(t *testing.T) {
	task, err := parseTask(redis.XMessage{ID: "1-0", Values: map[string]any{
		"type":        TaskImageIngest,
		"object_key":  "k",
		"enqueued_at": "2026-03-01T12:00:00Z",
	}})
	require.NoError(t, err)
	assert.Equal(t, "1-0", task.ID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), task.EnqueuedAt)

	_, err = parseTask(redis.XMessage{ID: "2-0", Values: map[string]any{"type": "x", "enqueued_at": "yesterday"}})
	assert.ErrorIs(t, err, ErrMalformedTask)
}
