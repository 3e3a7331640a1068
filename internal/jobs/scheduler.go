package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"cloudfarm/internal/queue"
)

// Default schedules, with a leading seconds field.
const (
	StatusSweepSpec    = "0 0 * * * *"
	SessionCleanupSpec = "0 30 3 * * *"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// Scheduler only produces tasks; the worker does the work.
type Scheduler struct {
	cron    *cron.Cron
	queue   Enqueuer
	log     zerolog.Logger
	timeout time.Duration
}

func NewScheduler(q Enqueuer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		queue:   q,
		log:     log.With().Str("component", "scheduler").Logger(),
		timeout: 5 * time.Second,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil {
		s.log.Info().Msg("no task queue configured, scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(StatusSweepSpec, s.job(queue.TaskStatusSweep)); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(SessionCleanupSpec, s.job(queue.TaskSessionCleanup)); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) job(taskType string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Enqueue(ctx, taskType); err != nil {
			s.log.Error().Err(err).Str("task", taskType).Msg("enqueue failed")
		}
	}
}

// Enqueue pushes a task of the given type right away.
func (s *Scheduler) Enqueue(ctx context.Context, taskType string) error {
	if s.queue == nil {
		return nil
	}
	id, err := s.queue.Enqueue(ctx, queue.Task{Type: taskType})
	if err != nil {
		return err
	}
	s.log.Debug().Str("task", taskType).Str("id", id).Msg("task enqueued")
	return nil
}
