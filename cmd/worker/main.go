package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cloudfarm/internal/cache"
	"cloudfarm/internal/config"
	"cloudfarm/internal/database"
	"cloudfarm/internal/hub"
	"cloudfarm/internal/log"
	"cloudfarm/internal/queue"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/storage"
	"cloudfarm/internal/tasks"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		panic(err)
	}

	logger := log.NewWithLevel(cfg.Logging.Level).With().Str("env", cfg.Environment).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.RedisConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	deps := tasks.Deps{
		Ledger:    tasks.NewRedisLedger(client, ""),
		Publisher: hub.NewRedisPublisher(client, cfg.Realtime.ChannelPrefix),
	}

	if cfg.Postgres.DSN != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		defer pool.Close()
		deps.Talhoes = repository.NewTalhaoRepository(pool)
		deps.Sessions = repository.NewSessionRepository(pool)
		deps.Images = repository.NewTalhaoImageRepository(pool)
	} else {
		logger.Warn().Msg("postgres disabled, status sweeps and session cleanup are no-ops")
	}

	if cfg.Storage.Endpoint != "" {
		objects, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		deps.Objects = objects
	}

	processor := tasks.NewProcessor(deps, logger)
	consumer := queue.NewConsumer(client, queue.ConsumerConfig{
		Stream:        cfg.Redis.Stream,
		Group:         cfg.Redis.Group,
		Consumer:      cfg.Redis.Consumer,
		ClaimInterval: cfg.Queues.ClaimInterval,
	}, logger, processor)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	waitForConsumer(logger, done, 5*time.Second)
}

func waitForConsumer(logger zerolog.Logger, done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
		logger.Info().Msg("worker exited cleanly")
	case <-time.After(timeout):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
