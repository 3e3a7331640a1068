package main

import (
	"context"
	"os/signal"
	"syscall"

	"cloudfarm/internal/config"
	"cloudfarm/internal/log"
	"cloudfarm/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start api")
	}

	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api stopped unexpectedly")
	}
}
