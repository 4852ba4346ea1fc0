package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ridepass/libs/logging"
	"ridepass/rider/internal/app"
	"ridepass/rider/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger("rider")
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // best-effort flush

	agent, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize agent", zap.Error(err))
	}

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("agent stopped with error", zap.Error(err))
	}
}
