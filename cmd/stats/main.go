// Package main provides the stats aggregator entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shares-tracker/internal/config"
	"github.com/shares-tracker/internal/logging"
	"github.com/shares-tracker/internal/stats"
	"github.com/shares-tracker/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("Shares tracker stats aggregator starting")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	aggregator := stats.New(
		storage.NewUserRepository(postgres),
		storage.NewTradeRepository(postgres),
		redis,
		stats.Config{
			FastSpec: cfg.Stats.FastSpec,
			SlowSpec: cfg.Stats.SlowSpec,
		},
	)

	if err := aggregator.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start stats schedules")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutdown signal received")
	aggregator.Stop()
	logger.Info("Stats aggregator stopped")
}
