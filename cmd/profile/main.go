// Package main provides the profile enricher entry point.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/shares-tracker/internal/config"
	"github.com/shares-tracker/internal/logging"
	"github.com/shares-tracker/internal/profile"
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
	logger.Info("Shares tracker profile enricher starting")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	enricher := profile.New(storage.NewUserRepository(postgres), profile.Config{
		APIBaseURL:        cfg.Profile.APIBaseURL,
		RequestsPerSecond: cfg.Profile.RequestsPerSecond,
		SweepInterval:     cfg.Profile.SweepInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := enricher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Profile enricher stopped")
	}
	logger.Info("Profile enricher stopped")
}
