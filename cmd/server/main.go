// Package main provides the HTTP API server entry point.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shares-tracker/internal/api"
	"github.com/shares-tracker/internal/config"
	"github.com/shares-tracker/internal/logging"
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
	logger.Info("Shares tracker API server starting")

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

	// Charts degrade to 404 when the analytics store is down; the rest
	// of the API stays up.
	var series api.SeriesReader
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Warn("ClickHouse unavailable, chart endpoint disabled")
	} else {
		defer clickhouse.Close()
		series = storage.NewTradeEventsRepository(clickhouse)
	}

	server := api.NewServer(
		storage.NewUserRepository(postgres),
		storage.NewTradeRepository(postgres),
		series,
		redis,
		api.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
	)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("API server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	logger.Info("API server stopped")
}
