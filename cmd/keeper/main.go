// Package main provides the chain-sync keeper entry point.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/shares-tracker/internal/adapter"
	"github.com/shares-tracker/internal/config"
	"github.com/shares-tracker/internal/keeper"
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
	logger.Info("Shares tracker keeper starting")

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

	// The analytics mirror is optional: the keeper runs without it and
	// the mirror backfills itself on later replays.
	var mirror keeper.TradeMirror
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Warn("ClickHouse unavailable, running without analytics mirror")
	} else {
		defer clickhouse.Close()
		mirror = storage.NewTradeEventsRepository(clickhouse)
	}

	chain, err := adapter.NewRPCClient(&adapter.RPCClientConfig{
		URL:               cfg.Chain.RPCURL,
		RequestTimeout:    cfg.Chain.RequestTimeout,
		ReceiptBatchLimit: cfg.Keeper.ReceiptBatchLimit,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create chain client")
	}
	defer chain.Close()

	userRepo := storage.NewUserRepository(postgres)
	tradeRepo := storage.NewTradeRepository(postgres)
	cursor := storage.NewCursorStore(redis)

	k := keeper.New(chain, userRepo, tradeRepo, cursor, mirror, keeper.Config{
		BlocksPerCycle: cfg.Keeper.BlocksPerCycle,
		PollInterval:   cfg.Keeper.PollInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Keeper stopped")
	}
	logger.Info("Keeper stopped")
}
