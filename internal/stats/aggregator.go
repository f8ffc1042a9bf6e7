// Package stats precomputes the dashboard snapshots (newest users,
// recent trades, leaderboard, realized profit) on fixed schedules and
// parks them in Redis so API reads never touch Postgres.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shares-tracker/internal/logging"
	"github.com/shares-tracker/internal/models"
	"github.com/shares-tracker/internal/pricing"
)

// Snapshot keys in Redis. Written whole on every refresh, no TTL: a
// stale snapshot beats an empty dashboard.
const (
	KeyLatestUsers    = "stats:latest_users"
	KeyLatestTrades   = "stats:latest_trades"
	KeyLeaderboard    = "stats:leaderboard"
	KeyRealizedProfit = "stats:realized_profit"
)

const (
	latestUsersLimit  = 50
	latestTradesLimit = 100
	leaderboardLimit  = 50
)

// UserStore is the user read surface the aggregator needs.
type UserStore interface {
	ListNewest(ctx context.Context, limit int) ([]*models.User, error)
	ListTopBySupply(ctx context.Context, limit int) ([]*models.User, error)
}

// TradeStore is the trade read surface the aggregator needs.
type TradeStore interface {
	ListRecent(ctx context.Context, limit int) ([]*models.Trade, error)
	RealizedProfits(ctx context.Context) ([]models.ProfitEntry, error)
}

// SnapshotCache persists the JSON snapshots.
type SnapshotCache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// LeaderboardEntry is a top subject with the current fee-inclusive
// price of their next share.
type LeaderboardEntry struct {
	models.User
	BuyPrice string `json:"buyPrice"`
}

// Config holds the two refresh schedules as cron specs.
type Config struct {
	FastSpec string // newest users, recent trades, leaderboard
	SlowSpec string // realized profit, a full-table aggregate
}

// Aggregator runs the scheduled snapshot refreshes.
type Aggregator struct {
	users  UserStore
	trades TradeStore
	cache  SnapshotCache
	cfg    Config
	cron   *cron.Cron
	logger *logging.Logger
}

// New creates an aggregator.
func New(users UserStore, trades TradeStore, cache SnapshotCache, cfg Config) *Aggregator {
	if cfg.FastSpec == "" {
		cfg.FastSpec = "@every 15s"
	}
	if cfg.SlowSpec == "" {
		cfg.SlowSpec = "@every 30m"
	}

	return &Aggregator{
		users:  users,
		trades: trades,
		cache:  cache,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logging.GetGlobalLogger().WithField("component", "stats"),
	}
}

// Start refreshes every snapshot once, then hands the schedules to
// cron. Returns an error only when a schedule spec is unparseable.
func (a *Aggregator) Start(ctx context.Context) error {
	a.refreshFast(ctx)
	a.refreshRealizedProfit(ctx)

	if _, err := a.cron.AddFunc(a.cfg.FastSpec, func() { a.refreshFast(context.Background()) }); err != nil {
		return fmt.Errorf("invalid fast schedule %q: %w", a.cfg.FastSpec, err)
	}
	if _, err := a.cron.AddFunc(a.cfg.SlowSpec, func() { a.refreshRealizedProfit(context.Background()) }); err != nil {
		return fmt.Errorf("invalid slow schedule %q: %w", a.cfg.SlowSpec, err)
	}

	a.cron.Start()
	a.logger.WithFields(map[string]interface{}{
		"fast": a.cfg.FastSpec,
		"slow": a.cfg.SlowSpec,
	}).Info("Stats schedules started")
	return nil
}

// Stop halts the schedules and waits for running refreshes to finish.
func (a *Aggregator) Stop() {
	<-a.cron.Stop().Done()
}

// refreshFast rebuilds the cheap snapshots. Each one fails
// independently: a Postgres hiccup on one query should not blank the
// others.
func (a *Aggregator) refreshFast(ctx context.Context) {
	if users, err := a.users.ListNewest(ctx, latestUsersLimit); err != nil {
		a.logger.WithError(err).Error("Failed to refresh newest users")
	} else {
		a.store(ctx, KeyLatestUsers, users)
	}

	if trades, err := a.trades.ListRecent(ctx, latestTradesLimit); err != nil {
		a.logger.WithError(err).Error("Failed to refresh recent trades")
	} else {
		a.store(ctx, KeyLatestTrades, trades)
	}

	if top, err := a.users.ListTopBySupply(ctx, leaderboardLimit); err != nil {
		a.logger.WithError(err).Error("Failed to refresh leaderboard")
	} else {
		entries := make([]LeaderboardEntry, len(top))
		for i, user := range top {
			supply := user.Supply
			if supply < 0 {
				supply = 0
			}
			entries[i] = LeaderboardEntry{
				User:     *user,
				BuyPrice: pricing.BuyPriceAfterFee(uint64(supply), 1).String(),
			}
		}
		a.store(ctx, KeyLeaderboard, entries)
	}
}

// refreshRealizedProfit rebuilds the full realized-profit ledger as an
// address to wei map.
func (a *Aggregator) refreshRealizedProfit(ctx context.Context) {
	entries, err := a.trades.RealizedProfits(ctx)
	if err != nil {
		a.logger.WithError(err).Error("Failed to refresh realized profit")
		return
	}

	profits := make(map[string]string, len(entries))
	for _, entry := range entries {
		profits[entry.Address] = entry.Profit.String()
	}
	a.store(ctx, KeyRealizedProfit, profits)
}

func (a *Aggregator) store(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		a.logger.WithError(err).WithField("key", key).Error("Failed to marshal snapshot")
		return
	}
	if err := a.cache.Set(ctx, key, raw, 0); err != nil {
		a.logger.WithError(err).WithField("key", key).Error("Failed to store snapshot")
	}
}
