package stats

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shares-tracker/internal/models"
	"github.com/shares-tracker/internal/pricing"
	"github.com/shares-tracker/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserStore struct {
	newest []*models.User
	top    []*models.User
}

func (s *fakeUserStore) ListNewest(ctx context.Context, limit int) ([]*models.User, error) {
	return s.newest, nil
}

func (s *fakeUserStore) ListTopBySupply(ctx context.Context, limit int) ([]*models.User, error) {
	return s.top, nil
}

type fakeTradeStore struct {
	recent  []*models.Trade
	profits []models.ProfitEntry
}

func (s *fakeTradeStore) ListRecent(ctx context.Context, limit int) ([]*models.Trade, error) {
	return s.recent, nil
}

func (s *fakeTradeStore) RealizedProfits(ctx context.Context) ([]models.ProfitEntry, error) {
	return s.profits, nil
}

func newSnapshotCache(t *testing.T) (*storage.RedisCache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewRedisCacheFromClient(client), client
}

func TestRefreshFast_WritesSnapshots(t *testing.T) {
	alice := &models.User{Address: "0xaaaa", Supply: 12, CreatedAt: time.Now()}
	bob := &models.User{Address: "0xbbbb", Supply: 4, CreatedAt: time.Now()}

	users := &fakeUserStore{
		newest: []*models.User{bob, alice},
		top:    []*models.User{alice, bob},
	}
	trades := &fakeTradeStore{
		recent: []*models.Trade{{
			Hash:           "0xt1",
			Timestamp:      1_700_000_000,
			BlockNumber:    2_500_000,
			FromAddress:    "0xcccc",
			SubjectAddress: "0xaaaa",
			IsBuy:          true,
			Amount:         2,
			Cost:           big.NewInt(125_000_000_000_000),
		}},
	}
	cache, client := newSnapshotCache(t)
	ctx := context.Background()

	a := New(users, trades, cache, Config{})
	a.refreshFast(ctx)

	var gotUsers []*models.User
	raw, err := client.Get(ctx, KeyLatestUsers).Result()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &gotUsers))
	require.Len(t, gotUsers, 2)
	assert.Equal(t, "0xbbbb", gotUsers[0].Address)

	var gotTrades []*models.Trade
	raw, err = client.Get(ctx, KeyLatestTrades).Result()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &gotTrades))
	require.Len(t, gotTrades, 1)
	assert.Equal(t, "0xt1", gotTrades[0].Hash)

	var board []LeaderboardEntry
	raw, err = client.Get(ctx, KeyLeaderboard).Result()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &board))
	require.Len(t, board, 2)
	assert.Equal(t, "0xaaaa", board[0].Address)
	assert.Equal(t, pricing.BuyPriceAfterFee(12, 1).String(), board[0].BuyPrice)
}

func TestRefreshRealizedProfit(t *testing.T) {
	trades := &fakeTradeStore{
		profits: []models.ProfitEntry{
			{Address: "0xcccc", Profit: big.NewInt(500)},
			{Address: "0xdddd", Profit: big.NewInt(-125)},
		},
	}
	cache, client := newSnapshotCache(t)
	ctx := context.Background()

	a := New(&fakeUserStore{}, trades, cache, Config{})
	a.refreshRealizedProfit(ctx)

	raw, err := client.Get(ctx, KeyRealizedProfit).Result()
	require.NoError(t, err)

	var profits map[string]string
	require.NoError(t, json.Unmarshal([]byte(raw), &profits))
	assert.Equal(t, "500", profits["0xcccc"])
	assert.Equal(t, "-125", profits["0xdddd"])
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	cache, _ := newSnapshotCache(t)
	a := New(&fakeUserStore{}, &fakeTradeStore{}, cache, Config{FastSpec: "every minute or so"})

	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}

func TestStartAndStop(t *testing.T) {
	cache, client := newSnapshotCache(t)
	a := New(&fakeUserStore{}, &fakeTradeStore{}, cache, Config{FastSpec: "@every 1h", SlowSpec: "@every 1h"})

	require.NoError(t, a.Start(context.Background()))
	a.Stop()

	// The startup refresh ran even though no tick fired.
	exists, err := client.Exists(context.Background(), KeyRealizedProfit).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
