package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shares-tracker/internal/models"
	"github.com/shares-tracker/internal/pricing"
	"github.com/shares-tracker/internal/stats"
	"github.com/shares-tracker/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	subjectAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	traderAddr  = "0x1111111111111111111111111111111111111111"
	otherAddr   = "0x2222222222222222222222222222222222222222"
)

type fakeUsers struct {
	byAddress map[string]*models.User
	searchHit []*models.User
}

func (f *fakeUsers) GetByAddress(ctx context.Context, address string) (*models.User, error) {
	user, ok := f.byAddress[address]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", address, models.ErrNotFound)
	}
	return user, nil
}

func (f *fakeUsers) GetByAddresses(ctx context.Context, addresses []string) ([]*models.User, error) {
	var users []*models.User
	for _, addr := range addresses {
		if user, ok := f.byAddress[addr]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (f *fakeUsers) Search(ctx context.Context, term string, limit int) ([]*models.User, error) {
	return f.searchHit, nil
}

type fakeTrades struct {
	bySubject   []*models.TradeWithProfiles
	byTrader    []*models.Trade
	subjectHits int
}

func (f *fakeTrades) ListBySubject(ctx context.Context, subject string, limit int) ([]*models.TradeWithProfiles, error) {
	f.subjectHits++
	return f.bySubject, nil
}

func (f *fakeTrades) ListByTrader(ctx context.Context, trader string) ([]*models.Trade, error) {
	return f.byTrader, nil
}

type fakeSeries struct {
	points []models.SeriesPoint
}

func (f *fakeSeries) ListSubjectSeries(ctx context.Context, subject string) ([]models.SeriesPoint, error) {
	return f.points, nil
}

type testEnv struct {
	server *Server
	users  *fakeUsers
	trades *fakeTrades
	series *fakeSeries
	redis  *redis.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := &fakeUsers{byAddress: make(map[string]*models.User)}
	trades := &fakeTrades{}
	series := &fakeSeries{}
	server := NewServer(users, trades, series, storage.NewRedisCacheFromClient(client), Config{Host: "127.0.0.1", Port: "0"})

	return &testEnv{server: server, users: users, trades: trades, series: series, redis: client}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSnapshots_EmptyBeforeFirstRefresh(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/stats/leaderboard")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.get(t, "/api/stats/realized")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestSnapshots_ServedFromRedis(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.redis.Set(context.Background(), stats.KeyLatestTrades, `[{"hash":"0xt1"}]`, 0).Err())

	rec := env.get(t, "/api/stats/trades")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"hash":"0xt1"}]`, rec.Body.String())
}

func TestTokenTrades_CachesResponse(t *testing.T) {
	env := newTestEnv(t)
	env.trades.bySubject = []*models.TradeWithProfiles{{
		Trade: models.Trade{
			Hash:           "0xt1",
			SubjectAddress: subjectAddr,
			FromAddress:    traderAddr,
			IsBuy:          true,
			Amount:         1,
			Cost:           big.NewInt(68_750_000_000_000),
		},
	}}

	rec := env.get(t, "/api/token/"+subjectAddr+"/trades")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/api/token/"+subjectAddr+"/trades")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, env.trades.subjectHits)

	var trades []*models.TradeWithProfiles
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "0xt1", trades[0].Hash)
}

func TestTokenChart_PricesSupplySeries(t *testing.T) {
	env := newTestEnv(t)
	env.series.points = []models.SeriesPoint{
		{Timestamp: 1_700_000_000, SupplyAfter: 1},
		{Timestamp: 1_700_000_060, SupplyAfter: 2},
	}

	rec := env.get(t, "/api/token/"+subjectAddr+"/chart")
	require.Equal(t, http.StatusOK, rec.Code)

	var chart []chartPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chart))
	require.Len(t, chart, 2)

	expected := weiToEther(pricing.ApplyFees(pricing.BuyPrice(1, 1), false))
	assert.InDelta(t, expected, chart[0].Price, 1e-12)
}

func TestUser_FoundAndMissing(t *testing.T) {
	env := newTestEnv(t)
	env.users.byAddress[subjectAddr] = &models.User{Address: subjectAddr, Supply: 7}

	rec := env.get(t, "/api/user/"+subjectAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	var got userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, subjectAddr, got.Address)
	assert.Equal(t, pricing.BuyPriceAfterFee(7, 1).String(), got.BuyPrice)

	rec = env.get(t, "/api/user/"+otherAddr)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/api/user/not-an-address")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHoldings_ReplaysBalances(t *testing.T) {
	env := newTestEnv(t)
	env.users.byAddress[subjectAddr] = &models.User{Address: subjectAddr, Supply: 10}
	env.users.byAddress[otherAddr] = &models.User{Address: otherAddr, Supply: 3}
	env.trades.byTrader = []*models.Trade{
		{SubjectAddress: subjectAddr, IsBuy: true, Amount: 5, Cost: big.NewInt(1)},
		{SubjectAddress: subjectAddr, IsBuy: false, Amount: 2, Cost: big.NewInt(1)},
		// Fully exited position must not appear.
		{SubjectAddress: otherAddr, IsBuy: true, Amount: 1, Cost: big.NewInt(1)},
		{SubjectAddress: otherAddr, IsBuy: false, Amount: 1, Cost: big.NewInt(1)},
	}

	rec := env.get(t, "/api/user/"+traderAddr+"/holdings")
	require.Equal(t, http.StatusOK, rec.Code)

	var holdings []models.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &holdings))
	require.Len(t, holdings, 1)
	assert.Equal(t, subjectAddr, holdings[0].Address)
	assert.Equal(t, int64(3), holdings[0].Balance)
}

func TestUsersBatch(t *testing.T) {
	env := newTestEnv(t)
	env.users.byAddress[subjectAddr] = &models.User{Address: subjectAddr, Supply: 1}
	env.users.byAddress[otherAddr] = &models.User{Address: otherAddr, Supply: 4}

	rec := env.get(t, "/api/users?address="+subjectAddr+"&address="+otherAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, pricing.BuyPriceAfterFee(1, 1).String(), results[0].BuyPrice)

	rec = env.get(t, "/api/users")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/api/users?address=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.users.searchHit = []*models.User{{Address: subjectAddr, Supply: 2}}

	rec := env.get(t, "/api/search?q=a")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/api/search?q=alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []userResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, pricing.BuyPriceAfterFee(2, 1).String(), results[0].BuyPrice)
}
