package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/shares-tracker/internal/logging"
	"github.com/shares-tracker/internal/models"
	"github.com/shares-tracker/internal/pricing"
	"github.com/shares-tracker/internal/stats"
)

const (
	tokenTradesLimit    = 100
	searchResultsLimit  = 20
	batchUsersLimit     = 50
	tokenTradesCacheTTL = 5 * time.Minute
	tokenChartCacheTTL  = 5 * time.Minute
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// userResponse is a user augmented with the current fee-inclusive buy
// price of their next share.
type userResponse struct {
	models.User
	BuyPrice string `json:"buyPrice"`
}

// chartPoint is one point of a subject's price history in ether.
type chartPoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serveSnapshot relays a precomputed snapshot from Redis, substituting
// empty when the aggregator has not run yet.
func (s *Server) serveSnapshot(w http.ResponseWriter, r *http.Request, key, empty string) {
	raw, err := s.cache.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			respondRawJSON(w, http.StatusOK, empty)
			return
		}
		logging.FromContext(r.Context()).WithError(err).Error("Failed to read snapshot")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read snapshot")
		return
	}
	respondRawJSON(w, http.StatusOK, raw)
}

func (s *Server) handleNewestUsers(w http.ResponseWriter, r *http.Request) {
	s.serveSnapshot(w, r, stats.KeyLatestUsers, "[]")
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	s.serveSnapshot(w, r, stats.KeyLatestTrades, "[]")
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	s.serveSnapshot(w, r, stats.KeyLeaderboard, "[]")
}

func (s *Server) handleRealizedProfit(w http.ResponseWriter, r *http.Request) {
	s.serveSnapshot(w, r, stats.KeyRealizedProfit, "{}")
}

func (s *Server) handleTokenTrades(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	cacheKey := "api:token_trades:" + address
	if raw, err := s.cache.Get(r.Context(), cacheKey); err == nil {
		respondRawJSON(w, http.StatusOK, raw)
		return
	}

	trades, err := s.trades.ListBySubject(r.Context(), address, tokenTradesLimit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to list subject trades")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list trades")
		return
	}
	if trades == nil {
		trades = []*models.TradeWithProfiles{}
	}

	raw, err := json.Marshal(trades)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to encode trades")
		return
	}
	if err := s.cache.Set(r.Context(), cacheKey, raw, tokenTradesCacheTTL); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Failed to cache trades response")
	}

	respondRawJSON(w, http.StatusOK, string(raw))
}

func (s *Server) handleTokenChart(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	if s.series == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Chart data is not available")
		return
	}

	cacheKey := "api:token_chart:" + address
	if raw, err := s.cache.Get(r.Context(), cacheKey); err == nil {
		respondRawJSON(w, http.StatusOK, raw)
		return
	}

	points, err := s.series.ListSubjectSeries(r.Context(), address)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to load subject series")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to load chart")
		return
	}

	chart := make([]chartPoint, len(points))
	for i, point := range points {
		supply := point.SupplyAfter
		if supply < 0 {
			supply = 0
		}
		// Chart the sell-side price: what the holder of one share would
		// receive at this supply level.
		wei := pricing.ApplyFees(pricing.BuyPrice(uint64(supply), 1), false)
		chart[i] = chartPoint{
			Timestamp: point.Timestamp,
			Price:     weiToEther(wei),
		}
	}

	raw, err := json.Marshal(chart)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to encode chart")
		return
	}
	if err := s.cache.Set(r.Context(), cacheKey, raw, tokenChartCacheTTL); err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Failed to cache chart response")
	}

	respondRawJSON(w, http.StatusOK, string(raw))
}

// handleUsers resolves a batch of addresses passed as repeated address
// query parameters.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	addresses := r.URL.Query()["address"]
	if len(addresses) == 0 || len(addresses) > batchUsersLimit {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Between 1 and 50 addresses required")
		return
	}
	for i, address := range addresses {
		if !addressPattern.MatchString(address) {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid address: "+address)
			return
		}
		addresses[i] = strings.ToLower(address)
	}

	users, err := s.users.GetByAddresses(r.Context(), addresses)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to load users")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to load users")
		return
	}

	results := make([]userResponse, len(users))
	for i, user := range users {
		results[i] = newUserResponse(user)
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	user, err := s.users.GetByAddress(r.Context(), address)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "User not found")
			return
		}
		logging.FromContext(r.Context()).WithError(err).Error("Failed to get user")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to get user")
		return
	}

	respondJSON(w, http.StatusOK, newUserResponse(user))
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}

	trades, err := s.trades.ListByTrader(r.Context(), address)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to list trader history")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list holdings")
		return
	}

	// Replay the trader's history to current balances per subject.
	balances := make(map[string]int64)
	for _, trade := range trades {
		if trade.IsBuy {
			balances[trade.SubjectAddress] += trade.Amount
		} else {
			balances[trade.SubjectAddress] -= trade.Amount
		}
	}

	subjects := make([]string, 0, len(balances))
	for subject, balance := range balances {
		if balance > 0 {
			subjects = append(subjects, subject)
		}
	}

	holdings := []models.Holding{}
	if len(subjects) > 0 {
		users, err := s.users.GetByAddresses(r.Context(), subjects)
		if err != nil {
			logging.FromContext(r.Context()).WithError(err).Error("Failed to load held subjects")
			respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list holdings")
			return
		}
		for _, user := range users {
			holdings = append(holdings, models.Holding{
				User:    *user,
				Balance: balances[user.Address],
			})
		}
	}

	respondJSON(w, http.StatusOK, holdings)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(term) < 2 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Query must be at least 2 characters")
		return
	}

	users, err := s.users.Search(r.Context(), term, searchResultsLimit)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Search failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Search failed")
		return
	}

	results := make([]userResponse, len(users))
	for i, user := range users {
		results[i] = newUserResponse(user)
	}
	respondJSON(w, http.StatusOK, results)
}

// pathAddress validates and lowercases the {address} path variable.
func pathAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := mux.Vars(r)["address"]
	if !addressPattern.MatchString(address) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid address")
		return "", false
	}
	return strings.ToLower(address), true
}

func newUserResponse(user *models.User) userResponse {
	supply := user.Supply
	if supply < 0 {
		supply = 0
	}
	return userResponse{
		User:     *user,
		BuyPrice: pricing.BuyPriceAfterFee(uint64(supply), 1).String(),
	}
}

// weiToEther converts an exact wei amount to a float ether value for
// chart rendering, where float precision is acceptable.
func weiToEther(wei *big.Int) float64 {
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(1e18),
	).Float64()
	return value
}
