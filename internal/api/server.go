// Package api serves the dashboard's read-only HTTP endpoints. Hot
// paths read precomputed snapshots out of Redis; per-subject queries
// fall through to Postgres and ClickHouse with short-lived caching.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shares-tracker/internal/logging"
	"github.com/shares-tracker/internal/models"
)

// UserReader is the user read surface the API needs.
type UserReader interface {
	GetByAddress(ctx context.Context, address string) (*models.User, error)
	GetByAddresses(ctx context.Context, addresses []string) ([]*models.User, error)
	Search(ctx context.Context, term string, limit int) ([]*models.User, error)
}

// TradeReader is the trade read surface the API needs.
type TradeReader interface {
	ListBySubject(ctx context.Context, subject string, limit int) ([]*models.TradeWithProfiles, error)
	ListByTrader(ctx context.Context, trader string) ([]*models.Trade, error)
}

// SeriesReader serves per-subject supply history for charts.
type SeriesReader interface {
	ListSubjectSeries(ctx context.Context, subject string) ([]models.SeriesPoint, error)
}

// Cache is the Redis surface the API needs: snapshot reads plus
// short-lived response caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port string
}

// Server is the HTTP API server.
type Server struct {
	users      UserReader
	trades     TradeReader
	series     SeriesReader
	cache      Cache
	router     *mux.Router
	httpServer *http.Server
	logger     *logging.Logger
}

// NewServer creates the API server. series may be nil when the
// analytics store is not deployed; the chart endpoint then returns 404.
func NewServer(users UserReader, trades TradeReader, series SeriesReader, cache Cache, cfg Config) *Server {
	s := &Server{
		users:  users,
		trades: trades,
		series: series,
		cache:  cache,
		router: mux.NewRouter(),
		logger: logging.GetGlobalLogger().WithField("component", "api"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/stats/newest", s.handleNewestUsers).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats/trades", s.handleRecentTrades).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats/realized", s.handleRealizedProfit).Methods(http.MethodGet)
	apiRouter.HandleFunc("/token/{address}/trades", s.handleTokenTrades).Methods(http.MethodGet)
	apiRouter.HandleFunc("/token/{address}/chart", s.handleTokenChart).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users", s.handleUsers).Methods(http.MethodGet)
	apiRouter.HandleFunc("/user/{address}", s.handleUser).Methods(http.MethodGet)
	apiRouter.HandleFunc("/user/{address}/holdings", s.handleHoldings).Methods(http.MethodGet)
	apiRouter.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
}

// Router returns the configured router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
