// Package profile backfills Twitter metadata for tracked addresses from
// the upstream profile API. Lookups are rate limited and swept
// periodically; addresses the API has never heard of are marked checked
// so they are not retried forever.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shares-tracker/internal/logging"
	"github.com/shares-tracker/internal/models"
	"golang.org/x/time/rate"
)

const sweepBatchSize = 200

// Store is the user surface the enricher reads and writes.
type Store interface {
	ListUnchecked(ctx context.Context, limit int) ([]*models.User, error)
	SetProfile(ctx context.Context, address string, username, pfpURL *string) error
}

// Config holds enricher settings.
type Config struct {
	APIBaseURL        string
	RequestsPerSecond float64
	SweepInterval     time.Duration
}

// Enricher sweeps unchecked users against the profile API.
type Enricher struct {
	store   Store
	client  *http.Client
	limiter *rate.Limiter
	cfg     Config
	logger  *logging.Logger
}

// profileResponse is the upstream payload. A populated message field
// means the address has no profile.
type profileResponse struct {
	TwitterUsername *string `json:"twitterUsername"`
	TwitterPfpURL   *string `json:"twitterPfpUrl"`
	Message         string  `json:"message"`
}

// New creates an enricher.
func New(store Store, cfg Config) *Enricher {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")

	return &Enricher{
		store:   store,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cfg:     cfg,
		logger:  logging.GetGlobalLogger().WithField("component", "profile"),
	}
}

// Run sweeps until the context is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	e.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			e.sweep(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sweep enriches one batch of unchecked users, highest supply first.
// Transient lookup failures leave the user unchecked for the next
// sweep.
func (e *Enricher) sweep(ctx context.Context) {
	users, err := e.store.ListUnchecked(ctx, sweepBatchSize)
	if err != nil {
		e.logger.WithError(err).Error("Failed to list unchecked users")
		return
	}
	if len(users) == 0 {
		return
	}

	enriched := 0
	for _, user := range users {
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}

		if err := e.syncUser(ctx, user.Address); err != nil {
			e.logger.WithError(err).WithField("address", user.Address).Warn("Profile lookup failed, will retry")
			continue
		}
		enriched++
	}

	e.logger.WithFields(map[string]interface{}{
		"checked": enriched,
		"batch":   len(users),
	}).Info("Profile sweep finished")
}

// syncUser looks one address up and records the outcome.
func (e *Enricher) syncUser(ctx context.Context, address string) error {
	url := fmt.Sprintf("%s/users/%s", e.cfg.APIBaseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	// The upstream answers 404 with a message body for unknown
	// addresses; anything else non-200 is transient.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("profile request returned status %d", resp.StatusCode)
	}

	var payload profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode profile response: %w", err)
	}

	if payload.Message != "" || payload.TwitterUsername == nil {
		// No profile exists. Mark checked so the sweep moves on.
		return e.store.SetProfile(ctx, address, nil, nil)
	}

	return e.store.SetProfile(ctx, address, payload.TwitterUsername, payload.TwitterPfpURL)
}
