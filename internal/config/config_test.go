package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_RequiresRPCURL(t *testing.T) {
	t.Setenv("RPC_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPC_URL")
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("RPC_URL", "https://mainnet.base.org")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://mainnet.base.org", cfg.Chain.RPCURL)
	assert.Equal(t, 30*time.Second, cfg.Chain.RequestTimeout)
	assert.Equal(t, 100, cfg.Keeper.BlocksPerCycle)
	assert.Equal(t, 950, cfg.Keeper.ReceiptBatchLimit)
	assert.Equal(t, 5*time.Second, cfg.Keeper.PollInterval)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, "shares_tracker", cfg.Database.Postgres.Database)
	assert.Equal(t, "6379", cfg.Database.Redis.Port)
	assert.Equal(t, "@every 15s", cfg.Stats.FastSpec)
	assert.Equal(t, "@every 30m", cfg.Stats.SlowSpec)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("KEEPER_BLOCKS_PER_CYCLE", "25")
	t.Setenv("KEEPER_POLL_INTERVAL", "10s")
	t.Setenv("PROFILE_REQUESTS_PER_SECOND", "1.5")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Keeper.BlocksPerCycle)
	assert.Equal(t, 10*time.Second, cfg.Keeper.PollInterval)
	assert.Equal(t, 1.5, cfg.Profile.RequestsPerSecond)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadConfig_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("KEEPER_BLOCKS_PER_CYCLE", "not-a-number")
	t.Setenv("KEEPER_POLL_INTERVAL", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Keeper.BlocksPerCycle)
	assert.Equal(t, 5*time.Second, cfg.Keeper.PollInterval)
}
