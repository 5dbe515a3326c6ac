package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, float64(1000), cfg.Market.InitialBalance)
	assert.Equal(t, time.Minute, cfg.Market.SweepInterval.Duration)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
store = "memory"
log_level = "debug"

[server]
port = 9100

[market]
initial_balance = 2500
sweep_interval = "30s"
`)
	t.Setenv("PREDICTD_SERVER_PORT", "9200")
	t.Setenv("PREDICTD_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Environment wins over the file.
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, float64(2500), cfg.Market.InitialBalance)
	assert.Equal(t, 30*time.Second, cfg.Market.SweepInterval.Duration)
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Store = "sqlite"
	cfg.Server.Port = 0
	cfg.Market.InitialBalance = -5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
	assert.Contains(t, err.Error(), "server: port")
	assert.Contains(t, err.Error(), "initial_balance")
}

func TestValidate_MemoryStoreWithoutRedis(t *testing.T) {
	cfg := Defaults()
	cfg.Store = StoreMemory
	cfg.Redis.Addr = ""

	assert.NoError(t, cfg.Validate())

	cfg.Store = StorePostgres
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestInitialBalanceTicks(t *testing.T) {
	m := MarketConfig{InitialBalance: 1000}
	assert.Equal(t, int64(1_000_000_000), m.InitialBalanceTicks())
}
