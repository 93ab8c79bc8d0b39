package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.App.Mode = "live"
	cfg.Position.MaxLTV = decimal.RequireFromString("1.2")
	cfg.Position.Admin = "nobody"
	cfg.Oracle.InnerWindow = cfg.Oracle.OuterWindow
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "live"`)
	assert.Contains(t, msg, "max_ltv must be in (0, 1)")
	assert.Contains(t, msg, `admin "nobody" is not an address`)
	assert.Contains(t, msg, "outer_window must exceed inner_window")
	assert.Contains(t, msg, "archive: requires postgres and s3")
}

func TestValidateMonitorNeedsChain(t *testing.T) {
	cfg := Defaults()
	cfg.App.Mode = "monitor"
	cfg.Chain.RPCURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url is required")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
mode = "paper"

[position]
max_ltv = "0.6"
ltv_buffer = "0.02"

[oracle]
min_interval = "90s"
ping_schedule = "*/2 * * * *"

[sim.prices]
WMATIC = "1.1"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Position.MaxLTV.Equal(decimal.RequireFromString("0.6")))
	assert.True(t, cfg.Position.LTVBuffer.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, 90*time.Second, cfg.Oracle.MinInterval.Duration)
	assert.Equal(t, "*/2 * * * *", cfg.Oracle.PingSchedule)
	assert.True(t, cfg.Sim.Prices["WMATIC"].Equal(decimal.RequireFromString("1.1")))
	// Untouched sections keep their defaults.
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 256, cfg.Oracle.HistorySize)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[position]\nmax_ltv = \"0.6\"\n"), 0o600))

	t.Setenv("LEVFARM_POSITION_MAX_LTV", "0.7")
	t.Setenv("LEVFARM_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LEVFARM_ORACLE_OUTER_WINDOW", "24h")
	t.Setenv("LEVFARM_REDIS_POOL_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Position.MaxLTV.Equal(decimal.RequireFromString("0.7")))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Oracle.OuterWindow.Duration)
	assert.Equal(t, 20, cfg.Redis.PoolSize, "unparsable values are ignored")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "key"
	cfg.Chain.RPCURL = "https://polygon-mainnet.example.io/v3/abcdef"
	cfg.Notify.TelegramToken = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "https://polygon-mainnet.example.io/***", out.Chain.RPCURL)
	assert.Empty(t, out.Notify.TelegramToken, "empty secrets stay empty")

	out.Sim.Prices["DAI"] = decimal.Zero
	out.Server.CORSOrigins[0] = "mutated"
	assert.True(t, cfg.Sim.Prices["DAI"].Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
