package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LEVFARM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LEVFARM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── App / Log ──
	setStr(&cfg.App.Mode, "LEVFARM_MODE")
	setStr(&cfg.Log.Level, "LEVFARM_LOG_LEVEL")
	setStr(&cfg.Log.Format, "LEVFARM_LOG_FORMAT")

	// ── Position ──
	setStr(&cfg.Position.ID, "LEVFARM_POSITION_ID")
	setStr(&cfg.Position.Admin, "LEVFARM_POSITION_ADMIN")
	setStr(&cfg.Position.Controller, "LEVFARM_POSITION_CONTROLLER")
	setStr(&cfg.Position.Holder, "LEVFARM_POSITION_HOLDER")
	setStr(&cfg.Position.Strategist, "LEVFARM_POSITION_STRATEGIST")
	setDecimal(&cfg.Position.MaxLTV, "LEVFARM_POSITION_MAX_LTV")
	setDecimal(&cfg.Position.LTVBuffer, "LEVFARM_POSITION_LTV_BUFFER")
	setDecimal(&cfg.Position.BorrowInterestThreshold, "LEVFARM_POSITION_BORROW_INTEREST_THRESHOLD")
	setDecimal(&cfg.Position.DepositSlippage, "LEVFARM_POSITION_DEPOSIT_SLIPPAGE")
	setDecimal(&cfg.Position.WithdrawSlippage, "LEVFARM_POSITION_WITHDRAW_SLIPPAGE")
	setDecimal(&cfg.Position.HarvestSlippage, "LEVFARM_POSITION_HARVEST_SLIPPAGE")
	setBool(&cfg.Position.Leverage.Enabled, "LEVFARM_POSITION_LEVERAGE_ENABLED")
	setInt(&cfg.Position.Leverage.MaxIterations, "LEVFARM_POSITION_LEVERAGE_MAX_ITERATIONS")

	// ── Oracle ──
	setBool(&cfg.Oracle.Enabled, "LEVFARM_ORACLE_ENABLED")
	setStr(&cfg.Oracle.Owner, "LEVFARM_ORACLE_OWNER")
	setDuration(&cfg.Oracle.MinInterval, "LEVFARM_ORACLE_MIN_INTERVAL")
	setDuration(&cfg.Oracle.OuterWindow, "LEVFARM_ORACLE_OUTER_WINDOW")
	setDuration(&cfg.Oracle.InnerWindow, "LEVFARM_ORACLE_INNER_WINDOW")
	setInt(&cfg.Oracle.HistorySize, "LEVFARM_ORACLE_HISTORY_SIZE")
	setDecimal(&cfg.Oracle.HarvestMinRewards, "LEVFARM_ORACLE_HARVEST_MIN_REWARDS")
	setStr(&cfg.Oracle.PingSchedule, "LEVFARM_ORACLE_PING_SCHEDULE")

	// ── Sim ──
	setInt64(&cfg.Sim.PoolFeeBps, "LEVFARM_SIM_POOL_FEE_BPS")
	setInt64(&cfg.Sim.SwapFeeBps, "LEVFARM_SIM_SWAP_FEE_BPS")
	setDecimal(&cfg.Sim.BorrowRate, "LEVFARM_SIM_BORROW_RATE")
	setDecimal(&cfg.Sim.InitialDeposit, "LEVFARM_SIM_INITIAL_DEPOSIT")
	setDuration(&cfg.Sim.Drift.Interval, "LEVFARM_SIM_DRIFT_INTERVAL")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LEVFARM_CHAIN_RPC_URL")
	setStr(&cfg.Chain.CurvePool, "LEVFARM_CHAIN_CURVE_POOL")
	setStr(&cfg.Chain.SushiRouter, "LEVFARM_CHAIN_SUSHI_ROUTER")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "LEVFARM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "LEVFARM_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LEVFARM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEVFARM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEVFARM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEVFARM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEVFARM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEVFARM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEVFARM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEVFARM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEVFARM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LEVFARM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LEVFARM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEVFARM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEVFARM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEVFARM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEVFARM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEVFARM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LEVFARM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LEVFARM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEVFARM_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEVFARM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEVFARM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEVFARM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEVFARM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEVFARM_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LEVFARM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LEVFARM_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LEVFARM_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "LEVFARM_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.PingRateLimit, "LEVFARM_SERVER_PING_RATE_LIMIT")
	setDuration(&cfg.Server.PingRateWindow, "LEVFARM_SERVER_PING_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEVFARM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEVFARM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEVFARM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEVFARM_NOTIFY_EVENTS")

	// ── Archive / Lock ──
	setBool(&cfg.Archive.Enabled, "LEVFARM_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Schedule, "LEVFARM_ARCHIVE_SCHEDULE")
	setDuration(&cfg.Archive.Retention, "LEVFARM_ARCHIVE_RETENTION")
	setDuration(&cfg.Lock.TTL, "LEVFARM_LOCK_TTL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
