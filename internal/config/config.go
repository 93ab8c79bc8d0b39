// Package config defines the top-level configuration for the leveraged farm
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LEVFARM_* environment variables.
type Config struct {
	App      AppConfig      `toml:"app"`
	Log      LogConfig      `toml:"log"`
	Position PositionConfig `toml:"position"`
	Oracle   OracleConfig   `toml:"oracle"`
	Sim      SimConfig      `toml:"sim"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Lock     LockConfig     `toml:"lock"`
}

// AppConfig selects the run mode.
type AppConfig struct {
	// Mode is "paper" (simulated venues) or "monitor" (read-only chain).
	Mode string `toml:"mode"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// PositionConfig holds the construction-time parameters of the position
// manager. Fractions are decimals such as "0.75".
type PositionConfig struct {
	ID         string `toml:"id"`
	Admin      string `toml:"admin"`
	Controller string `toml:"controller"`
	Holder     string `toml:"holder"`
	Strategist string `toml:"strategist"`
	BaseAsset  string `toml:"base_asset"`
	Pool       string `toml:"pool"`

	DepositSlippage         decimal.Decimal `toml:"deposit_slippage"`
	WithdrawSlippage        decimal.Decimal `toml:"withdraw_slippage"`
	HarvestSlippage         decimal.Decimal `toml:"harvest_slippage"`
	MaxLTV                  decimal.Decimal `toml:"max_ltv"`
	LTVBuffer               decimal.Decimal `toml:"ltv_buffer"`
	BorrowInterestThreshold decimal.Decimal `toml:"borrow_interest_threshold"`

	Leverage LeverageConfig `toml:"leverage"`
}

// LeverageConfig tunes the leverage loop.
type LeverageConfig struct {
	Enabled                 bool            `toml:"enabled"`
	CollateralFraction      decimal.Decimal `toml:"collateral_fraction"`
	MaxIterations           int             `toml:"max_iterations"`
	MaxDeleverageIterations int             `toml:"max_deleverage_iterations"`
}

// OracleConfig holds automation agent parameters.
type OracleConfig struct {
	Enabled           bool            `toml:"enabled"`
	Owner             string          `toml:"owner"`
	MinInterval       duration        `toml:"min_interval"`
	OuterWindow       duration        `toml:"outer_window"`
	InnerWindow       duration        `toml:"inner_window"`
	HistorySize       int             `toml:"history_size"`
	HarvestMinRewards decimal.Decimal `toml:"harvest_min_rewards"`
	// PingSchedule is a cron spec, e.g. "@every 5m" or "*/5 * * * *".
	PingSchedule string `toml:"ping_schedule"`
}

// SimConfig parameterizes the simulated venues used in paper mode.
type SimConfig struct {
	PoolSeed        decimal.Decimal            `toml:"pool_seed"`
	PoolFeeBps      int64                      `toml:"pool_fee_bps"`
	SwapFeeBps      int64                      `toml:"swap_fee_bps"`
	MarketMaxLTV    decimal.Decimal            `toml:"market_max_ltv"`
	BorrowRate      decimal.Decimal            `toml:"borrow_rate"`
	MarketLiquidity decimal.Decimal            `toml:"market_liquidity"`
	Prices          map[string]decimal.Decimal `toml:"prices"`

	// Vault and Depositor seed a first deposit through the share ledger.
	Vault          string          `toml:"vault"`
	Depositor      string          `toml:"depositor"`
	InitialDeposit decimal.Decimal `toml:"initial_deposit"`

	Drift DriftConfig `toml:"drift"`
}

// DriftConfig controls how the simulated market evolves over time.
type DriftConfig struct {
	Interval  duration        `toml:"interval"`
	PoolYield decimal.Decimal `toml:"pool_yield"`
	Rewards   decimal.Decimal `toml:"rewards"`
}

// ChainConfig holds read-only chain access for monitor mode.
type ChainConfig struct {
	RPCURL      string `toml:"rpc_url"`
	CurvePool   string `toml:"curve_pool"`
	SushiRouter string `toml:"sushi_router"`
	QuoteFrom   string `toml:"quote_from"`
	QuoteTo     string `toml:"quote_to"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// PingRateLimit requests per PingRateWindow per client on POST /api/oracle/ping.
	PingRateLimit  int      `toml:"ping_rate_limit"`
	PingRateWindow duration `toml:"ping_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the periodic move of old rows to object storage.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Schedule  string   `toml:"schedule"`
	Retention duration `toml:"retention"`
}

// LockConfig holds distributed lock parameters.
type LockConfig struct {
	TTL duration `toml:"ttl"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		App: AppConfig{Mode: "paper"},
		Log: LogConfig{Level: "info", Format: "json"},
		Position: PositionConfig{
			ID:                      "am3crv-dai",
			Admin:                   "0x00000000000000000000000000000000000a11ce",
			Controller:              "0x0000000000000000000000000000000000c0ffee",
			Holder:                  "0x000000000000000000000000000000000000f00d",
			Strategist:              "0x000000000000000000000000000000000000b0b0",
			BaseAsset:               "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
			Pool:                    "0xE7a24EF0C5e95Ffb0f6684b813A78F2a3AD7D171",
			DepositSlippage:         decimal.RequireFromString("0.99"),
			WithdrawSlippage:        decimal.RequireFromString("0.99"),
			HarvestSlippage:         decimal.RequireFromString("0.98"),
			MaxLTV:                  decimal.RequireFromString("0.75"),
			LTVBuffer:               decimal.RequireFromString("0.05"),
			BorrowInterestThreshold: decimal.RequireFromString("0.1"),
			Leverage: LeverageConfig{
				Enabled:                 true,
				CollateralFraction:      decimal.NewFromInt(1),
				MaxIterations:           16,
				MaxDeleverageIterations: 32,
			},
		},
		Oracle: OracleConfig{
			Enabled:           true,
			Owner:             "0x00000000000000000000000000000000000a11ce",
			MinInterval:       duration{5 * time.Minute},
			OuterWindow:       duration{43200 * time.Second},
			InnerWindow:       duration{720 * time.Second},
			HistorySize:       256,
			HarvestMinRewards: decimal.NewFromInt(10),
			PingSchedule:      "@every 5m",
		},
		Sim: SimConfig{
			PoolSeed:        decimal.NewFromInt(10_000_000),
			PoolFeeBps:      4,
			SwapFeeBps:      30,
			MarketMaxLTV:    decimal.RequireFromString("0.9"),
			BorrowRate:      decimal.RequireFromString("0.03"),
			MarketLiquidity: decimal.NewFromInt(50_000_000),
			Prices: map[string]decimal.Decimal{
				"DAI":    decimal.NewFromInt(1),
				"USDC":   decimal.NewFromInt(1),
				"USDT":   decimal.NewFromInt(1),
				"WMATIC": decimal.RequireFromString("0.8"),
				"WETH":   decimal.NewFromInt(3000),
			},
			Vault:          "0x000000000000000000000000000000000000da17",
			Depositor:      "0x0000000000000000000000000000000000000a1a",
			InitialDeposit: decimal.NewFromInt(10_000),
			Drift: DriftConfig{
				Interval:  duration{time.Minute},
				PoolYield: decimal.RequireFromString("0.000001"),
				Rewards:   decimal.RequireFromString("0.5"),
			},
		},
		Chain: ChainConfig{
			RPCURL:      "https://polygon-rpc.com",
			CurvePool:   "0x445FE580eF8d70FF569aB36e80c647af338db351",
			SushiRouter: "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506",
			QuoteFrom:   "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
			QuoteTo:     "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "levfarm",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "levfarm-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000"},
			PingRateLimit:  6,
			PingRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"Deleveraged", "BorrowThresholdModified"},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Schedule:  "0 3 * * *",
			Retention: duration{90 * 24 * time.Hour},
		},
		Lock: LockConfig{TTL: duration{time.Minute}},
	}
}

// validModes enumerates the accepted values for App.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Log.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.App.Mode)] {
		errs = append(errs, fmt.Sprintf("app: unknown mode %q (valid: paper, monitor)", c.App.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: json, text)", c.Log.Format))
	}

	// Position
	p := c.Position
	for name, v := range map[string]string{
		"admin": p.Admin, "controller": p.Controller, "holder": p.Holder,
		"base_asset": p.BaseAsset, "pool": p.Pool,
	} {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("position: %s %q is not an address", name, v))
		}
	}
	if p.Strategist != "" && !common.IsHexAddress(p.Strategist) {
		errs = append(errs, fmt.Sprintf("position: strategist %q is not an address", p.Strategist))
	}
	for name, v := range map[string]decimal.Decimal{
		"deposit_slippage": p.DepositSlippage, "withdraw_slippage": p.WithdrawSlippage,
		"harvest_slippage": p.HarvestSlippage,
	} {
		if !inUnitRange(v) {
			errs = append(errs, fmt.Sprintf("position: %s must be in (0, 1], got %s", name, v))
		}
	}
	if !p.MaxLTV.IsPositive() || p.MaxLTV.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("position: max_ltv must be in (0, 1), got %s", p.MaxLTV))
	}
	if p.LTVBuffer.IsNegative() || p.LTVBuffer.GreaterThanOrEqual(p.MaxLTV) {
		errs = append(errs, fmt.Sprintf("position: ltv_buffer must be in [0, max_ltv), got %s", p.LTVBuffer))
	}
	if p.BorrowInterestThreshold.IsNegative() {
		errs = append(errs, "position: borrow_interest_threshold must be >= 0")
	}
	if p.Leverage.Enabled && !p.Leverage.CollateralFraction.IsZero() && !inUnitRange(p.Leverage.CollateralFraction) {
		errs = append(errs, "position: leverage.collateral_fraction must be in (0, 1]")
	}

	// Oracle
	if c.Oracle.Enabled {
		if c.Oracle.OuterWindow.Duration <= c.Oracle.InnerWindow.Duration || c.Oracle.InnerWindow.Duration <= 0 {
			errs = append(errs, "oracle: outer_window must exceed inner_window, both > 0")
		}
		if c.Oracle.MinInterval.Duration < 0 {
			errs = append(errs, "oracle: min_interval must be >= 0")
		}
		if c.Oracle.HistorySize < 2 {
			errs = append(errs, "oracle: history_size must be >= 2")
		}
		if strings.TrimSpace(c.Oracle.PingSchedule) == "" {
			errs = append(errs, "oracle: ping_schedule must not be empty")
		}
		if c.Oracle.Owner != "" && !common.IsHexAddress(c.Oracle.Owner) {
			errs = append(errs, fmt.Sprintf("oracle: owner %q is not an address", c.Oracle.Owner))
		}
	}

	// Sim
	if strings.EqualFold(c.App.Mode, "paper") {
		if !c.Sim.PoolSeed.IsPositive() {
			errs = append(errs, "sim: pool_seed must be > 0")
		}
		if !c.Sim.MarketMaxLTV.IsPositive() || c.Sim.MarketMaxLTV.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			errs = append(errs, "sim: market_max_ltv must be in (0, 1)")
		}
		if c.Sim.MarketMaxLTV.LessThan(p.MaxLTV) {
			errs = append(errs, "sim: market_max_ltv must not be below position.max_ltv")
		}
		if c.Sim.PoolFeeBps < 0 || c.Sim.SwapFeeBps < 0 {
			errs = append(errs, "sim: fees must be >= 0")
		}
		for name, v := range map[string]string{"vault": c.Sim.Vault, "depositor": c.Sim.Depositor} {
			if !common.IsHexAddress(v) {
				errs = append(errs, fmt.Sprintf("sim: %s %q is not an address", name, v))
			}
		}
	}

	// Chain
	if strings.EqualFold(c.App.Mode, "monitor") {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required for monitor mode")
		}
		if !common.IsHexAddress(c.Chain.CurvePool) {
			errs = append(errs, fmt.Sprintf("chain: curve_pool %q is not an address", c.Chain.CurvePool))
		}
		if c.Chain.SushiRouter != "" && !common.IsHexAddress(c.Chain.SushiRouter) {
			errs = append(errs, fmt.Sprintf("chain: sushi_router %q is not an address", c.Chain.SushiRouter))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres and s3 to be enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.PingRateLimit < 0 {
			errs = append(errs, "server: ping_rate_limit must be >= 0")
		}
	}

	if c.Lock.TTL.Duration <= 0 {
		errs = append(errs, "lock: ttl must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func inUnitRange(d decimal.Decimal) bool {
	return d.IsPositive() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
