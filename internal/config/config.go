// Package config defines the top-level configuration for the options engine
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRIME_* environment variables.
type Config struct {
	Pool     PoolConfig     `toml:"pool"`
	Exchange ExchangeConfig `toml:"exchange"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PoolConfig holds the liquidity pool's market parameters. Amounts are
// 18-decimal fixed-point decimal strings.
type PoolConfig struct {
	Enabled bool `toml:"enabled"`

	// Account is the pool's own ledger address. Deposits, premiums, and
	// escrow approvals all flow through it.
	Account string `toml:"account"`

	CollateralAsset string `toml:"collateral_asset"`
	StrikeAsset     string `toml:"strike_asset"`

	// Base and Price fix the collateral:strike ratio of every option the
	// pool writes. A buy of S strike mints S*Base/Price collateral.
	Base  string `toml:"base"`
	Price string `toml:"price"`

	// Expiry is the unix-seconds expiration shared by all pool-written
	// options.
	Expiry int64 `toml:"expiry"`

	// VolatilityBps feeds the premium oracle.
	VolatilityBps uint64 `toml:"volatility_bps"`

	// MinLiquidity is the deposit floor in wei. Zero uses the built-in
	// default.
	MinLiquidity string `toml:"min_liquidity"`
}

// ExchangeConfig holds the order book's settlement parameters.
type ExchangeConfig struct {
	Enabled bool `toml:"enabled"`

	// Account is the exchange's escrow address for standing bids.
	Account string `toml:"account"`

	// PaymentAsset is the asset orders are priced and settled in.
	PaymentAsset string `toml:"payment_asset"`
}

// LedgerConfig holds faucet entries used to seed the in-memory asset ledger
// in development setups. Keys are addresses, values are per-asset balances.
type LedgerConfig struct {
	// Faucet maps "address:asset" to an 18-decimal balance string.
	Faucet map[string]string `toml:"faucet"`
}

// PostgresConfig holds PostgreSQL connection parameters for the journal.
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

// ArchiveConfig holds cold-storage sweep parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchLimit    int      `toml:"batch_limit"`
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
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit is requests per window per client IP. Zero disables it.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Pool: PoolConfig{
			Enabled:       true,
			Account:       "0x00000000000000000000000000000000000F001a",
			Base:          "1000000000000000000",
			Price:         "10000000000000000000",
			VolatilityBps: 1000,
		},
		Exchange: ExchangeConfig{
			Enabled: true,
			Account: "0x00000000000000000000000000000000000e0c1a",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "prime",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "prime-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
			BatchLimit:    10_000,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"exercised", "order_filled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Pool
	if c.Pool.Enabled {
		if !common.IsHexAddress(c.Pool.Account) {
			errs = append(errs, "pool: account must be a hex address")
		}
		if !common.IsHexAddress(c.Pool.CollateralAsset) {
			errs = append(errs, "pool: collateral_asset must be a hex address")
		}
		if !common.IsHexAddress(c.Pool.StrikeAsset) {
			errs = append(errs, "pool: strike_asset must be a hex address")
		}
		if _, err := parseAmount(c.Pool.Base); err != nil {
			errs = append(errs, "pool: base must be a positive integer string")
		}
		if _, err := parseAmount(c.Pool.Price); err != nil {
			errs = append(errs, "pool: price must be a positive integer string")
		}
		if c.Pool.Expiry <= time.Now().Unix() {
			errs = append(errs, "pool: expiry must be in the future")
		}
		if c.Pool.VolatilityBps == 0 {
			errs = append(errs, "pool: volatility_bps must be > 0")
		}
		if c.Pool.MinLiquidity != "" {
			if _, err := parseAmount(c.Pool.MinLiquidity); err != nil {
				errs = append(errs, "pool: min_liquidity must be a positive integer string")
			}
		}
	}

	// Exchange
	if c.Exchange.Enabled {
		if !common.IsHexAddress(c.Exchange.Account) {
			errs = append(errs, "exchange: account must be a hex address")
		}
		if !common.IsHexAddress(c.Exchange.PaymentAsset) {
			errs = append(errs, "exchange: payment_asset must be a hex address")
		}
	}

	// Ledger faucet entries
	for key, amount := range c.Ledger.Faucet {
		addr, _, ok := strings.Cut(key, ":")
		if !ok {
			errs = append(errs, fmt.Sprintf("ledger: faucet key %q must be address:asset", key))
			continue
		}
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("ledger: faucet key %q has an invalid address", key))
		}
		if _, err := parseAmount(amount); err != nil {
			errs = append(errs, fmt.Sprintf("ledger: faucet entry %q must be a positive integer string", key))
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
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
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseAmount parses a strictly positive base-10 integer amount.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("config: invalid amount %q", s)
	}
	return n, nil
}

// Amount parses an 18-decimal fixed-point amount field that Validate has
// already checked. It returns nil for an empty string.
func Amount(s string) *big.Int {
	if s == "" {
		return nil
	}
	n, _ := new(big.Int).SetString(s, 10)
	return n
}
