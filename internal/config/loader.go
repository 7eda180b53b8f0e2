package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PRIME_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PRIME_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Pool ──
	setBool(&cfg.Pool.Enabled, "PRIME_POOL_ENABLED")
	setStr(&cfg.Pool.Account, "PRIME_POOL_ACCOUNT")
	setStr(&cfg.Pool.CollateralAsset, "PRIME_POOL_COLLATERAL_ASSET")
	setStr(&cfg.Pool.StrikeAsset, "PRIME_POOL_STRIKE_ASSET")
	setStr(&cfg.Pool.Base, "PRIME_POOL_BASE")
	setStr(&cfg.Pool.Price, "PRIME_POOL_PRICE")
	setInt64(&cfg.Pool.Expiry, "PRIME_POOL_EXPIRY")
	setUint64(&cfg.Pool.VolatilityBps, "PRIME_POOL_VOLATILITY_BPS")
	setStr(&cfg.Pool.MinLiquidity, "PRIME_POOL_MIN_LIQUIDITY")

	// ── Exchange ──
	setBool(&cfg.Exchange.Enabled, "PRIME_EXCHANGE_ENABLED")
	setStr(&cfg.Exchange.Account, "PRIME_EXCHANGE_ACCOUNT")
	setStr(&cfg.Exchange.PaymentAsset, "PRIME_EXCHANGE_PAYMENT_ASSET")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PRIME_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PRIME_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PRIME_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRIME_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRIME_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRIME_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRIME_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRIME_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRIME_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRIME_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRIME_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRIME_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRIME_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRIME_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRIME_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRIME_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRIME_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRIME_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRIME_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRIME_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRIME_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRIME_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRIME_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRIME_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRIME_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRIME_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PRIME_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PRIME_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PRIME_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchLimit, "PRIME_ARCHIVE_BATCH_LIMIT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PRIME_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PRIME_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PRIME_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PRIME_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PRIME_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "PRIME_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PRIME_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRIME_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRIME_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRIME_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRIME_MODE")
	setStr(&cfg.LogLevel, "PRIME_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
