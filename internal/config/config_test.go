package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Pool.CollateralAsset = "0x0000000000000000000000000000000000000c01"
	cfg.Pool.StrikeAsset = "0x0000000000000000000000000000000000000d01"
	cfg.Pool.Expiry = time.Now().Add(30 * 24 * time.Hour).Unix()
	cfg.Exchange.PaymentAsset = "0x0000000000000000000000000000000000000d01"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsDefaultsWithoutAssets(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "collateral_asset")
	require.Contains(t, err.Error(), "expiry")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Server.Port = -1
	cfg.Pool.Base = "not a number"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown mode")
	require.Contains(t, err.Error(), "unknown log_level")
	require.Contains(t, err.Error(), "port must be 1-65535")
	require.Contains(t, err.Error(), "base must be a positive integer string")
}

func TestValidateFaucetEntries(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Faucet = map[string]string{
		"no-separator": "100",
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be address:asset")

	cfg.Ledger.Faucet = map[string]string{
		"0x00000000000000000000000000000000000000aa:0x0000000000000000000000000000000000000c01": "1000000000000000000",
	}
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveRequiresBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "archive: requires s3.enabled")
	require.Contains(t, err.Error(), "archive: requires postgres.enabled")

	cfg.S3.Enabled = true
	cfg.Postgres.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRIME_SERVER_PORT", "9100")
	t.Setenv("PRIME_MODE", "archive")
	t.Setenv("PRIME_POOL_VOLATILITY_BPS", "250")
	t.Setenv("PRIME_ARCHIVE_INTERVAL", "6h")
	t.Setenv("PRIME_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "archive", cfg.Mode)
	require.Equal(t, uint64(250), cfg.Pool.VolatilityBps)
	require.Equal(t, 6*time.Hour, cfg.Archive.Interval.Duration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestAmount(t *testing.T) {
	require.Nil(t, Amount(""))
	require.Equal(t, "1000000000000000000", Amount("1000000000000000000").String())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.APIKey = "hunter2"
	cfg.Notify.TelegramToken = "hunter2"

	red := RedactedConfig(&cfg)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Redis.Password)
	require.Equal(t, "***", red.S3.SecretKey)
	require.Equal(t, "***", red.Server.APIKey)
	require.Equal(t, "***", red.Notify.TelegramToken)

	// Original must be untouched.
	require.Equal(t, "hunter2", cfg.Postgres.Password)
	require.Equal(t, "hunter2", cfg.Server.APIKey)
}
