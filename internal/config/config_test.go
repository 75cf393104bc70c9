package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/config"
)

func validConfig() config.Config {
	cfg := config.Defaults()
	cfg.Oracle.Owner = "0xoracle"
	cfg.Market.Owner = "0xmarket"
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateMissingOwners(t *testing.T) {
	cfg := config.Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "oracle: owner")
	require.Contains(t, err.Error(), "market: owner")
}

func TestValidateBadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown mode")
}

func TestValidateFeeBpsRange(t *testing.T) {
	cfg := validConfig()
	cfg.Market.FeeBps = 10_001
	require.Error(t, cfg.Validate())

	cfg.Market.FeeBps = -1
	require.Error(t, cfg.Validate())

	cfg.Market.FeeBps = 0
	require.NoError(t, cfg.Validate())
}

func TestValidateSignerNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Signer.EncryptedKeyPath = "/etc/weathermark/key.json"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_password")

	cfg.Signer.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveNeedsS3(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "s3: endpoint")
	require.Contains(t, err.Error(), "s3: bucket")
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://user:pass@db:5432/weathermark"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "server"
log_level = "debug"

[oracle]
owner = "0xoracle"

[market]
owner = "0xmarket"
fee_bps = 200
dispute_window = "30m"

[redis]
addr = "redis:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "server", cfg.Mode)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "0xoracle", cfg.Oracle.Owner)
	require.EqualValues(t, 200, cfg.Market.FeeBps)
	require.Equal(t, 30*time.Minute, cfg.Market.DisputeWindow.Duration)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)

	// Untouched fields keep their defaults.
	require.EqualValues(t, 4000, cfg.Market.CreatorShareBps)
	require.Equal(t, 8000, cfg.Server.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[oracle]
owner = "0xoracle"

[market]
owner = "0xmarket"

[postgres]
password = "from-file"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("WXMARK_POSTGRES_PASSWORD", "from-env")
	t.Setenv("WXMARK_SERVER_PORT", "9090")
	t.Setenv("WXMARK_ORACLE_OWNER", "0xoverride")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "from-env", cfg.Postgres.Password)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "0xoverride", cfg.Oracle.Owner)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Signer.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.TelegramToken = "tg-secret"

	red := config.RedactedConfig(&cfg)

	require.NotEqual(t, "deadbeef", red.Signer.PrivateKey)
	require.NotEqual(t, "pg-secret", red.Postgres.Password)
	require.NotEqual(t, "redis-secret", red.Redis.Password)
	require.NotEqual(t, "s3-secret", red.S3.SecretKey)
	require.NotEqual(t, "api-secret", red.Server.APIKey)
	require.NotEqual(t, "tg-secret", red.Notify.TelegramToken)

	// The original is untouched.
	require.Equal(t, "deadbeef", cfg.Signer.PrivateKey)
}
