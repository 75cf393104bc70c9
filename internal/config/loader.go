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
// built-in defaults, applies WXMARK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known WXMARK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "WXMARK_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "WXMARK_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "WXMARK_SIGNER_KEY_PASSWORD")

	// ── Oracle ──
	setStr(&cfg.Oracle.Owner, "WXMARK_ORACLE_OWNER")

	// ── Market ──
	setStr(&cfg.Market.Owner, "WXMARK_MARKET_OWNER")
	setInt64(&cfg.Market.FeeBps, "WXMARK_MARKET_FEE_BPS")
	setInt64(&cfg.Market.CreatorShareBps, "WXMARK_MARKET_CREATOR_SHARE_BPS")
	setDuration(&cfg.Market.DisputeWindow, "WXMARK_MARKET_DISPUTE_WINDOW")
	setInt64(&cfg.Market.MinBet, "WXMARK_MARKET_MIN_BET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WXMARK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WXMARK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WXMARK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WXMARK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WXMARK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WXMARK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WXMARK_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WXMARK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WXMARK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WXMARK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WXMARK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WXMARK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WXMARK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WXMARK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WXMARK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WXMARK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WXMARK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WXMARK_S3_REGION")
	setStr(&cfg.S3.Bucket, "WXMARK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WXMARK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WXMARK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WXMARK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WXMARK_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WXMARK_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "WXMARK_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "WXMARK_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WXMARK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WXMARK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WXMARK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WXMARK_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WXMARK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WXMARK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WXMARK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WXMARK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WXMARK_MODE")
	setStr(&cfg.LogLevel, "WXMARK_LOG_LEVEL")
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
