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
// built-in defaults, applies PRICEWATCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PRICEWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PRICEWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PRICEWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRICEWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRICEWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRICEWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRICEWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRICEWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRICEWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRICEWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRICEWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PRICEWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRICEWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRICEWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRICEWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRICEWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRICEWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRICEWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRICEWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRICEWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRICEWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRICEWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRICEWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRICEWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRICEWATCH_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "PRICEWATCH_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.ArchiveRetentionDays, "PRICEWATCH_S3_ARCHIVE_RETENTION_DAYS")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Tick, "PRICEWATCH_MONITOR_TICK")
	setDuration(&cfg.Monitor.EquityInterval, "PRICEWATCH_MONITOR_EQUITY_INTERVAL")
	setDuration(&cfg.Monitor.FlightInterval, "PRICEWATCH_MONITOR_FLIGHT_INTERVAL")
	setDuration(&cfg.Monitor.ShopInterval, "PRICEWATCH_MONITOR_SHOP_INTERVAL")
	setDuration(&cfg.Monitor.SoftMarketInterval, "PRICEWATCH_MONITOR_SOFTMARKET_INTERVAL")
	setInt(&cfg.Monitor.MaxConcurrent, "PRICEWATCH_MONITOR_MAX_CONCURRENT")
	setDuration(&cfg.Monitor.FetchTimeout, "PRICEWATCH_MONITOR_FETCH_TIMEOUT")
	setDuration(&cfg.Monitor.Cooldown, "PRICEWATCH_MONITOR_COOLDOWN")
	setDuration(&cfg.Monitor.LockTTL, "PRICEWATCH_MONITOR_LOCK_TTL")

	// ── Sources ──
	setDuration(&cfg.Sources.HTTPTimeout, "PRICEWATCH_SOURCES_HTTP_TIMEOUT")
	setBool(&cfg.Sources.Equity, "PRICEWATCH_SOURCES_EQUITY")
	setBool(&cfg.Sources.Flight, "PRICEWATCH_SOURCES_FLIGHT")
	setBool(&cfg.Sources.Shop, "PRICEWATCH_SOURCES_SHOP")
	setBool(&cfg.Sources.SoftMarket, "PRICEWATCH_SOURCES_SOFTMARKET")

	// ── Notify ──
	setStr(&cfg.Notify.EmailHost, "PRICEWATCH_NOTIFY_EMAIL_HOST")
	setInt(&cfg.Notify.EmailPort, "PRICEWATCH_NOTIFY_EMAIL_PORT")
	setStr(&cfg.Notify.EmailUsername, "PRICEWATCH_NOTIFY_EMAIL_USERNAME")
	setStr(&cfg.Notify.EmailPassword, "PRICEWATCH_NOTIFY_EMAIL_PASSWORD")
	setStr(&cfg.Notify.EmailFrom, "PRICEWATCH_NOTIFY_EMAIL_FROM")
	setStringSlice(&cfg.Notify.EmailTo, "PRICEWATCH_NOTIFY_EMAIL_TO")
	setStr(&cfg.Notify.TelegramToken, "PRICEWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRICEWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRICEWATCH_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PRICEWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PRICEWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PRICEWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PRICEWATCH_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRICEWATCH_MODE")
	setStr(&cfg.LogLevel, "PRICEWATCH_LOG_LEVEL")
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
