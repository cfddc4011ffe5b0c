// Package config defines the top-level configuration for pricewatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRICEWATCH_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Sources  SourcesConfig  `toml:"sources"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters. When DSN is set it
// takes precedence over the individual host/port/database fields.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for price-history
// archival. Archival is skipped entirely when Enabled is false.
type S3Config struct {
	Enabled              bool     `toml:"enabled"`
	Endpoint             string   `toml:"endpoint"`
	Region               string   `toml:"region"`
	Bucket               string   `toml:"bucket"`
	AccessKey            string   `toml:"access_key"`
	SecretKey            string   `toml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// MonitorConfig holds check-scheduler parameters. The per-family intervals
// control how often entities of each family are re-checked; the tick is the
// scheduler's wake-up granularity and should be no coarser than the most
// frequent interval.
type MonitorConfig struct {
	Tick               duration `toml:"tick"`
	EquityInterval     duration `toml:"equity_interval"`
	FlightInterval     duration `toml:"flight_interval"`
	ShopInterval       duration `toml:"shop_interval"`
	SoftMarketInterval duration `toml:"softmarket_interval"`
	MaxConcurrent      int      `toml:"max_concurrent"`
	FetchTimeout       duration `toml:"fetch_timeout"`
	Cooldown           duration `toml:"cooldown"`
	LockTTL            duration `toml:"lock_ttl"`
}

// SourcesConfig holds source-adapter parameters. Each family can be switched
// off individually; entities of a disabled family are rejected at creation.
type SourcesConfig struct {
	HTTPTimeout duration `toml:"http_timeout"`
	Equity      bool     `toml:"equity"`
	Flight      bool     `toml:"flight"`
	Shop        bool     `toml:"shop"`
	SoftMarket  bool     `toml:"softmarket"`
}

// NotifyConfig holds notification channel credentials. A channel is active
// when its credentials are non-empty.
type NotifyConfig struct {
	EmailHost         string   `toml:"email_host"`
	EmailPort         int      `toml:"email_port"`
	EmailUsername     string   `toml:"email_username"`
	EmailPassword     string   `toml:"email_password"`
	EmailFrom         string   `toml:"email_from"`
	EmailTo           []string `toml:"email_to"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "pricewatch",
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
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "pricewatch-data",
			UseSSL:               false,
			ForcePathStyle:       true,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Monitor: MonitorConfig{
			Tick:               duration{time.Minute},
			EquityInterval:     duration{5 * time.Minute},
			FlightInterval:     duration{30 * time.Minute},
			ShopInterval:       duration{6 * time.Hour},
			SoftMarketInterval: duration{6 * time.Hour},
			MaxConcurrent:      8,
			FetchTimeout:       duration{30 * time.Second},
			Cooldown:           duration{15 * time.Minute},
			LockTTL:            duration{10 * time.Minute},
		},
		Sources: SourcesConfig{
			HTTPTimeout: duration{20 * time.Second},
			Equity:      true,
			Flight:      true,
			Shop:        true,
			SoftMarket:  true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			EmailPort: 587,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"check":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, check)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3 — only checked when archival is enabled.
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when s3 is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when s3 is enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, fmt.Sprintf("s3: archive_retention_days must be >= 1, got %d", c.S3.ArchiveRetentionDays))
		}
	}

	// Monitor
	if c.Monitor.Tick.Duration <= 0 {
		errs = append(errs, "monitor: tick must be positive")
	}
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"equity_interval", c.Monitor.EquityInterval.Duration},
		{"flight_interval", c.Monitor.FlightInterval.Duration},
		{"shop_interval", c.Monitor.ShopInterval.Duration},
		{"softmarket_interval", c.Monitor.SoftMarketInterval.Duration},
	} {
		if iv.d <= 0 {
			errs = append(errs, fmt.Sprintf("monitor: %s must be positive", iv.name))
		}
	}
	if c.Monitor.MaxConcurrent < 1 {
		errs = append(errs, "monitor: max_concurrent must be >= 1")
	}
	if c.Monitor.FetchTimeout.Duration <= 0 {
		errs = append(errs, "monitor: fetch_timeout must be positive")
	}
	if c.Monitor.Cooldown.Duration <= 0 {
		errs = append(errs, "monitor: cooldown must be positive")
	}

	// Sources
	if c.Sources.HTTPTimeout.Duration <= 0 {
		errs = append(errs, "sources: http_timeout must be positive")
	}
	if !c.Sources.Equity && !c.Sources.Flight && !c.Sources.Shop && !c.Sources.SoftMarket {
		errs = append(errs, "sources: at least one source family must be enabled")
	}

	// Notify — email fields must be set together.
	if c.Notify.EmailHost != "" {
		if c.Notify.EmailFrom == "" {
			errs = append(errs, "notify: email_from is required when email_host is set")
		}
		if len(c.Notify.EmailTo) == 0 {
			errs = append(errs, "notify: email_to is required when email_host is set")
		}
		if c.Notify.EmailPort <= 0 || c.Notify.EmailPort > 65535 {
			errs = append(errs, fmt.Sprintf("notify: email_port must be 1-65535, got %d", c.Notify.EmailPort))
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Mode == "serve" && !c.Server.Enabled {
		errs = append(errs, "server: must be enabled in serve mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
