// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "tgbridge"
	DefaultPGSSLMode        = "disable"
	DefaultIdentityTimeout  = 5
	DefaultReservedDomain   = "telegram.invalid"
	DefaultIssueMaxAttempts = 3
	DefaultIssueRetryDelay  = "500ms"
	DefaultIssueRatePerMin  = 6
	DefaultSweepRetention   = "24h"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Telegram TelegramConfig `toml:"telegram"`
	Identity IdentityConfig `toml:"identity"`
	Site     SiteConfig     `toml:"site"`
	Issuance IssuanceConfig `toml:"issuance"`
	Sweep    SweepConfig    `toml:"sweep"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// TelegramConfig holds the bot token and the webhook shared secret.
// Telegram echoes the secret back in the X-Telegram-Bot-Api-Secret-Token
// header; webhook requests without it are rejected with 401.
type TelegramConfig struct {
	BotToken      string `toml:"bot_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

// IdentityConfig holds the external identity service admin API endpoint.
type IdentityConfig struct {
	BaseURL        string `toml:"base_url"`
	ServiceKey     string `toml:"service_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SiteConfig holds the public site base URL and the reserved domain used for
// synthetic account addresses. The reserved domain must never be routable;
// the default uses the RFC 2606 .invalid TLD.
type SiteConfig struct {
	BaseURL        string `toml:"base_url"`
	ReservedDomain string `toml:"reserved_domain"`
}

// IssuanceConfig holds bot-side token issuance retry and rate limit settings.
type IssuanceConfig struct {
	MaxAttempts   int    `toml:"max_attempts"`
	RetryDelay    string `toml:"retry_delay"`
	RatePerMinute int    `toml:"rate_per_minute"`
	RateBurst     int    `toml:"rate_burst"`
}

// SweepConfig holds the optional expired-token sweep schedule.
// An empty schedule disables the in-process sweeper.
type SweepConfig struct {
	Schedule  string `toml:"schedule"`
	Retention string `toml:"retention"`
}

// RetryDelayDuration returns the parsed retry delay, or 500ms when unset or invalid.
func (c IssuanceConfig) RetryDelayDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.RetryDelay))
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// RetentionDuration returns the parsed sweep retention window, or 24h when unset or invalid.
func (c SweepConfig) RetentionDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.Retention))
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// Timeout returns the identity service call timeout as a duration.
func (c IdentityConfig) Timeout() time.Duration {
	seconds := c.TimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultIdentityTimeout
	}
	return time.Duration(seconds) * time.Second
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Identity: IdentityConfig{
			TimeoutSeconds: DefaultIdentityTimeout,
		},
		Site: SiteConfig{
			ReservedDomain: DefaultReservedDomain,
		},
		Issuance: IssuanceConfig{
			MaxAttempts:   DefaultIssueMaxAttempts,
			RetryDelay:    DefaultIssueRetryDelay,
			RatePerMinute: DefaultIssueRatePerMin,
		},
		Sweep: SweepConfig{
			Retention: DefaultSweepRetention,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
