// Package config defines the top-level configuration for auctiond and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTIOND_* environment variables.
type Config struct {
	Engine        EngineConfig        `toml:"engine"`
	Auction       AuctionConfig       `toml:"auction"`
	Detector      DetectorConfig      `toml:"detector"`
	Executor      ExecutorConfig      `toml:"executor"`
	Confidential  ConfidentialConfig  `toml:"confidential"`
	StakeRegistry StakeRegistryConfig `toml:"stake_registry"`
	Postgres      PostgresConfig      `toml:"postgres"`
	Redis         RedisConfig         `toml:"redis"`
	S3            S3Config            `toml:"s3"`
	Archive       ArchiveConfig       `toml:"archive"`
	Server        ServerConfig        `toml:"server"`
	Notify        NotifyConfig        `toml:"notify"`
	LogLevel      string              `toml:"log_level"`
}

// EngineConfig holds the exchange-engine WebSocket connection parameters.
type EngineConfig struct {
	WsURL string `toml:"ws_url"`
	// Pools is the set of pool keys whose hook events this instance
	// subscribes to. Empty subscribes to every pool the engine publishes.
	Pools              []string `toml:"pools"`
	AutoReveal         bool     `toml:"auto_reveal"`
	RevealPollInterval duration `toml:"reveal_poll_interval"`
}

// AuctionConfig holds registry and redistribution parameters.
type AuctionConfig struct {
	// DefaultMode is applied to pools without an explicit override:
	// "open", "confidential", or "stake_backed".
	DefaultMode string `toml:"default_mode"`
	// CreationThresholdWei is the minimum absolute expected value, as a
	// decimal wei string, for an auction to open.
	CreationThresholdWei string `toml:"creation_threshold_wei"`
	RevealTimeoutEpochs  uint64 `toml:"reveal_timeout_epochs"`
	// RebateBps is the original trader's share of captured value in basis
	// points.
	RebateBps int64 `toml:"rebate_bps"`
}

// DetectorConfig holds opportunity-detection parameters.
type DetectorConfig struct {
	MinImpactBps int64 `toml:"min_impact_bps"`
}

// ExecutorConfig holds back-run sizing parameters, as decimal wei strings.
type ExecutorConfig struct {
	MaxSizeCeilingWei string `toml:"max_size_ceiling_wei"`
	MinViableSizeWei  string `toml:"min_viable_size_wei"`
}

// ConfidentialConfig holds sealed-bid service parameters.
type ConfidentialConfig struct {
	Secret       string   `toml:"secret"`
	DecryptDelay duration `toml:"decrypt_delay"`
}

// StakeRegistryConfig holds the external staking-service endpoint. An empty
// base URL disables stake-backed auctions.
type StakeRegistryConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the settled-auction archive job.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	ApiKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
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
		Engine: EngineConfig{
			WsURL:              "ws://localhost:8546/hooks",
			AutoReveal:         true,
			RevealPollInterval: duration{500 * time.Millisecond},
		},
		Auction: AuctionConfig{
			DefaultMode:          "open",
			CreationThresholdWei: "1000000000000000", // 0.001 native units
			RevealTimeoutEpochs:  4,
			RebateBps:            5000,
		},
		Detector: DetectorConfig{
			MinImpactBps: 50,
		},
		Executor: ExecutorConfig{
			MaxSizeCeilingWei: "1000000000000000000000", // 1000 native units
			MinViableSizeWei:  "10000000000000000",      // 0.01 native units
		},
		Confidential: ConfidentialConfig{
			DecryptDelay: duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctiond",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "auctiond-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       60,
			RateLimitWindow: duration{time.Minute},
		},
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Auction.DefaultMode.
var validModes = map[string]bool{
	"open":         true,
	"confidential": true,
	"stake_backed": true,
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.WsURL == "" {
		errs = append(errs, "engine: ws_url must not be empty")
	}

	// Auction
	if !validModes[c.Auction.DefaultMode] {
		errs = append(errs, fmt.Sprintf("auction: unknown default_mode %q (valid: open, confidential, stake_backed)", c.Auction.DefaultMode))
	}
	if _, ok := parseWei(c.Auction.CreationThresholdWei); !ok {
		errs = append(errs, fmt.Sprintf("auction: creation_threshold_wei %q is not a decimal integer", c.Auction.CreationThresholdWei))
	}
	if c.Auction.RebateBps < 0 || c.Auction.RebateBps > 10000 {
		errs = append(errs, fmt.Sprintf("auction: rebate_bps must be 0-10000, got %d", c.Auction.RebateBps))
	}

	// Stake-backed auctions need the registry endpoint.
	if c.Auction.DefaultMode == "stake_backed" && c.StakeRegistry.BaseURL == "" {
		errs = append(errs, "stake_registry: base_url is required when default_mode is stake_backed")
	}

	// Detector
	if c.Detector.MinImpactBps < 0 {
		errs = append(errs, "detector: min_impact_bps must be >= 0")
	}

	// Executor
	if _, ok := parseWei(c.Executor.MaxSizeCeilingWei); !ok {
		errs = append(errs, fmt.Sprintf("executor: max_size_ceiling_wei %q is not a decimal integer", c.Executor.MaxSizeCeilingWei))
	}
	if _, ok := parseWei(c.Executor.MinViableSizeWei); !ok {
		errs = append(errs, fmt.Sprintf("executor: min_viable_size_wei %q is not a decimal integer", c.Executor.MinViableSizeWei))
	}

	// Confidential — the sealing secret has no usable default.
	if c.Auction.DefaultMode == "confidential" && c.Confidential.Secret == "" {
		errs = append(errs, "confidential: secret is required when default_mode is confidential")
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
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive needs object storage.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0 (0 disables)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseWei parses a non-negative decimal wei amount. Empty strings parse as
// zero.
func parseWei(s string) (*big.Int, bool) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), true
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// Wei returns the parsed value of a decimal wei config string, or nil when it
// is empty or malformed. Validate reports malformed values; callers after a
// successful Validate can treat nil as "use the component default".
func Wei(s string) *big.Int {
	n, ok := parseWei(s)
	if !ok || n.Sign() == 0 {
		return nil
	}
	return n
}
