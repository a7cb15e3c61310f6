// Package config defines the top-level configuration for polyclaw and
// provides validation helpers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from an
// optional TOML file and then overridden by environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Chain      ChainConfig      `toml:"chain"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Clob       ClobConfig       `toml:"clob"`
	Trade      TradeConfig      `toml:"trade"`
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the signing key. Either a raw hex key or an encrypted
// key file may be given.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasKey reports whether any key source is configured.
func (w WalletConfig) HasKey() bool {
	return w.PrivateKey != "" || w.EncryptedKeyPath != ""
}

// ChainConfig holds Polygon RPC and transaction parameters.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	SplitGasLimit   uint64   `toml:"split_gas_limit"`
	ApproveGasLimit uint64   `toml:"approve_gas_limit"`
	GasPriceBumpPct int64    `toml:"gas_price_bump_pct"`
	ReceiptTimeout  duration `toml:"receipt_timeout"`
	ReceiptPoll     duration `toml:"receipt_poll"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	DataHost      string `toml:"data_host"`
	SignatureType int    `toml:"signature_type"`
}

// ClobConfig controls order placement and the edge-block retry loop.
type ClobConfig struct {
	MaxRetries    int      `toml:"max_retries"`
	RetryPause    duration `toml:"retry_pause"`
	ProxyURL      string   `toml:"proxy_url"`
	HTTPTimeout   duration `toml:"http_timeout"`
	HedgeDiscount float64  `toml:"hedge_discount"`
}

// TradeConfig holds trade saga tuning.
type TradeConfig struct {
	SettleDelay duration `toml:"settle_delay"`
}

// StorageConfig selects the position store backend.
type StorageConfig struct {
	Backend string `toml:"backend"` // "json" or "postgres"
	Path    string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters for the postgres
// storage backend.
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

// RedisConfig holds Redis connection parameters. Redis is only used for the
// cross-process saga lock and is off unless Enabled.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for position
// snapshots.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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

// DefaultStoragePath is where positions live when nothing else is configured.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".openclaw", "polyclaw", "positions.json")
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:          "",
			ChainID:         137,
			SplitGasLimit:   300_000,
			ApproveGasLimit: 100_000,
			GasPriceBumpPct: 10,
			ReceiptTimeout:  duration{120 * time.Second},
			ReceiptPoll:     duration{2 * time.Second},
		},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			SignatureType: 0,
		},
		Clob: ClobConfig{
			MaxRetries:    5,
			RetryPause:    duration{time.Second},
			HTTPTimeout:   duration{30 * time.Second},
			HedgeDiscount: 0.10,
		},
		Trade: TradeConfig{
			SettleDelay: duration{2 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "json",
			Path:    DefaultStoragePath(),
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyclaw",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  0,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   4,
			MaxRetries: 3,
			LockTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyclaw",
			Prefix:         "snapshots",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "hedge_failed", "position_redeemed", "redeem_failed"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid values and returns a combined
// error describing every problem found. Missing wallet or RPC settings are not
// reported here; commands that need them check via RequireWallet.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.SplitGasLimit == 0 || c.Chain.ApproveGasLimit == 0 {
		errs = append(errs, "chain: gas limits must be > 0")
	}
	if c.Chain.GasPriceBumpPct < 0 {
		errs = append(errs, "chain: gas_price_bump_pct must be >= 0")
	}
	if c.Chain.ReceiptTimeout.Duration <= 0 {
		errs = append(errs, "chain: receipt_timeout must be > 0")
	}

	if c.Polymarket.ClobHost == "" || c.Polymarket.GammaHost == "" || c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: clob_host, gamma_host and data_host must not be empty")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0, 1 or 2, got %d", c.Polymarket.SignatureType))
	}

	if c.Clob.MaxRetries < 1 {
		errs = append(errs, "clob: max_retries must be >= 1")
	}
	if c.Clob.HedgeDiscount < 0 || c.Clob.HedgeDiscount >= 1 {
		errs = append(errs, "clob: hedge_discount must be in [0, 1)")
	}

	switch c.Storage.Backend {
	case "json":
		if c.Storage.Path == "" {
			errs = append(errs, "storage: path must not be empty for the json backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: json, postgres)", c.Storage.Backend))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireWallet reports a configuration problem when the signing key or the
// RPC endpoint is missing. Commands that touch the chain call it first.
func (c *Config) RequireWallet() error {
	var errs []string
	if !c.Wallet.HasKey() {
		errs = append(errs, "POLYCLAW_PRIVATE_KEY not set")
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, "CHAINSTACK_NODE not set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Duration accessors for packages outside config.
func (c ChainConfig) ReceiptTimeoutDuration() time.Duration { return c.ReceiptTimeout.Duration }
func (c ChainConfig) ReceiptPollDuration() time.Duration    { return c.ReceiptPoll.Duration }
func (c ClobConfig) RetryPauseDuration() time.Duration      { return c.RetryPause.Duration }
func (c ClobConfig) HTTPTimeoutDuration() time.Duration     { return c.HTTPTimeout.Duration }
func (c TradeConfig) SettleDelayDuration() time.Duration    { return c.SettleDelay.Duration }
func (c RedisConfig) LockTTLDuration() time.Duration        { return c.LockTTL.Duration }
