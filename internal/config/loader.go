package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML file at path on top of the built-in defaults,
// loads a .env file when present, applies environment overrides, and returns
// the final Config. An empty path or a missing file is not an error. The
// returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from the environment. The short
// names (POLYCLAW_PRIVATE_KEY, CHAINSTACK_NODE, HTTPS_PROXY, CLOB_MAX_RETRIES)
// are the ones operators already export for the tool; every field also has a
// POLYCLAW_<SECTION>_<FIELD> form that wins when both are set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYCLAW_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "POLYCLAW_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYCLAW_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYCLAW_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CHAINSTACK_NODE")
	setStr(&cfg.Chain.RPCURL, "POLYCLAW_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "POLYCLAW_CHAIN_CHAIN_ID")
	setUint64(&cfg.Chain.SplitGasLimit, "POLYCLAW_CHAIN_SPLIT_GAS_LIMIT")
	setUint64(&cfg.Chain.ApproveGasLimit, "POLYCLAW_CHAIN_APPROVE_GAS_LIMIT")
	setInt64(&cfg.Chain.GasPriceBumpPct, "POLYCLAW_CHAIN_GAS_PRICE_BUMP_PCT")
	setDuration(&cfg.Chain.ReceiptTimeout, "POLYCLAW_CHAIN_RECEIPT_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptPoll, "POLYCLAW_CHAIN_RECEIPT_POLL")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYCLAW_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYCLAW_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYCLAW_POLYMARKET_DATA_HOST")
	setInt(&cfg.Polymarket.SignatureType, "POLYCLAW_POLYMARKET_SIGNATURE_TYPE")

	// ── CLOB ──
	setInt(&cfg.Clob.MaxRetries, "CLOB_MAX_RETRIES")
	setInt(&cfg.Clob.MaxRetries, "POLYCLAW_CLOB_MAX_RETRIES")
	setDuration(&cfg.Clob.RetryPause, "POLYCLAW_CLOB_RETRY_PAUSE")
	setStr(&cfg.Clob.ProxyURL, "HTTP_PROXY")
	setStr(&cfg.Clob.ProxyURL, "HTTPS_PROXY")
	setStr(&cfg.Clob.ProxyURL, "POLYCLAW_CLOB_PROXY_URL")
	setDuration(&cfg.Clob.HTTPTimeout, "POLYCLAW_CLOB_HTTP_TIMEOUT")
	setFloat64(&cfg.Clob.HedgeDiscount, "POLYCLAW_CLOB_HEDGE_DISCOUNT")

	// ── Trade ──
	setDuration(&cfg.Trade.SettleDelay, "POLYCLAW_TRADE_SETTLE_DELAY")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "POLYCLAW_STORAGE_BACKEND")
	setStr(&cfg.Storage.Path, "POLYCLAW_STORAGE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYCLAW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYCLAW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCLAW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCLAW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCLAW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCLAW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCLAW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCLAW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCLAW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCLAW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYCLAW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYCLAW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCLAW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCLAW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCLAW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCLAW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCLAW_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "POLYCLAW_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYCLAW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYCLAW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYCLAW_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYCLAW_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYCLAW_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYCLAW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYCLAW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYCLAW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYCLAW_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYCLAW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCLAW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCLAW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCLAW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYCLAW_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
