package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("POLYCLAW_PRIVATE_KEY", "")
	t.Setenv("CHAINSTACK_NODE", "")
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("HTTP_PROXY", "")
	t.Setenv("CLOB_MAX_RETRIES", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Clob.MaxRetries != 5 {
		t.Fatalf("max retries: got %d want 5", cfg.Clob.MaxRetries)
	}
	if got := cfg.Trade.SettleDelayDuration(); got != 2*time.Second {
		t.Fatalf("settle delay: got %s want 2s", got)
	}
	if cfg.Chain.ChainID != 137 {
		t.Fatalf("chain id: got %d want 137", cfg.Chain.ChainID)
	}
	if !strings.HasSuffix(cfg.Storage.Path, filepath.Join(".openclaw", "polyclaw", "positions.json")) {
		t.Fatalf("storage path: got %q", cfg.Storage.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if err := cfg.RequireWallet(); err == nil {
		t.Fatalf("RequireWallet should fail without key and rpc")
	}
}

func TestLoad_FileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polyclaw.toml")
	body := `
log_level = "debug"

[clob]
max_retries = 2
retry_pause = "250ms"

[storage]
path = "/tmp/from-file.json"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("POLYCLAW_PRIVATE_KEY", "0xabc")
	t.Setenv("CHAINSTACK_NODE", "https://polygon.example/rpc")
	t.Setenv("HTTP_PROXY", "http://plain-proxy:8080")
	t.Setenv("HTTPS_PROXY", "http://secure-proxy:8443")
	t.Setenv("CLOB_MAX_RETRIES", "7")
	t.Setenv("POLYCLAW_STORAGE_PATH", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: got %q", cfg.LogLevel)
	}
	if cfg.Clob.MaxRetries != 7 {
		t.Fatalf("env should override file: got %d want 7", cfg.Clob.MaxRetries)
	}
	if got := cfg.Clob.RetryPauseDuration(); got != 250*time.Millisecond {
		t.Fatalf("retry pause: got %s", got)
	}
	if cfg.Clob.ProxyURL != "http://secure-proxy:8443" {
		t.Fatalf("HTTPS_PROXY should win over HTTP_PROXY, got %q", cfg.Clob.ProxyURL)
	}
	if cfg.Storage.Path != "/tmp/from-file.json" {
		t.Fatalf("storage path: got %q", cfg.Storage.Path)
	}
	if err := cfg.RequireWallet(); err != nil {
		t.Fatalf("RequireWallet: %v", err)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Storage.Backend = "sqlite"
	cfg.Clob.MaxRetries = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"log_level", "storage: unknown backend", "max_retries"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Chain.RPCURL = "https://nd-123.p2pify.com/secret-token"
	cfg.Notify.TelegramToken = "bot-token"

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Notify.TelegramToken != redacted {
		t.Fatalf("secrets not redacted: %+v", out.Wallet)
	}
	if strings.Contains(out.Chain.RPCURL, "secret-token") {
		t.Fatalf("rpc token leaked: %q", out.Chain.RPCURL)
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Fatalf("original config mutated")
	}
}
