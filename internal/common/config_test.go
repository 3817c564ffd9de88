package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8090)
	}
	if cfg.Sync.GetMaxConcurrent() != 4 {
		t.Errorf("Sync.GetMaxConcurrent() = %d, want 4", cfg.Sync.GetMaxConcurrent())
	}
	if cfg.Storage.Namespace != "molly" {
		t.Errorf("Storage.Namespace = %q, want %q", cfg.Storage.Namespace, "molly")
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("MOLLY_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_StorageEnvOverride(t *testing.T) {
	t.Setenv("MOLLY_STORAGE_ADDRESS", "ws://db:8000/rpc")
	t.Setenv("MOLLY_STORAGE_DATABASE", "prices")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.Address != "ws://db:8000/rpc" {
		t.Errorf("Storage.Address = %q", cfg.Storage.Address)
	}
	if cfg.Storage.Database != "prices" {
		t.Errorf("Storage.Database = %q", cfg.Storage.Database)
	}
}

func TestConfig_EODHDKeyEnvOverride(t *testing.T) {
	t.Setenv("EODHD_API_KEY", "from-env")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Clients.EODHD.APIKey != "from-env" {
		t.Errorf("EODHD.APIKey = %q, want %q", cfg.Clients.EODHD.APIKey, "from-env")
	}
}

func TestConfig_ValidateRequired(t *testing.T) {
	cfg := &Config{}
	if missing := cfg.ValidateRequired(); len(missing) != 4 {
		t.Errorf("expected 4 missing fields, got %d: %v", len(missing), missing)
	}

	cfg = NewDefaultConfig()
	cfg.Clients.EODHD.APIKey = "key"
	if missing := cfg.ValidateRequired(); len(missing) != 0 {
		t.Errorf("expected 0 missing fields, got %v", missing)
	}
}

func TestLoadConfig_FileMerge(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "molly.toml")
	override := filepath.Join(dir, "molly.local.toml")

	if err := os.WriteFile(base, []byte(`
environment = "production"

[sync]
max_concurrent = 8
run_timeout = "5m"

[clients.eodhd]
timeout = "10s"
`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(override, []byte(`
[sync]
max_concurrent = 2
`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(base, override, filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production environment")
	}
	if cfg.Sync.MaxConcurrent != 2 {
		t.Errorf("Sync.MaxConcurrent = %d, want 2", cfg.Sync.MaxConcurrent)
	}
	if cfg.Sync.GetRunTimeout() != 5*time.Minute {
		t.Errorf("Sync.GetRunTimeout() = %v, want 5m", cfg.Sync.GetRunTimeout())
	}
	if cfg.Clients.EODHD.GetTimeout() != 10*time.Second {
		t.Errorf("EODHD.GetTimeout() = %v, want 10s", cfg.Clients.EODHD.GetTimeout())
	}
	// Untouched defaults survive the merge
	if cfg.Storage.Namespace != "molly" {
		t.Errorf("Storage.Namespace = %q, want default", cfg.Storage.Namespace)
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[sync\nmax_concurrent = "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("EODHD_API_KEY", "")
	t.Setenv("MOLLY_EODHD_API_KEY", "")

	if _, err := ResolveAPIKey("eodhd_api_key", ""); err == nil {
		t.Error("expected error when key is missing")
	}

	key, err := ResolveAPIKey("eodhd_api_key", "from-config")
	if err != nil || key != "from-config" {
		t.Errorf("ResolveAPIKey fallback = %q, %v", key, err)
	}

	t.Setenv("MOLLY_EODHD_API_KEY", "from-env")
	key, err = ResolveAPIKey("eodhd_api_key", "from-config")
	if err != nil || key != "from-env" {
		t.Errorf("ResolveAPIKey env = %q, %v", key, err)
	}
}

func TestEODHDConfig_GetIntradayStart(t *testing.T) {
	cfg := NewDefaultConfig()
	if got := cfg.Clients.EODHD.GetIntradayStart(); !got.Equal(time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("default intraday start = %v, want 2004-01-01", got)
	}

	cfg.Clients.EODHD.IntradayStart = ""
	if got := cfg.Clients.EODHD.GetIntradayStart(); !got.IsZero() {
		t.Errorf("empty intraday start = %v, want zero", got)
	}

	cfg.Clients.EODHD.IntradayStart = "last year"
	if got := cfg.Clients.EODHD.GetIntradayStart(); !got.IsZero() {
		t.Errorf("invalid intraday start = %v, want zero", got)
	}
}
