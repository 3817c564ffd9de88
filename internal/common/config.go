// Package common provides shared utilities for Molly
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Molly
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Clients     ClientsConfig `toml:"clients"`
	Sync        SyncConfig    `toml:"sync"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the SurrealDB connection settings.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	EODHD EODHDConfig `toml:"eodhd"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	RateLimit      int    `toml:"rate_limit"`
	Timeout        string `toml:"timeout"`
	CurrencyLookup bool   `toml:"currency_lookup"` // resolve listing currency via fundamentals
	IntradayStart  string `toml:"intraday_start"`  // YYYY-MM-DD; earliest intraday bar requested
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetIntradayStart parses intraday_start. Empty or invalid values return the
// zero time, which leaves intraday fetches unclamped.
func (c *EODHDConfig) GetIntradayStart() time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(c.IntradayStart))
	if err != nil {
		return time.Time{}
	}
	return t
}

// SyncConfig controls the synchronization engine and the scheduled sync.
type SyncConfig struct {
	MaxConcurrent  int    `toml:"max_concurrent"`
	RefreshRetries int    `toml:"refresh_retries"`
	RunTimeout     string `toml:"run_timeout"`
	Schedule       string `toml:"schedule"` // cron expression with seconds field; empty disables
	Manifest       string `toml:"manifest"` // YAML series manifest for scheduled and CLI syncs
}

// GetRunTimeout parses and returns the per-run deadline.
func (c *SyncConfig) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.RunTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// GetMaxConcurrent returns the fetch fan-out bound, defaulting to 4.
func (c *SyncConfig) GetMaxConcurrent() int {
	if c.MaxConcurrent <= 0 {
		return 4
	}
	return c.MaxConcurrent
}

// GetRefreshRetries returns the ledger refresh attempt count, defaulting to 5.
func (c *SyncConfig) GetRefreshRetries() int {
	if c.RefreshRetries <= 0 {
		return 5
	}
	return c.RefreshRetries
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`  // "console" or "json"
	Outputs  []string `toml:"outputs"` // "console", "stdout", "file"
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000/rpc",
			Namespace: "molly",
			Database:  "series",
			Username:  "root",
			Password:  "root",
		},
		Clients: ClientsConfig{
			EODHD: EODHDConfig{
				BaseURL:        "https://eodhd.com/api",
				RateLimit:      10,
				Timeout:        "30s",
				CurrencyLookup: true,
				IntradayStart:  "2004-01-01",
			},
		},
		Sync: SyncConfig{
			MaxConcurrent:  4,
			RefreshRetries: 5,
			RunTimeout:     "30m",
			Schedule:       "0 30 22 * * MON-FRI",
			Manifest:       "series.yaml",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "console",
			Outputs:  []string{"console"},
			FilePath: "./logs/molly.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MOLLY_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("MOLLY_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("MOLLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("MOLLY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("MOLLY_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("MOLLY_STORAGE_NAMESPACE"); v != "" {
		config.Storage.Namespace = v
	}
	if v := os.Getenv("MOLLY_STORAGE_DATABASE"); v != "" {
		config.Storage.Database = v
	}
	if v := os.Getenv("MOLLY_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("MOLLY_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	if v := os.Getenv("EODHD_API_KEY"); v != "" {
		config.Clients.EODHD.APIKey = v
	}

	if v := os.Getenv("MOLLY_SYNC_SCHEDULE"); v != "" {
		config.Sync.Schedule = v
	}
	if v := os.Getenv("MOLLY_SYNC_MANIFEST"); v != "" {
		config.Sync.Manifest = v
	}
	if v := os.Getenv("MOLLY_SYNC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sync.MaxConcurrent = n
		}
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateRequired returns the names of required settings that are missing.
func (c *Config) ValidateRequired() []string {
	var missing []string
	if c.Storage.Address == "" {
		missing = append(missing, "storage.address")
	}
	if c.Storage.Namespace == "" {
		missing = append(missing, "storage.namespace")
	}
	if c.Storage.Database == "" {
		missing = append(missing, "storage.database")
	}
	if c.Clients.EODHD.APIKey == "" {
		missing = append(missing, "clients.eodhd.api_key")
	}
	return missing
}

// ResolveAPIKey resolves an API key from environment or fallback
func ResolveAPIKey(name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"eodhd_api_key": {"EODHD_API_KEY", "MOLLY_EODHD_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}
