// Package config loads the daemon configuration from file and environment.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Drive    DriveConfig    `mapstructure:"drive"`
	Tokens   TokenConfig    `mapstructure:"tokens"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Identity IdentityConfig `mapstructure:"identity"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// StoreConfig selects the knowledge-target store backend by DSN:
// file://, bolt://, postgres://, or memory://.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DriveConfig holds the remote drive API client settings.
type DriveConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestBurst      int           `mapstructure:"request_burst"`
}

// TokenConfig holds credential storage and the OAuth refresh endpoint.
type TokenConfig struct {
	// Dir stores one encrypted credential file per source. Ignored when
	// PostgresDSN is set.
	Dir           string        `mapstructure:"dir"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	EncryptionKey string        `mapstructure:"encryption_key"` // hex, 32 bytes
	TokenURL      string        `mapstructure:"token_url"`
	ClientID      string        `mapstructure:"client_id"`
	Scopes        string        `mapstructure:"scopes"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
	Provider      string        `mapstructure:"provider"`
}

// IngestConfig points at the downstream ingestion pipeline.
type IngestConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// SyncConfig tunes the sync worker and scheduler.
type SyncConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers"`
	MaxItemsPerRun int           `mapstructure:"max_items_per_run"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// IdentityConfig maps source-system emails onto internal identities.
type IdentityConfig struct {
	Users  map[string]string `mapstructure:"users"`
	Groups map[string]string `mapstructure:"groups"`
}

// LoggingConfig holds log file rotation settings. An empty file means stderr.
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			DSN: "file://.driftsync/targets.json",
		},
		Drive: DriveConfig{
			MaxRetries:        3,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          30 * time.Second,
			RequestsPerSecond: 10,
			RequestBurst:      5,
		},
		Tokens: TokenConfig{
			Dir:           ".driftsync/credentials",
			RefreshMargin: 5 * time.Minute,
			Provider:      "drive",
		},
		Sync: SyncConfig{
			MaxWorkers:     4,
			MaxItemsPerRun: 0,
			PollInterval:   time.Minute,
		},
		Logging: LoggingConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads configuration from config.yaml and DRIFTSYNC_* environment
// overrides. A missing config file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/driftsync")
	}

	v.SetEnvPrefix("DRIFTSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// DecodeEncryptionKey parses the hex-encoded credential encryption key.
func (c *Config) DecodeEncryptionKey() ([]byte, error) {
	if c.Tokens.EncryptionKey == "" {
		return nil, fmt.Errorf("tokens.encryption_key is required")
	}
	key, err := hex.DecodeString(c.Tokens.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("tokens.encryption_key is not valid hex: %w", err)
	}
	return key, nil
}
