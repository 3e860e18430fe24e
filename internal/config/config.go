package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Downloads  DownloadConfig   `mapstructure:"downloads"`
	Statistics StatisticsConfig `mapstructure:"statistics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StoreConfig holds local persistence configuration
type StoreConfig struct {
	Path string `mapstructure:"path"` // BoltDB file; empty = memory-only
}

// RemoteConfig holds the remote library service configuration
type RemoteConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// SyncConfig holds sync coordinator configuration
type SyncConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`     // Periodic full sync
	Timeout     time.Duration `mapstructure:"timeout"`      // Per network operation
	PushOnWrite bool          `mapstructure:"push_on_write"` // Best-effort per-entity push
}

// DownloadConfig holds download transport configuration
type DownloadConfig struct {
	Dir string `mapstructure:"dir"` // Local blob directory
}

// StatisticsConfig holds statistics cache configuration
type StatisticsConfig struct {
	Freshness time.Duration `mapstructure:"freshness"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(defaultDataPath(), "versekeep.db"),
		},
		Sync: SyncConfig{
			Enabled:     true,
			Interval:    300 * time.Second,
			Timeout:     30 * time.Second,
			PushOnWrite: true,
		},
		Downloads: DownloadConfig{
			Dir: filepath.Join(defaultDataPath(), "blobs"),
		},
		Statistics: StatisticsConfig{
			Freshness: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			File:  filepath.Join(defaultDataPath(), "versekeep.log"),
			Level: "INFO",
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "versekeep")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "versekeep")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "versekeep")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "versekeep")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("VERSEKEEP")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}
