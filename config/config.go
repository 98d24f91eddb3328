// Package config loads runtime configuration from the environment, with an
// optional env file in the user's config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/mjuhola/sessionguard/internal/idle"
)

const (
	AppName     = "sessionguard"
	EnvFileName = "config.env"
)

// Config is everything the session engine needs at startup.
type Config struct {
	// APIBaseURL is the auth backend, e.g. https://api.example.com.
	APIBaseURL string
	// DBPath is the SQLite file for the durable credential mirror.
	DBPath string
	// TokenKey is the passphrase the at-rest encryption key is derived from.
	TokenKey string

	// HTTPTimeout bounds every backend call.
	HTTPTimeout time.Duration
	// TickInterval is the idle watcher's recomputation interval.
	TickInterval time.Duration

	Thresholds idle.Thresholds
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Load reads the configuration from SESSIONGUARD_* environment variables.
// Call LoadEnvFile first if the env file should be considered.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:   os.Getenv("SESSIONGUARD_API_BASE_URL"),
		DBPath:       envOr("SESSIONGUARD_DB_PATH", "credentials.db"),
		TokenKey:     os.Getenv("SESSIONGUARD_TOKEN_KEY"),
		HTTPTimeout:  15 * time.Second,
		TickInterval: time.Second,
		Thresholds:   idle.DefaultThresholds(),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("SESSIONGUARD_API_BASE_URL is not set")
	}
	if cfg.TokenKey == "" {
		return nil, fmt.Errorf("SESSIONGUARD_TOKEN_KEY is not set")
	}

	if err := overrideDuration(&cfg.HTTPTimeout, "SESSIONGUARD_HTTP_TIMEOUT"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.TickInterval, "SESSIONGUARD_TICK_INTERVAL"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.Thresholds.Warn, "SESSIONGUARD_IDLE_WARN"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.Thresholds.Modal, "SESSIONGUARD_IDLE_MODAL"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.Thresholds.Logout, "SESSIONGUARD_IDLE_LOGOUT"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.Thresholds.WarnWindow, "SESSIONGUARD_IDLE_WARN_WINDOW"); err != nil {
		return nil, err
	}
	if err := overrideDuration(&cfg.Thresholds.ModalWindow, "SESSIONGUARD_IDLE_MODAL_WINDOW"); err != nil {
		return nil, err
	}

	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid idle thresholds: %w", err)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func overrideDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
