package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shiftsync/shiftsync/internal/core/observability/log"
)

// Config holds server configuration.
type Config struct {
	// Network settings
	ListenAddr string `yaml:"listen_addr"`

	// Document store; empty DatabaseURL selects the in-memory store.
	DatabaseURL string `yaml:"database_url"`

	// Auth
	TokenSecret string `yaml:"token_secret"`

	// Realtime hub
	MaxClients     int           `yaml:"max_clients"`
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ClientDeadline time.Duration `yaml:"client_deadline"`

	// Optional multi-instance fan-out; empty RedisAddr disables the bridge.
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`

	// Logging
	LogLevel log.Level `yaml:"log_level"`
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:8080",
		MaxClients:     10_000,
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		ClientDeadline: 90 * time.Second,
		RedisChannel:   "shiftsync:changes",
		LogLevel:       log.LevelInfo,
	}
}

// LoadConfig reads a YAML config file over the defaults, then applies env
// overrides for the secrets that should not live in a file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("SHIFTSYNC_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SHIFTSYNC_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("SHIFTSYNC_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}

	if cfg.TokenSecret == "" {
		return cfg, fmt.Errorf("%w: token secret is required", ErrInvalidConfig)
	}
	return cfg, nil
}
