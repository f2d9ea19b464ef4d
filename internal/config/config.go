package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
)

// Storage backend names accepted by STORAGE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// Config holds all configuration for the registration service
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Admin     AdminConfig
	Display   DisplayConfig
	Seed      SeedConfig
	Redis     RedisConfig
	Reconcile ReconcileConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port int
}

// StorageConfig selects and tunes the storage backend
type StorageConfig struct {
	Backend        string
	DSN            string
	ConnectTimeout time.Duration
	FilePath       string
	LockRetries    int
	LockRetryDelay time.Duration
	FallbackToFile bool
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	Password string
	HashKey  []byte
	BlockKey []byte
}

// DisplayConfig holds presentation configuration
type DisplayConfig struct {
	Timezone string
}

// SeedConfig points at an optional YAML seed catalog directory
type SeedConfig struct {
	Dir string
}

// RedisConfig holds the optional cross-instance notify bridge configuration
type RedisConfig struct {
	Address  string
	Password string
	Channel  string
}

// ReconcileConfig tunes the counter reconcile worker
type ReconcileConfig struct {
	Interval time.Duration
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	// A .env file is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Storage: StorageConfig{
			Backend:        getEnv("STORAGE_BACKEND", BackendPostgres),
			DSN:            getEnv("DATABASE_DSN", ""),
			ConnectTimeout: getEnvAsDuration("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
			FilePath:       getEnv("FILE_STORE_PATH", "./data/digicon.json"),
			LockRetries:    getEnvAsInt("FILE_LOCK_RETRIES", 50),
			LockRetryDelay: getEnvAsDuration("FILE_LOCK_RETRY_DELAY", 100*time.Millisecond),
			FallbackToFile: getEnvAsBool("STORAGE_FALLBACK_TO_FILE", false),
		},
		Admin: AdminConfig{
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		Display: DisplayConfig{
			Timezone: getEnv("DISPLAY_TIMEZONE", "Asia/Kolkata"),
		},
		Seed: SeedConfig{
			Dir: getEnv("SEED_DIR", ""),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			Channel:  getEnv("REDIS_CHANNEL", "digicon.events"),
		},
		Reconcile: ReconcileConfig{
			Interval: getEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
		},
	}

	hashKey, err := sessionKey("SESSION_HASH_KEY", 32)
	if err != nil {
		return nil, err
	}
	blockKey, err := sessionKey("SESSION_BLOCK_KEY", 32)
	if err != nil {
		return nil, err
	}
	cfg.Admin.HashKey = hashKey
	cfg.Admin.BlockKey = blockKey

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("database DSN is required for the postgres backend")
		}
	case BackendFile:
		if c.Storage.FilePath == "" {
			return fmt.Errorf("file store path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.Storage.LockRetries < 1 {
		return fmt.Errorf("file lock retries must be at least 1")
	}

	if c.Admin.Password == "" {
		return fmt.Errorf("admin password is required")
	}

	if _, err := c.DisplayLocation(); err != nil {
		return fmt.Errorf("invalid display timezone %q: %w", c.Display.Timezone, err)
	}

	return nil
}

// DisplayLocation resolves the configured display timezone.
func (c *Config) DisplayLocation() (*time.Location, error) {
	return time.LoadLocation(c.Display.Timezone)
}

// sessionKey reads a hex-encoded cookie key from the environment. When the
// variable is unset a random key is generated; admin sessions then do not
// survive a restart.
func sessionKey(envKey string, length int) ([]byte, error) {
	value := os.Getenv(envKey)
	if value == "" {
		key := securecookie.GenerateRandomKey(length)
		if key == nil {
			return nil, fmt.Errorf("generating random key for %s", envKey)
		}
		slog.Warn("session key generated, admin sessions will not survive a restart", "key", envKey)
		return key, nil
	}

	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", envKey, err)
	}
	if len(key) != length {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", envKey, length, len(key))
	}
	return key, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
