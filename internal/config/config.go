package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all rider app configuration
type Config struct {
	App      AppConfig
	API      APIConfig
	Realtime RealtimeConfig
	Redis    RedisConfig
	Session  SessionConfig
	Account  AccountConfig
	Cache    CacheConfig
	Log      LogConfig
}

type AppConfig struct {
	Env  string
	Name string
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type RealtimeConfig struct {
	URL                  string
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	OnceTimeout          time.Duration
	WriteTimeout         time.Duration
	PongWait             time.Duration
}

type RedisConfig struct {
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	MinIdleConn int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type SessionConfig struct {
	// Backend selects the persistent store: "redis" or "memory".
	Backend   string
	KeyPrefix string
}

type AccountConfig struct {
	RevalidateInterval time.Duration
}

type CacheConfig struct {
	TTLVehicleServices time.Duration
	TTLFareQuotes      time.Duration
	TTLPinnedAddresses time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Env:  getEnv("APP_ENV", "development"),
			Name: getEnv("APP_NAME", "rider-app"),
		},
		API: APIConfig{
			BaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
			Timeout: time.Duration(getEnvAsInt("API_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Realtime: RealtimeConfig{
			URL:                  getEnv("REALTIME_URL", "ws://localhost:8080/v1/ws"),
			ReconnectBaseDelay:   time.Duration(getEnvAsInt("REALTIME_RECONNECT_BASE_MS", 1000)) * time.Millisecond,
			MaxReconnectAttempts: getEnvAsInt("REALTIME_MAX_RECONNECT_ATTEMPTS", 5),
			OnceTimeout:          time.Duration(getEnvAsInt("REALTIME_ONCE_TIMEOUT_SECONDS", 30)) * time.Second,
			WriteTimeout:         time.Duration(getEnvAsInt("REALTIME_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
			PongWait:             time.Duration(getEnvAsInt("REALTIME_PONG_WAIT_SECONDS", 60)) * time.Second,
		},
		Redis: RedisConfig{
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			MaxRetries:  getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConn: 2,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		},
		Session: SessionConfig{
			Backend:   getEnv("SESSION_BACKEND", "redis"),
			KeyPrefix: getEnv("SESSION_KEY_PREFIX", "rider"),
		},
		Account: AccountConfig{
			RevalidateInterval: time.Duration(getEnvAsInt("ACCOUNT_REVALIDATE_SECONDS", 45)) * time.Second,
		},
		Cache: CacheConfig{
			TTLVehicleServices: time.Duration(getEnvAsInt("CACHE_TTL_VEHICLE_SERVICES", 3600)) * time.Second,
			TTLFareQuotes:      time.Duration(getEnvAsInt("CACHE_TTL_FARE_QUOTES", 120)) * time.Second,
			TTLPinnedAddresses: time.Duration(getEnvAsInt("CACHE_TTL_PINNED_ADDRESSES", 86400)) * time.Second,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("REALTIME_URL is required")
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return fmt.Errorf("REALTIME_MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.Session.Backend != "redis" && c.Session.Backend != "memory" {
		return fmt.Errorf("SESSION_BACKEND must be redis or memory")
	}
	if c.Session.Backend == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
