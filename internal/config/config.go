package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel string
	LogFile  string

	// Redis (optional; empty disables cross-tab coordination)
	RedisURL            string
	CoordinationChannel string

	// Local store
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	// Remote submission API
	APIBaseURL string
	APIToken   string

	// JWT for the local UI API
	JWTSecret string
	UserID    string

	// Network probe
	NetworkProbeURL      string
	NetworkProbeInterval time.Duration

	// Coordination and sync timing
	NegotiationWindow time.Duration
	HeartbeatInterval time.Duration
	SyncItemDelay     time.Duration

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8090"),
		Env:                  getEnvOrDefault("ENV", "development"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:              getEnvOrDefault("LOG_FILE", ""),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		CoordinationChannel:  getEnvOrDefault("COORDINATION_CHANNEL", "lumina:exam-coordination"),
		StoreDriver:          getEnvOrDefault("STORE_DRIVER", "sqlite"),
		SQLitePath:           getEnvOrDefault("SQLITE_PATH", "./data/lumina-offline.db"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		APIBaseURL:           mustGetEnv("API_BASE_URL"),
		APIToken:             getEnvOrDefault("API_TOKEN", ""),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		UserID:               getEnvOrDefault("USER_ID", "local"),
		NetworkProbeURL:      getEnvOrDefault("NETWORK_PROBE_URL", ""),
		NetworkProbeInterval: getEnvAsDurationOrDefault("NETWORK_PROBE_INTERVAL", 10*time.Second),
		NegotiationWindow:    getEnvAsDurationOrDefault("NEGOTIATION_WINDOW", 200*time.Millisecond),
		HeartbeatInterval:    getEnvAsDurationOrDefault("HEARTBEAT_INTERVAL", 5*time.Second),
		SyncItemDelay:        getEnvAsDurationOrDefault("SYNC_ITEM_DELAY", 500*time.Millisecond),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.NetworkProbeURL == "" {
		cfg.NetworkProbeURL = cfg.APIBaseURL + "/health"
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required when STORE_DRIVER=postgres")
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go durations ("750ms") or plain milliseconds ("750").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d >= 0 {
		return d
	}
	if ms := getEnvAsIntOrDefault(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
