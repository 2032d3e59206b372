package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/osobh/pingpong-sub001/internal/ids"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	ServerID    string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Rooms
	DefaultRoomID string
	DefaultTopic  string
	DefaultMode   string

	// Bus
	DedupWindow   int
	ChannelPrefix string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics when REDIS_URL is missing.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		ServerID:      getEnv("SERVER_ID", ""),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    os.Getenv("SQLITE_PATH"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DefaultRoomID: getEnv("DEFAULT_ROOM_ID", "lobby"),
		DefaultTopic:  getEnv("DEFAULT_TOPIC", "general"),
		DefaultMode:   getEnv("DEFAULT_MODE", "debate"),
		DedupWindow:   getEnvInt("BUS_DEDUP_WINDOW", 1024),
		ChannelPrefix: getEnv("BUS_CHANNEL_PREFIX", "pingpong:room:"),
	}
	if cfg.ServerID == "" {
		cfg.ServerID = ids.NewServerID()
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// Multiple servers only see each other through Redis.
	if cfg.Env == "production" && cfg.RedisURL == "" {
		panic("REDIS_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}
