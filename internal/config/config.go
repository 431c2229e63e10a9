package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `toml:"port"`
	Env         string `toml:"env"`
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
	RedisURL    string `toml:"redis_url"`

	// Relay policy
	PollTimeout     time.Duration `toml:"poll_timeout"`
	MaxBodyBytes    int64         `toml:"max_body_bytes"`
	MaxHistoryLimit int           `toml:"max_history_limit"` // 0 = uncapped

	// Rate limiting
	RateLimitWhitelist []string `toml:"rate_limit_whitelist"` // IPs or CIDRs exempt from rate limiting
}

// defaults returns the built-in configuration.
func defaults() *Config {
	return &Config{
		Port:         "8080",
		Env:          "development",
		SQLitePath:   "./data/relay.db",
		PollTimeout:  45 * time.Second,
		MaxBodyBytes: 64 * 1024,
	}
}

// Load reads configuration. Values come from, in increasing precedence:
// built-in defaults, the TOML file named by CONFIG_FILE, and environment
// variables (a .env file is loaded first if present).
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			panic(fmt.Sprintf("config file %s: %v", path, err))
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Env = getEnv("ENV", cfg.Env)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.PollTimeout = getDuration("POLL_TIMEOUT", cfg.PollTimeout)
	cfg.MaxBodyBytes = int64(getInt("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.MaxHistoryLimit = getInt("MAX_HISTORY_LIMIT", cfg.MaxHistoryLimit)

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		cfg.RateLimitWhitelist = nil
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if cfg.PollTimeout <= 0 {
		panic("POLL_TIMEOUT must be positive")
	}

	// In production, require database and redis URLs
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
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

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(fmt.Sprintf("%s must be an integer, got %q", key, value))
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("%s must be a duration, got %q", key, value))
	}
	return d
}
