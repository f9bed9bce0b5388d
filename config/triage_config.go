package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// JWT
	JWTSecret string

	// OpenAI (fallback classifier)
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// Classification
	RuleGateThreshold float64

	// Watchdog
	WatchdogIntervalSec int
	WatchdogEnabled     bool

	// Dedup filter
	DedupTTLHours int

	// Data directory (attachment spool, probe target)
	DataDir string

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.0),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 20),

		// Classification
		RuleGateThreshold: getEnvFloat("RULE_GATE_THRESHOLD", 0.7),

		// Watchdog
		WatchdogIntervalSec: getEnvInt("WATCHDOG_INTERVAL_SEC", 60),
		WatchdogEnabled:     getEnvBool("WATCHDOG_ENABLED", true),

		// Dedup filter
		DedupTTLHours: getEnvInt("DEDUP_TTL_HOURS", 48),

		// Data directory
		DataDir: getEnv("DATA_DIR", "/tmp"),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}, nil
}

// WatchdogInterval returns the watchdog tick interval.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalSec) * time.Second
}

// LLMTimeout returns the fallback call timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

// DedupTTL returns the fingerprint retention window.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
