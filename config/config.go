// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Quote gateway credentials
	GatewayBaseURL   string
	GatewayWSURL     string
	GatewayAPIKey    string
	GatewaySecretKey string
	GatewayTOTP      string

	// Contract
	Symbol string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string

	// Engine tuning
	WindowSize   time.Duration // event buffer retention
	HistoryTTL   time.Duration // redis key expiry
	PaperTrading bool
	Slippage     float64 // paper fill slippage in index points
	OrderQty     int64
}

// Load reads configuration from environment variables with sensible defaults.
// Gateway credentials are required unless paper replay is the only surface.
func Load() *Config {
	return &Config{
		GatewayBaseURL:   mustEnv("GATEWAY_BASE_URL"),
		GatewayWSURL:     mustEnv("GATEWAY_WS_URL"),
		GatewayAPIKey:    mustEnv("GATEWAY_API_KEY"),
		GatewaySecretKey: mustEnv("GATEWAY_SECRET_KEY"),
		GatewayTOTP:      mustEnv("GATEWAY_TOTP_SECRET"),

		Symbol: getEnv("SYMBOL", "TMFR1"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/sessions.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		WindowSize:   getEnvDuration("WINDOW_SIZE", 2*time.Hour),
		HistoryTTL:   getEnvDuration("HISTORY_TTL", 7*24*time.Hour),
		PaperTrading: getEnvBool("PAPER_TRADING", true),
		Slippage:     getEnvFloat("SLIPPAGE_POINTS", 0.5),
		OrderQty:     int64(getEnvInt("ORDER_QTY", 1)),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
