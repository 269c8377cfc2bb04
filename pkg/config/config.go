package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal engine.
type Config struct {
	Port string

	// Signal admission
	FreshnessWindow time.Duration // max signal age before it is dropped

	// Exchange connection pools
	BinancePoolSize int
	BybitPoolSize   int
	BinanceTestnet  bool
	BybitTestnet    bool
	AcquireTimeout  time.Duration // max wait for a pooled session
	CallTimeout     time.Duration // per exchange call

	// Execution
	MaxRetries   int
	RetryBackoff time.Duration

	// Database
	DBPath string

	// Tier policy
	TierPolicyPath string // optional YAML override for tier weights/budgets

	// Auth
	JWTSecret        string
	OperatorUser     string // operator login name
	OperatorPassHash string // bcrypt hash of the operator password
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/signal-core.db")
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		FreshnessWindow:  getEnvDuration("SIGNAL_FRESHNESS_WINDOW", 45*time.Second),
		BinancePoolSize:  getEnvInt("BINANCE_POOL_SIZE", 20),
		BybitPoolSize:    getEnvInt("BYBIT_POOL_SIZE", 15),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		BybitTestnet:     getEnv("BYBIT_TESTNET", "false") == "true",
		AcquireTimeout:   getEnvDuration("POOL_ACQUIRE_TIMEOUT", 5*time.Second),
		CallTimeout:      getEnvDuration("EXCHANGE_CALL_TIMEOUT", 10*time.Second),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		RetryBackoff:     getEnvDuration("RETRY_BACKOFF", 500*time.Millisecond),
		DBPath:           dbPath,
		TierPolicyPath:   getEnv("TIER_POLICY_PATH", ""),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		OperatorUser:     getEnv("OPERATOR_USER", "operator"),
		OperatorPassHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
