package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ecoStock/internal/adapters/logger" // Import the logger package for LogLevel
)

// Market data providers.
const (
	ProviderEco     = "eco"
	ProviderBinance = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Market provider
	Provider        string
	APIBaseURL      string
	FeedURL         string
	AuthToken       string
	InitialSymbolID int64

	// Binance API (MARKET_PROVIDER=binance)
	APIKey          string
	SecretKey       string
	IsTestnet       bool
	BinanceSymbols  map[int64]string // symbol id -> exchange symbol
	BinanceInterval string

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat logger.Format

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
	PingInterval         time.Duration

	// Chart
	ChartVisiblePoints int
	ChartRightMargin   int
	ChartWidth         int
	ChartHeight        int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.Provider = strings.ToLower(getEnv("MARKET_PROVIDER", ProviderEco))
	cfg.AuthToken = getEnv("AUTH_TOKEN", "")

	switch cfg.Provider {
	case ProviderEco:
		cfg.APIBaseURL = strings.TrimRight(getEnv("API_BASE_URL", ""), "/")
		cfg.FeedURL = getEnv("FEED_URL", "")
		if cfg.APIBaseURL == "" {
			errs = append(errs, "API_BASE_URL must be set")
		}
		if cfg.FeedURL == "" {
			errs = append(errs, "FEED_URL must be set")
		}
	case ProviderBinance:
		cfg.APIKey = getEnv("BINANCE_API_KEY", "")
		cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
		cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
		cfg.BinanceSymbols, err = ParseSymbolMap(getEnv("BINANCE_SYMBOLS", "1:BTCUSDT,2:ETHUSDT"))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid BINANCE_SYMBOLS: %v", err))
		}
		cfg.BinanceInterval = getEnv("BINANCE_INTERVAL", "1m")
	default:
		errs = append(errs, fmt.Sprintf("MARKET_PROVIDER must be %q or %q, got %q", ProviderEco, ProviderBinance, cfg.Provider))
	}

	initial, err := getEnvAsIntRequired("INITIAL_SYMBOL_ID", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_SYMBOL_ID: %v", err))
	} else if initial <= 0 {
		errs = append(errs, "INITIAL_SYMBOL_ID must be positive")
	}
	cfg.InitialSymbolID = int64(initial)
	if cfg.Provider == ProviderBinance && cfg.BinanceSymbols != nil {
		if _, ok := cfg.BinanceSymbols[cfg.InitialSymbolID]; !ok {
			errs = append(errs, "INITIAL_SYMBOL_ID must be listed in BINANCE_SYMBOLS")
		}
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/eco_stock.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = logger.ParseFormat(getEnv("LOG_FORMAT", "console"))

	// Connection Settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 1)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	maxDelaySeconds := getEnvAsInt("MAX_RECONNECT_DELAY_SECONDS", 30)
	if maxDelaySeconds < reconnectDelaySeconds {
		errs = append(errs, "MAX_RECONNECT_DELAY_SECONDS must not be less than RECONNECT_DELAY_SECONDS")
	}
	cfg.MaxReconnectDelay = time.Duration(maxDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	timeoutSeconds, err := getEnvAsIntRequired("REQUEST_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUEST_TIMEOUT_SECONDS: %v", err))
	} else if timeoutSeconds <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	cfg.RequestTimeout = time.Duration(timeoutSeconds) * time.Second

	pingSeconds := getEnvAsInt("PING_INTERVAL_SECONDS", 30)
	if pingSeconds <= 0 {
		errs = append(errs, "PING_INTERVAL_SECONDS must be positive")
	}
	cfg.PingInterval = time.Duration(pingSeconds) * time.Second

	// Chart
	cfg.ChartVisiblePoints = getEnvAsInt("CHART_VISIBLE_POINTS", 60)
	cfg.ChartRightMargin = getEnvAsInt("CHART_RIGHT_MARGIN", 5)
	cfg.ChartWidth = getEnvAsInt("CHART_WIDTH", 100)
	cfg.ChartHeight = getEnvAsInt("CHART_HEIGHT", 20)
	if cfg.ChartVisiblePoints <= 0 {
		errs = append(errs, "CHART_VISIBLE_POINTS must be positive")
	}
	if cfg.ChartRightMargin < 0 {
		errs = append(errs, "CHART_RIGHT_MARGIN cannot be negative")
	}
	if cfg.ChartWidth <= 0 || cfg.ChartHeight <= 0 {
		errs = append(errs, "CHART_WIDTH and CHART_HEIGHT must be positive")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// ParseSymbolMap parses "1:BTCUSDT,2:ETHUSDT" into a symbol id lookup.
func ParseSymbolMap(s string) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, sym, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(sym) == "" {
			return nil, fmt.Errorf("entry %q is not in id:SYMBOL form", part)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("entry %q has an invalid id", part)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("duplicate id %d", id)
		}
		out[id] = strings.ToUpper(strings.TrimSpace(sym))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	return out, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
