// Package config loads runtime configuration from the environment, with an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all component configuration.
type Config struct {
	BinanceConfig  BinanceConfig
	FetcherConfig  FetcherConfig
	CSVConfig      CSVConfig
	DatabaseConfig DatabaseConfig
	RedisConfig    RedisConfig
	ServerConfig   ServerConfig
	LoggingConfig  LoggingConfig
}

// BinanceConfig holds kline endpoint settings.
type BinanceConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	APILimit       int
}

// FetcherConfig holds pagination and rate-limit settings shared by the
// historical fetcher and the incremental updater.
type FetcherConfig struct {
	SleepSeconds     float64       // inter-request pause per worker
	MaxRetries       int           // attempts per failing request
	RetryDelay       time.Duration // between retries, historical fetch
	UpdateRetryDelay time.Duration // between retries, incremental update
	Workers          int           // concurrent symbol workers
	DefaultCoins     []string      // seed symbol set if none provided
}

// CSVConfig holds CSV sink settings.
type CSVConfig struct {
	DataDir  string
	Encoding string
}

// DatabaseConfig holds PostgreSQL sink settings.
type DatabaseConfig struct {
	Host      string
	Port      int
	Name      string
	User      string
	Password  string
	SSLMode   string
	BatchSize int
}

// RedisConfig holds the optional update-cursor cache settings.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins string
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// DefaultCoins is the seed symbol set used when none is configured.
var DefaultCoins = []string{
	"BTCUSDT", "ETHUSDT", "XRPUSDT", "BNBUSDT", "SOLUSDT",
	"DOGEUSDT", "TRXUSDT", "ADAUSDT", "HYPEUSDT", "LINKUSDT",
	"SUIUSDT", "AVAXUSDT", "XLMUSDT", "BCHUSDT", "HBARUSDT",
	"LEOUSDT", "LTCUSDT", "TONUSDT", "CROUSDT", "SHIBUSDT",
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BinanceConfig: BinanceConfig{
			BaseURL:        getEnvOrDefault("BINANCE_BASE_URL", "https://fapi.binance.com/fapi/v1/klines"),
			RequestTimeout: time.Duration(getEnvIntOrDefault("REQUEST_TIMEOUT", 10)) * time.Second,
			APILimit:       getEnvIntOrDefault("API_LIMIT", 499),
		},
		FetcherConfig: FetcherConfig{
			SleepSeconds:     getEnvFloatOrDefault("SLEEP_SECONDS", 0.25),
			MaxRetries:       getEnvIntOrDefault("MAX_RETRIES", 5),
			RetryDelay:       time.Duration(getEnvFloatOrDefault("RETRY_DELAY", 600) * float64(time.Second)),
			UpdateRetryDelay: time.Duration(getEnvFloatOrDefault("UPDATE_RETRY_DELAY", 5) * float64(time.Second)),
			Workers:          getEnvIntOrDefault("FETCH_WORKERS", 4),
			DefaultCoins:     getEnvListOrDefault("DEFAULT_COINS", DefaultCoins),
		},
		CSVConfig: CSVConfig{
			DataDir:  getEnvOrDefault("DATA_DIR", "raw_data"),
			Encoding: getEnvOrDefault("CSV_ENCODING", "utf-8"),
		},
		DatabaseConfig: DatabaseConfig{
			Host:      getEnvOrDefault("DB_HOST", "localhost"),
			Port:      getEnvIntOrDefault("DB_PORT", 5432),
			Name:      getEnvOrDefault("DB_NAME", "midas"),
			User:      getEnvOrDefault("DB_USER", "postgres"),
			Password:  getEnvOrDefault("DB_PASSWORD", ""),
			SSLMode:   getEnvOrDefault("DB_SSLMODE", "disable"),
			BatchSize: getEnvIntOrDefault("DB_BATCH_SIZE", 1000),
		},
		RedisConfig: RedisConfig{
			Enabled:  getEnvOrDefault("REDIS_ENABLED", "false") == "true",
			Address:  getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
			PoolSize: getEnvIntOrDefault("REDIS_POOL_SIZE", 10),
		},
		ServerConfig: ServerConfig{
			Host:           getEnvOrDefault("WEB_HOST", "0.0.0.0"),
			Port:           getEnvIntOrDefault("WEB_PORT", 8080),
			AllowedOrigins: getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
		},
		LoggingConfig: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Pretty: getEnvOrDefault("LOG_PRETTY", "true") == "true",
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BinanceConfig.APILimit <= 0 {
		return fmt.Errorf("API_LIMIT must be positive, got %d", c.BinanceConfig.APILimit)
	}
	if c.FetcherConfig.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be positive, got %d", c.FetcherConfig.MaxRetries)
	}
	if c.DatabaseConfig.BatchSize <= 0 {
		return fmt.Errorf("DB_BATCH_SIZE must be positive, got %d", c.DatabaseConfig.BatchSize)
	}
	if c.FetcherConfig.Workers <= 0 {
		return fmt.Errorf("FETCH_WORKERS must be positive, got %d", c.FetcherConfig.Workers)
	}
	// The CSV sink only writes UTF-8.
	switch strings.ToLower(c.CSVConfig.Encoding) {
	case "utf-8", "utf8":
	default:
		return fmt.Errorf("CSV_ENCODING must be utf-8, got %q", c.CSVConfig.Encoding)
	}
	return nil
}

// SleepInterval returns the inter-request pause as a duration.
func (c FetcherConfig) SleepInterval() time.Duration {
	return time.Duration(c.SleepSeconds * float64(time.Second))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, strings.ToUpper(trimmed))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
