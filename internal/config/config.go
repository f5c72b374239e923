package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/banka1/banking/internal/currency"
)

const (
	defaultAppName            = "Banka1"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultShutdownDelay      = 10 * time.Second
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultCollectionInterval = time.Hour
	defaultCollectionLease    = 5 * time.Minute
	defaultClearingCapital    = "1000000000"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName            string
	AppEnv             string
	Port               string
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	RedisURL           string
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	ExchangeRatesFile  string
	CollectionInterval time.Duration
	CollectionLeaseTTL time.Duration
	ClearingCapital    decimal.Decimal
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists. Variables already set in the
// environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ExchangeRatesFile: os.Getenv("EXCHANGE_RATES_FILE"),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.CollectionInterval, err = durationEnv("COLLECTION_INTERVAL", defaultCollectionInterval); err != nil {
		return Config{}, err
	}
	if cfg.CollectionLeaseTTL, err = durationEnv("COLLECTION_LEASE_TTL", defaultCollectionLease); err != nil {
		return Config{}, err
	}
	if cfg.CollectionInterval <= 0 {
		return Config{}, fmt.Errorf("COLLECTION_INTERVAL must be positive")
	}

	capital := getEnv("CLEARING_CAPITAL", defaultClearingCapital)
	cfg.ClearingCapital, err = decimal.NewFromString(capital)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CLEARING_CAPITAL: %w", err)
	}
	if cfg.ClearingCapital.IsNegative() {
		return Config{}, fmt.Errorf("CLEARING_CAPITAL must not be negative")
	}

	if !cfg.Development() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// Development reports whether the service runs in development mode, where the
// in-memory ledger and a missing Redis are accepted.
func (c Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev" || c.AppEnv == "test"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// RateTable loads the configured exchange-rate table, or the built-in one
// when no file is configured.
func (c Config) RateTable() (*currency.Table, error) {
	if c.ExchangeRatesFile == "" {
		return currency.DefaultTable(), nil
	}
	return currency.LoadFile(c.ExchangeRatesFile)
}

// durationEnv reads NAME_SECONDS as whole seconds, falling back to NAME as a
// Go duration string.
func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(name + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", name, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
