// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Crypto      CryptoConfig
	Jobs        JobsConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

// CryptoConfig drives invoice issuance and payment reconciliation.
type CryptoConfig struct {
	MasterSeed          string
	WebhookSecret       string
	InvoiceTTLMinutes   int     // expiry window for new invoices
	GraceHours          int     // sweep retention past nominal expiry
	Tolerance           float64 // fraction of expected amount
	PriceAPIBaseURL     string
	PriceCacheSeconds   int
	ChainAPIBaseURL     string
	RequestTimeoutSecs  int
	Confirmations       map[string]int // per-chain overrides, e.g. BTC=1
	NotifyBaseURL       string
}

type JobsConfig struct {
	InvoiceSweepSeconds int
	OrderSweepSeconds   int
	PollSeconds         int
	UnpaidOrderMinutes  int
	StaleOrderDays      int
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "coinshop"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24), // 24 hours
		},
		Crypto: CryptoConfig{
			MasterSeed:         getEnv("CRYPTO_MASTER_SEED", ""),
			WebhookSecret:      getEnv("CRYPTO_WEBHOOK_SECRET", ""),
			InvoiceTTLMinutes:  getEnvAsInt("INVOICE_TTL_MINUTES", 30),
			GraceHours:         getEnvAsInt("INVOICE_GRACE_HOURS", 24),
			Tolerance:          getEnvAsFloat("PAYMENT_TOLERANCE", 0.005),
			PriceAPIBaseURL:    getEnv("PRICE_API_BASE_URL", "https://api.coingecko.com/api/v3"),
			PriceCacheSeconds:  getEnvAsInt("PRICE_CACHE_SECONDS", 300),
			ChainAPIBaseURL:    getEnv("CHAIN_API_BASE_URL", ""),
			RequestTimeoutSecs: getEnvAsInt("CHAIN_REQUEST_TIMEOUT", 8),
			Confirmations:      getEnvAsIntMap("CHAIN_CONFIRMATIONS"), // e.g. "BTC=1,ETH=12"
			NotifyBaseURL:      getEnv("NOTIFY_BASE_URL", ""),
		},
		Jobs: JobsConfig{
			InvoiceSweepSeconds: getEnvAsInt("INVOICE_SWEEP_SECONDS", 60),
			OrderSweepSeconds:   getEnvAsInt("ORDER_SWEEP_SECONDS", 60),
			PollSeconds:         getEnvAsInt("PAYMENT_POLL_SECONDS", 120),
			UnpaidOrderMinutes:  getEnvAsInt("UNPAID_ORDER_MINUTES", 20),
			StaleOrderDays:      getEnvAsInt("STALE_ORDER_DAYS", 7),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Crypto.WebhookSecret == "" && c.Environment == "production" {
		return fmt.Errorf("webhook secret is required in production")
	}

	if c.Crypto.MasterSeed == "" && c.Environment == "production" {
		return fmt.Errorf("wallet master seed is required in production")
	}

	return nil
}

// DSN renders the Postgres connection string for gorm.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsIntMap parses "KEY1=1,KEY2=12" style values.
func getEnvAsIntMap(key string) map[string]int {
	result := make(map[string]int)
	value := os.Getenv(key)
	if value == "" {
		return result
	}

	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if intValue, err := strconv.Atoi(parts[1]); err == nil {
			result[parts[0]] = intValue
		}
	}

	return result
}
