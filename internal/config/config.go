// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Escrow settings
	OwnerAddress           string // Protocol owner, may claim fees and freeze the system
	FeePercent             uint64 // Protocol fee percentage applied to reported usage (0-100)
	MaxEscrowTTL           uint64 // Max blocks an escrow may stay open
	FreezeBlocksSettlement bool   // When frozen, also block release and expiry refunds
	DefaultDenom           string

	// Block height oracle
	RPCURL        string // Optional Ethereum RPC endpoint; simulated height if not set
	BlockInterval int64  // Seconds per simulated block when no RPC is configured

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultFeePercent    = 10
	DefaultMaxEscrowTTL  = 50
	DefaultDenom         = "untrn"
	DefaultBlockInterval = 12
	DefaultRateLimit     = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    getEnv("ENV", DefaultEnv),
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:            os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OwnerAddress:           os.Getenv("OWNER_ADDRESS"),
		FeePercent:             getEnvUint64("FEE_PERCENT", DefaultFeePercent),
		MaxEscrowTTL:           getEnvUint64("MAX_ESCROW_TTL", DefaultMaxEscrowTTL),
		FreezeBlocksSettlement: getEnvBool("FREEZE_BLOCKS_SETTLEMENT", true),
		DefaultDenom:           getEnv("DEFAULT_DENOM", DefaultDenom),
		RPCURL:                 os.Getenv("RPC_URL"),
		BlockInterval:          getEnvInt64("BLOCK_INTERVAL", DefaultBlockInterval),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:            os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:           int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OwnerAddress == "" {
		return fmt.Errorf("OWNER_ADDRESS is required")
	}

	if c.FeePercent > 100 {
		return fmt.Errorf("FEE_PERCENT must be between 0 and 100")
	}

	if c.MaxEscrowTTL == 0 {
		return fmt.Errorf("MAX_ESCROW_TTL must be at least 1 block")
	}

	if c.BlockInterval <= 0 {
		return fmt.Errorf("BLOCK_INTERVAL must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
