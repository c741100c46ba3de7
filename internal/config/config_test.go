package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "OWNER_ADDRESS", "0x1234567890123456789012345678901234567890")
	setEnv(t, "PORT", "9090")
	setEnv(t, "FEE_PERCENT", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, uint64(7), cfg.FeePercent)
	assert.Equal(t, uint64(DefaultMaxEscrowTTL), cfg.MaxEscrowTTL)
	assert.Equal(t, DefaultDenom, cfg.DefaultDenom)
	assert.Equal(t, int64(DefaultBlockInterval), cfg.BlockInterval)
	assert.True(t, cfg.FreezeBlocksSettlement)
}

func TestLoad_MissingOwner(t *testing.T) {
	setEnv(t, "OWNER_ADDRESS", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "OWNER_ADDRESS is required")
}

func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	setEnv(t, "OWNER_ADDRESS", "0x1234567890123456789012345678901234567890")
	setEnv(t, "FEE_PERCENT", "lots")
	setEnv(t, "MAX_ESCROW_TTL", "-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultFeePercent), cfg.FeePercent)
	assert.Equal(t, uint64(DefaultMaxEscrowTTL), cfg.MaxEscrowTTL)
}

func TestConfig_Validate(t *testing.T) {
	owner := "0x1234567890123456789012345678901234567890"

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "valid config",
			config:  Config{OwnerAddress: owner, FeePercent: 10, MaxEscrowTTL: 50, BlockInterval: 12},
			wantErr: "",
		},
		{
			name:    "missing owner",
			config:  Config{FeePercent: 10, MaxEscrowTTL: 50, BlockInterval: 12},
			wantErr: "OWNER_ADDRESS is required",
		},
		{
			name:    "fee percent over 100",
			config:  Config{OwnerAddress: owner, FeePercent: 101, MaxEscrowTTL: 50, BlockInterval: 12},
			wantErr: "FEE_PERCENT must be between 0 and 100",
		},
		{
			name:    "zero ttl",
			config:  Config{OwnerAddress: owner, FeePercent: 10, MaxEscrowTTL: 0, BlockInterval: 12},
			wantErr: "MAX_ESCROW_TTL must be at least 1 block",
		},
		{
			name:    "zero block interval",
			config:  Config{OwnerAddress: owner, FeePercent: 10, MaxEscrowTTL: 50, BlockInterval: 0},
			wantErr: "BLOCK_INTERVAL must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}
