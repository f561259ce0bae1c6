package config

import (
	"testing"
	"time"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "cctp_session", cfg.Session.CookieName)
	assert.Equal(t, 2*time.Second, cfg.Polling.Attestation.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Polling.Attestation.Interval)
	assert.Equal(t, 30, cfg.Polling.Attestation.MaxAttempts)
	assert.Equal(t, uint32(1000), cfg.CCTP.MinFinalityThreshold)
	assert.Equal(t, int64(5000), cfg.CCTP.MaxFeeDivisor)

	reg := entities.NewChainRegistry(cfg.CCTP.Chains)
	require.Len(t, reg, 7)
	base, ok := reg.Lookup("BASE-SEPOLIA")
	require.True(t, ok)
	assert.Equal(t, uint32(6), base.Domain)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", base.USDC)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("CIRCLE_API_KEY", "TEST_API_KEY:abc:def")
	t.Setenv("API_KEY", "ignored")
	t.Setenv("ENTITY_SECRET", "00ff")
	t.Setenv("WALLET_SET_ID", "ws-123")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "TEST_API_KEY:abc:def", cfg.Circle.APIKey)
	assert.Equal(t, "00ff", cfg.Circle.EntitySecret)
	assert.Equal(t, "ws-123", cfg.Circle.WalletSetID)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Session.Store)
}

func TestLoad_RequiresCredentialsOutsideTest(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("CIRCLE_API_KEY", "")
	t.Setenv("API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circle api key is required")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "test",
			CCTP: CCTPConfig{
				Chains:        entities.DefaultTestnetChains(),
				MaxFeeDivisor: 5000,
			},
			Polling: PollingConfig{
				Transaction: TransactionPolling{MaxAttempts: 1},
				Attestation: AttestationPolling{MaxAttempts: 30},
			},
			Session: SessionConfig{Store: "memory"},
		}
	}

	require.NoError(t, validate(valid()))

	t.Run("bad chain address", func(t *testing.T) {
		cfg := valid()
		cfg.CCTP.Chains = map[string]entities.ChainConfig{
			"eth-sepolia": {USDC: "not-an-address", TokenMessenger: entities.TestnetTokenMessengerV2, MessageTransmitter: entities.TestnetMessageTransmitterV2},
		}
		assert.ErrorContains(t, validate(cfg), "usdc")
	})

	t.Run("zero attempts", func(t *testing.T) {
		cfg := valid()
		cfg.Polling.Attestation.MaxAttempts = 0
		assert.Error(t, validate(cfg))
	})

	t.Run("unknown store", func(t *testing.T) {
		cfg := valid()
		cfg.Session.Store = "file"
		assert.Error(t, validate(cfg))
	})
}
