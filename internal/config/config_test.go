package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "APP_ENV", "PORT", "TRANSFER_MODE", "UNALLOCATED_POLICY",
		"REVENUE_PER_CREDIT", "MIN_PAYOUT", "PRICING_MODE", "REFERRER_BONUS", "REFERRED_BONUS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(8000), cfg.Revenue.PlatformBps)
	assert.Equal(t, 30*24*time.Hour, cfg.Revenue.TopWindow.Duration)
	assert.Equal(t, "retain", cfg.Revenue.UnallocatedPolicy)
	assert.Equal(t, int64(1000), cfg.Pricing.RevenuePerCreditCents)
	assert.Equal(t, int64(100), cfg.Payout.MinimumCents)
	assert.Equal(t, TransferModeSimulated, cfg.Payout.TransferMode)
	assert.Equal(t, int64(20), cfg.Referral.ReferrerBonus)
	assert.Equal(t, int64(10), cfg.Referral.ReferredBonus)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
revenue:
  unallocated_policy: platform
  top_window: 720h
payout:
  minimum: "2.50"
  transfer_timeout: 10s
`), 0o600))
	clearEnv(t)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port, "env wins over file")
	assert.Equal(t, "platform", cfg.Revenue.UnallocatedPolicy)
	assert.Equal(t, 720*time.Hour, cfg.Revenue.TopWindow.Duration)
	assert.Equal(t, int64(250), cfg.Payout.MinimumCents)
	assert.Equal(t, 10*time.Second, cfg.Payout.TransferTimeout.Duration)
}

func TestValidateRejectsBadSplit(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	cfg.Revenue.TopContributorBps = 1500
	assert.Error(t, cfg.Validate())
}

func TestValidateLiveNeedsKey(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	cfg.Payout.TransferMode = TransferModeLive
	assert.Error(t, cfg.Validate())
	cfg.Payout.TransferAPIKey = "sk_test_123"
	assert.NoError(t, cfg.Validate())
}

func TestValidateProductionSecrets(t *testing.T) {
	cfg := Config{Env: "production"}
	applyDefaults(&cfg)
	assert.Error(t, cfg.Validate())
	cfg.JWTSecret = "prod-secret"
	cfg.Webhook.Secret = "whsec_prod"
	assert.NoError(t, cfg.Validate())
}

func TestToCents(t *testing.T) {
	got, err := toCents("7.50")
	require.NoError(t, err)
	assert.Equal(t, int64(750), got)

	_, err = toCents("0.005")
	assert.Error(t, err)
	_, err = toCents("-1")
	assert.Error(t, err)
}
