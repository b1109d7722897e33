package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fanzcored.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_address = ":9090"

[processors.ccbill]
endpoint = "https://api.ccbill.example"
api_key = "key"
secret = "s3cr3t"
webhook_secret = "wh-secret"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.ListenAddress)
	// Everything else falls back to the shipped defaults.
	require.Equal(t, int64(50_000), cfg.Limits.MaxTransactionAmount)
	require.Equal(t, int64(500), cfg.Fees.PlatformFeeRateBps)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 300, cfg.Webhooks.ToleranceSeconds)
	require.Equal(t, 0.5, cfg.Circuit.ErrorRatio)
	require.Equal(t, 10, cfg.Circuit.MinRequests)
	require.Contains(t, cfg.Processors, "ccbill")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
listen_address = ":9090"
max_transaction_dollars = 500
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown keys")
}

func TestLoadRejectsMissingWebhookSecret(t *testing.T) {
	path := writeConfig(t, `
[processors.segpay]
endpoint = "https://api.segpay.example"
api_key = "key"
secret = "s3cr3t"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "webhook_secret")
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted limits", func(c *Config) {
			c.Limits.MinTransactionAmount = 100
			c.Limits.MaxTransactionAmount = 50
		}},
		{"negative high water", func(c *Config) { c.Limits.ApprovalHighWater = -1 }},
		{"platform fee too high", func(c *Config) { c.Fees.PlatformFeeRateBps = 10_000 }},
		{"zero retries", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"breaker ratio", func(c *Config) { c.Circuit.ErrorRatio = 1.5 }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.toml")
	require.NoError(t, WriteDefault(path))
	require.Error(t, WriteDefault(path), "must refuse to clobber")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().Limits, cfg.Limits)
	require.Equal(t, Default().Payouts.Minimums, cfg.Payouts.Minimums)
}
