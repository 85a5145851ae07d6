package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"bot.yaml", "bot.json"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), name)

			cfg := Default()
			cfg.Safety.MaxTradesPerDay = 7
			cfg.Scan.Instruments = []string{"EUR_USD"}
			require.NoError(t, cfg.SaveToFile(path))

			got, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, 7, got.Safety.MaxTradesPerDay)
			assert.Equal(t, []string{"EUR_USD"}, got.Scan.Instruments)
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bot.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("safety:\n  max_risk_per_trad: 0.5\n"), 0o600))
	_, err := LoadFromFile(yamlPath)
	assert.Error(t, err)

	jsonPath := filepath.Join(dir, "bot.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"bogus": 1}`), 0o600))
	_, err = LoadFromFile(jsonPath)
	assert.Error(t, err)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("safety:\n  max_concurrent_trades: 1\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Safety.MaxConcurrentTrades)
	assert.Equal(t, 0.02, cfg.Safety.MaxRiskPerTrade)
	assert.Equal(t, 15*time.Second, cfg.Reconcile.Every())
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("AUTOTRADER_TEST_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("webhook:\n  secret: ${AUTOTRADER_TEST_SECRET}\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing currency", func(c *Config) { c.Account.Currency = "" }},
		{"bad timezone", func(c *Config) { c.Account.Timezone = "Mars/Olympus" }},
		{"risk per trade zero", func(c *Config) { c.Safety.MaxRiskPerTrade = 0 }},
		{"risk per trade above daily", func(c *Config) { c.Safety.MaxRiskPerTrade = 0.1 }},
		{"warning above max drawdown", func(c *Config) { c.Safety.WarningDrawdown = 0.06 }},
		{"zero concurrent", func(c *Config) { c.Safety.MaxConcurrentTrades = 0 }},
		{"confidence boost overflow", func(c *Config) { c.Safety.ThrottleConfidenceBoost = 0.5 }},
		{"min lots below increment", func(c *Config) { c.Sizing.MinLots = 0.001 }},
		{"max below min", func(c *Config) { c.Sizing.MaxLots = 0.001 }},
		{"unknown broker", func(c *Config) { c.Broker.Type = "ib" }},
		{"oanda without token", func(c *Config) { c.Broker.Type = "oanda" }},
		{"bad timeout", func(c *Config) { c.Broker.CallTimeout = "soon" }},
		{"zero attempts", func(c *Config) { c.Broker.Retry.MaxAttempts = 0 }},
		{"unknown scorer", func(c *Config) { c.Execution.Scorer = "oracle" }},
		{"scan unknown instrument", func(c *Config) {
			c.Scan.Enabled = true
			c.Scan.Instruments = []string{"XAU_XAG"}
		}},
		{"scan unknown strategy", func(c *Config) {
			c.Scan.Enabled = true
			c.Scan.Strategy = "martingale"
		}},
		{"negative grace", func(c *Config) { c.Reconcile.OrphanGrace = "-1s" }},
		{"sqlite without path", func(c *Config) { c.Journal.DBPath = "" }},
		{"csv without path", func(c *Config) { c.Journal.Type = "csv" }},
		{"no stats dir", func(c *Config) { c.Stats.Dir = "" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAccountLocation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.UTC, AccountConfig{}.Location())
	loc := AccountConfig{Timezone: "America/New_York"}.Location()
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoadDotenv(t *testing.T) {
	const key = "AUTOTRADER_DOTENV_TOKEN"
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(key+"=from-dotenv\n"), 0o600))
	require.NoError(t, LoadDotenv(envPath))
	assert.Equal(t, "from-dotenv", os.Getenv(key))

	cfgPath := filepath.Join(dir, "bot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("broker:\n  token: ${"+key+"}\n"), 0o600))
	cfg, err := LoadFromFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Broker.Token)

	assert.NoError(t, LoadDotenv(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadDotenv(""))
}
