package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "UPSTREAM_BASE_URL", "DERIBIT_CLIENT_ID", "DERIBIT_CLIENT_SECRET",
	"UPSTREAM_TIMEOUT", "ORDERBOOK_TIMEOUT", "ORDER_TIMEOUT", "TOKEN_TTL",
	"ORDERBOOK_DEPTH", "ORDERBOOK_INTERVAL", "POSITION_CURRENCIES", "POSITION_KINDS",
	"OPEN_ORDERS_CURRENCY", "OPEN_ORDERS_INTERVAL", "WS_SEND_BUFFER", "GATEWAY_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9002", cfg.Port)
	assert.Equal(t, "https://test.deribit.com", cfg.UpstreamBaseURL)
	assert.Equal(t, 20, cfg.OrderBookDepth)
	assert.Equal(t, 25*time.Millisecond, cfg.OrderBookInterval)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.PositionCurrencies)
	assert.Equal(t, []string{"future", "option"}, cfg.PositionKinds)
	assert.Equal(t, 10*time.Second, cfg.OpenOrdersInterval)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 256, cfg.WSSendBuffer)
	assert.False(t, cfg.HasCredentials())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	clearEnv(t)
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9100"
orderbook_depth: 50
orderbook_interval: 100ms
position_currencies: [BTC]
open_orders_currency: ETH
`), 0o600))

	t.Setenv("GATEWAY_CONFIG", path)
	t.Setenv("PORT", "9200")
	t.Setenv("POSITION_KINDS", " future , ,spot ")
	t.Setenv("DERIBIT_CLIENT_ID", "id")
	t.Setenv("DERIBIT_CLIENT_SECRET", "secret")
	t.Setenv("ORDER_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9200", cfg.Port)
	assert.Equal(t, 50, cfg.OrderBookDepth)
	assert.Equal(t, 100*time.Millisecond, cfg.OrderBookInterval)
	assert.Equal(t, []string{"BTC"}, cfg.PositionCurrencies)
	assert.Equal(t, []string{"future", "spot"}, cfg.PositionKinds)
	assert.Equal(t, "ETH", cfg.OpenOrdersCurrency)
	assert.Equal(t, 20*time.Second, cfg.OrderTimeout)
	assert.True(t, cfg.HasCredentials())
}

func TestLoadMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	clearEnv(t)
	t.Setenv("GATEWAY_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT"},
		{"zero interval", func(c *Config) { c.OrderBookInterval = 0 }, "ORDERBOOK_INTERVAL"},
		{"zero depth", func(c *Config) { c.OrderBookDepth = 0 }, "ORDERBOOK_DEPTH"},
		{"no kinds", func(c *Config) { c.PositionKinds = nil }, "POSITION_KINDS"},
		{"negative rate", func(c *Config) { c.UpstreamRateLimit = -1 }, "rate limits"},
		{"no buffer", func(c *Config) { c.WSSendBuffer = 0 }, "WS_SEND_BUFFER"},
		{"unknown instrument kind", func(c *Config) { c.InstrumentKind = "perpetual" }, `INSTRUMENT_KIND "perpetual"`},
		{"unknown position kind", func(c *Config) { c.PositionKinds = []string{"future", "swap"} }, `POSITION_KINDS entry "swap"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestValidateListsProblemsInStableOrder(t *testing.T) {
	cfg := Default()
	cfg.UpstreamTimeout = 0
	cfg.OrderTimeout = 0
	cfg.TokenTTL = 0
	cfg.OpenOrdersInterval = 0

	want := "invalid configuration: UPSTREAM_TIMEOUT must be positive; ORDER_TIMEOUT must be positive; " +
		"TOKEN_TTL must be positive; OPEN_ORDERS_INTERVAL must be positive"
	for i := 0; i < 20; i++ {
		err := cfg.Validate()
		require.Error(t, err)
		assert.Equal(t, want, err.Error())
	}
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a,,b ,"))
	assert.Empty(t, splitAndTrim(" , "))
}
