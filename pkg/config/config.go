package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trading-gateway/pkg/exchanges/common"
)

// Config holds the gateway settings. Precedence, lowest first: built-in
// defaults, the YAML file named by GATEWAY_CONFIG, environment variables
// (optionally loaded from .env).
type Config struct {
	Port string `yaml:"port"`

	// Upstream venue
	UpstreamBaseURL   string        `yaml:"upstream_base_url"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	UpstreamTimeout   time.Duration `yaml:"upstream_timeout"`
	OrderBookTimeout  time.Duration `yaml:"orderbook_timeout"`
	OrderTimeout      time.Duration `yaml:"order_timeout"`
	UpstreamRateLimit float64       `yaml:"upstream_rate_limit"`
	UpstreamRateBurst int           `yaml:"upstream_rate_burst"`
	TokenTTL          time.Duration `yaml:"token_ttl"`

	// Instruments
	InstrumentCurrency        string        `yaml:"instrument_currency"`
	InstrumentKind            string        `yaml:"instrument_kind"`
	InstrumentRefreshInterval time.Duration `yaml:"instrument_refresh_interval"`

	// Broadcast loops
	OrderBookDepth     int           `yaml:"orderbook_depth"`
	OrderBookInterval  time.Duration `yaml:"orderbook_interval"`
	PositionCurrencies []string      `yaml:"position_currencies"`
	PositionKinds      []string      `yaml:"position_kinds"`
	PositionsPairDelay time.Duration `yaml:"positions_pair_delay"`
	PositionsPassDelay time.Duration `yaml:"positions_pass_delay"`
	OpenOrdersCurrency string        `yaml:"open_orders_currency"`
	OpenOrdersInterval time.Duration `yaml:"open_orders_interval"`

	// Client websocket
	WSSendBuffer      int     `yaml:"ws_send_buffer"`
	WSMaxMessageBytes int64   `yaml:"ws_max_message_bytes"`
	WSUpgradeRate     float64 `yaml:"ws_upgrade_rate"`
	WSUpgradeBurst    int     `yaml:"ws_upgrade_burst"`

	// Optional client auth; empty leaves /ws open.
	JWTSecret string `yaml:"jwt_secret"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogOutput string `yaml:"log_output"`
	LogMaxAge int    `yaml:"log_max_age"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:                      "9002",
		UpstreamBaseURL:           "https://test.deribit.com",
		UpstreamTimeout:           5 * time.Second,
		OrderBookTimeout:          2 * time.Second,
		OrderTimeout:              20 * time.Second,
		UpstreamRateBurst:         50,
		TokenTTL:                  15 * time.Minute,
		InstrumentCurrency:        "BTC",
		InstrumentKind:            "future",
		OrderBookDepth:            20,
		OrderBookInterval:         25 * time.Millisecond,
		PositionCurrencies:        []string{"BTC", "ETH"},
		PositionKinds:             []string{"future", "option"},
		PositionsPairDelay:        100 * time.Millisecond,
		PositionsPassDelay:        time.Second,
		OpenOrdersCurrency:        "BTC",
		OpenOrdersInterval:        10 * time.Second,
		WSSendBuffer:              256,
		WSMaxMessageBytes:         65536,
		WSUpgradeRate:             20,
		WSUpgradeBurst:            50,
		LogLevel:                  "info",
		LogFormat:                 "json",
		LogOutput:                 "stdout",
		ShutdownTimeout:           5 * time.Second,
		InstrumentRefreshInterval: 0,
	}
}

// Load reads .env (if present), the optional YAML file and the environment.
func Load() (*Config, error) {
	// Ignore error so the gateway still starts when .env is missing.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)

	c.UpstreamBaseURL = getEnv("UPSTREAM_BASE_URL", c.UpstreamBaseURL)
	c.ClientID = getEnv("DERIBIT_CLIENT_ID", c.ClientID)
	c.ClientSecret = getEnv("DERIBIT_CLIENT_SECRET", c.ClientSecret)
	c.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", c.UpstreamTimeout)
	c.OrderBookTimeout = getEnvDuration("ORDERBOOK_TIMEOUT", c.OrderBookTimeout)
	c.OrderTimeout = getEnvDuration("ORDER_TIMEOUT", c.OrderTimeout)
	c.UpstreamRateLimit = getEnvFloat("UPSTREAM_RATE_LIMIT", c.UpstreamRateLimit)
	c.UpstreamRateBurst = getEnvInt("UPSTREAM_RATE_BURST", c.UpstreamRateBurst)
	c.TokenTTL = getEnvDuration("TOKEN_TTL", c.TokenTTL)

	c.InstrumentCurrency = getEnv("INSTRUMENT_CURRENCY", c.InstrumentCurrency)
	c.InstrumentKind = getEnv("INSTRUMENT_KIND", c.InstrumentKind)
	c.InstrumentRefreshInterval = getEnvDuration("INSTRUMENT_REFRESH_INTERVAL", c.InstrumentRefreshInterval)

	c.OrderBookDepth = getEnvInt("ORDERBOOK_DEPTH", c.OrderBookDepth)
	c.OrderBookInterval = getEnvDuration("ORDERBOOK_INTERVAL", c.OrderBookInterval)
	c.PositionCurrencies = getEnvList("POSITION_CURRENCIES", c.PositionCurrencies)
	c.PositionKinds = getEnvList("POSITION_KINDS", c.PositionKinds)
	c.PositionsPairDelay = getEnvDuration("POSITIONS_PAIR_DELAY", c.PositionsPairDelay)
	c.PositionsPassDelay = getEnvDuration("POSITIONS_PASS_DELAY", c.PositionsPassDelay)
	c.OpenOrdersCurrency = getEnv("OPEN_ORDERS_CURRENCY", c.OpenOrdersCurrency)
	c.OpenOrdersInterval = getEnvDuration("OPEN_ORDERS_INTERVAL", c.OpenOrdersInterval)

	c.WSSendBuffer = getEnvInt("WS_SEND_BUFFER", c.WSSendBuffer)
	c.WSMaxMessageBytes = int64(getEnvInt("WS_MAX_MESSAGE_BYTES", int(c.WSMaxMessageBytes)))
	c.WSUpgradeRate = getEnvFloat("WS_UPGRADE_RATE", c.WSUpgradeRate)
	c.WSUpgradeBurst = getEnvInt("WS_UPGRADE_BURST", c.WSUpgradeBurst)

	c.JWTSecret = getEnv("GATEWAY_JWT_SECRET", c.JWTSecret)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogOutput = getEnv("LOG_OUTPUT", c.LogOutput)
	c.LogMaxAge = getEnvInt("LOG_MAX_AGE", c.LogMaxAge)

	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate rejects settings the gateway cannot run with. Missing venue
// credentials are allowed: public data still flows and private calls report
// the auth failure per request.
func (c *Config) Validate() error {
	var problems []string
	if _, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("PORT %q is not a number", c.Port))
	}
	if c.UpstreamBaseURL == "" {
		problems = append(problems, "UPSTREAM_BASE_URL is empty")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"UPSTREAM_TIMEOUT", c.UpstreamTimeout},
		{"ORDERBOOK_TIMEOUT", c.OrderBookTimeout},
		{"ORDER_TIMEOUT", c.OrderTimeout},
		{"TOKEN_TTL", c.TokenTTL},
		{"ORDERBOOK_INTERVAL", c.OrderBookInterval},
		{"POSITIONS_PASS_DELAY", c.PositionsPassDelay},
		{"OPEN_ORDERS_INTERVAL", c.OpenOrdersInterval},
	} {
		if d.value <= 0 {
			problems = append(problems, d.name+" must be positive")
		}
	}
	if c.PositionsPairDelay < 0 || c.InstrumentRefreshInterval < 0 || c.ShutdownTimeout < 0 {
		problems = append(problems, "delays must not be negative")
	}
	if c.OrderBookDepth <= 0 {
		problems = append(problems, "ORDERBOOK_DEPTH must be positive")
	}
	if len(c.PositionCurrencies) == 0 || len(c.PositionKinds) == 0 {
		problems = append(problems, "POSITION_CURRENCIES and POSITION_KINDS must not be empty")
	}
	if !common.Kind(c.InstrumentKind).Valid() {
		problems = append(problems, fmt.Sprintf("INSTRUMENT_KIND %q is not a known instrument kind", c.InstrumentKind))
	}
	for _, k := range c.PositionKinds {
		if !common.Kind(k).Valid() {
			problems = append(problems, fmt.Sprintf("POSITION_KINDS entry %q is not a known instrument kind", k))
		}
	}
	if c.WSSendBuffer <= 0 {
		problems = append(problems, "WS_SEND_BUFFER must be positive")
	}
	if c.WSMaxMessageBytes <= 0 {
		problems = append(problems, "WS_MAX_MESSAGE_BYTES must be positive")
	}
	if c.UpstreamRateLimit < 0 || c.WSUpgradeRate < 0 {
		problems = append(problems, "rate limits must not be negative")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// HasCredentials reports whether private venue calls can authenticate.
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		if parts := splitAndTrim(v); len(parts) > 0 {
			return parts
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
