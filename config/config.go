// Package config loads process configuration from the environment,
// plus the optional grids.json deployment file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gridflow/trader"
)

// Config is the process-level configuration
type Config struct {
	APIServerPort int

	ExchangeAPIKey    string
	ExchangeAPISecret string
	ExchangeTestnet   bool

	WebhookSecret string

	DBPath string // empty disables persistence

	TelegramToken  string
	TelegramChatID int64

	RateLimitPerSec float64
	OrderTimeoutSec int

	LogLevel  string
	LogFormat string

	GridsFile string
}

// Load reads the configuration from environment variables
func Load() *Config {
	cfg := &Config{
		APIServerPort:   8000,
		RateLimitPerSec: 10,
		OrderTimeoutSec: 30,
		LogLevel:        "info",
		LogFormat:       "text",
		DBPath:          "data/gridflow.db",
		GridsFile:       "grids.json",
	}

	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIServerPort = port
		}
	}
	cfg.ExchangeAPIKey = strings.TrimSpace(os.Getenv("EXCHANGE_API_KEY"))
	cfg.ExchangeAPISecret = strings.TrimSpace(os.Getenv("EXCHANGE_API_SECRET"))
	if v := os.Getenv("EXCHANGE_TESTNET"); v != "" {
		cfg.ExchangeTestnet = strings.EqualFold(v, "true") || v == "1"
	}
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.DBPath = v // explicit empty value disables persistence
	}
	if v := os.Getenv("STORE_DISABLED"); strings.EqualFold(v, "true") || v == "1" {
		cfg.DBPath = ""
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}

	if v := os.Getenv("RATE_LIMIT_PER_SEC"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			cfg.RateLimitPerSec = r
		}
	}
	if v := os.Getenv("ORDER_TIMEOUT_SEC"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t > 0 {
			cfg.OrderTimeoutSec = t
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("GRIDS_FILE"); v != "" {
		cfg.GridsFile = v
	}

	return cfg
}

// HasExchangeKeys reports whether production exchange credentials are
// configured; without them the mock exchange is used.
func (c *Config) HasExchangeKeys() bool {
	return c.ExchangeAPIKey != "" && c.ExchangeAPISecret != ""
}

// DefaultGrids is the deployment set used when no grids.json exists
func DefaultGrids() []trader.GridParams {
	return []trader.GridParams{
		{
			Symbol: "BTCUSDT", LowerPrice: 95500, UpperPrice: 99000,
			GridCount: 12, TotalInvestment: 25000, StopLoss: 94800,
		},
		{
			Symbol: "MNTUSDT", LowerPrice: 1.04, UpperPrice: 1.12,
			GridCount: 15, TotalInvestment: 6000, StopLoss: 1.015,
		},
		{
			Symbol: "DOGEUSDT", LowerPrice: 0.129, UpperPrice: 0.145,
			GridCount: 18, TotalInvestment: 1500, StopLoss: 0.120,
		},
		{
			Symbol: "PEPEUSDT", LowerPrice: 0.00000416, UpperPrice: 0.00000479,
			GridCount: 24, TotalInvestment: 1500, StopLoss: 0.00000395,
			BTCFilterEnabled: true,
		},
	}
}

// LoadGrids reads grid deployments from path, falling back to the
// defaults when the file does not exist.
func LoadGrids(path string) ([]trader.GridParams, error) {
	if path == "" {
		return DefaultGrids(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGrids(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var grids []trader.GridParams
	if err := json.Unmarshal(data, &grids); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, g := range grids {
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("invalid grid config for %s: %w", g.Symbol, err)
		}
	}
	return grids, nil
}
