package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Mode
	TradingEnabled bool
	DryRun         bool
	Debug          bool

	// Asset
	TradingAsset string

	// Risk limits
	MaxOrderCost     decimal.Decimal
	MaxPositionSize  decimal.Decimal
	DailyLossLimit   decimal.Decimal
	MaxTradesPerHour int

	// Entry / exit thresholds
	MinEntryPrice  decimal.Decimal
	EntryWindowMin time.Duration // minimum time remaining to enter
	EntryWindowMax time.Duration // maximum time remaining to enter
	TakeProfit     decimal.Decimal

	// Drivers
	TickInterval    time.Duration
	SweepInterval   time.Duration
	SweepStartDelay time.Duration

	// Endpoints
	GammaAPIURL string
	CLOBAPIURL  string
	RPCURL      string

	// CLOB credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Wallet
	PrivateKey    string
	FunderAddress string

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64

	// Storage
	LedgerPath   string
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		TradingEnabled: getEnvBool("TRADING_ENABLED", false),
		DryRun:         getEnvBool("DRY_RUN", true),
		Debug:          getEnvBool("DEBUG", false),

		TradingAsset: getEnv("TRADING_ASSET", "BTC"),

		MaxOrderCost:     getEnvDecimal("MAX_ORDER_COST", decimal.NewFromFloat(10)),
		MaxPositionSize:  getEnvDecimal("MAX_POSITION_SIZE", decimal.NewFromFloat(50)),
		DailyLossLimit:   getEnvDecimal("DAILY_LOSS_LIMIT", decimal.NewFromFloat(25)),
		MaxTradesPerHour: getEnvInt("MAX_TRADES_PER_HOUR", 6),

		MinEntryPrice:  getEnvDecimal("MIN_ENTRY_PRICE", decimal.NewFromFloat(0.60)),
		EntryWindowMin: time.Duration(getEnvInt("ENTRY_WINDOW_MIN_MIN", 5)) * time.Minute,
		EntryWindowMax: time.Duration(getEnvInt("ENTRY_WINDOW_MAX_MIN", 10)) * time.Minute,
		TakeProfit:     getEnvDecimal("TAKE_PROFIT_PCT", decimal.NewFromFloat(0.80)),

		TickInterval:    getEnvDuration("TICK_INTERVAL", 30*time.Second),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 30*time.Minute),
		SweepStartDelay: getEnvDuration("SWEEP_START_DELAY", 45*time.Second),

		GammaAPIURL: getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		CLOBAPIURL:  getEnv("CLOB_API_URL", "https://clob.polymarket.com"),
		RPCURL:      getEnv("POLYGON_RPC_URL", "https://polygon-rpc.com"),

		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		PrivateKey:    os.Getenv("PRIVATE_KEY"),
		FunderAddress: os.Getenv("FUNDER_ADDRESS"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		LedgerPath:   getEnv("LEDGER_PATH", "data/ledger.jsonl"),
		DatabasePath: getEnv("DATABASE_PATH", "data/quarterbot.db"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects configurations that cannot run. Live trading needs real
// credentials; dry-run needs none.
func (c *Config) validate() error {
	if c.EntryWindowMin > c.EntryWindowMax {
		return fmt.Errorf("ENTRY_WINDOW_MIN_MIN exceeds ENTRY_WINDOW_MAX_MIN")
	}
	if c.DryRun {
		return nil
	}

	if isPlaceholder(c.PrivateKey) {
		return fmt.Errorf("PRIVATE_KEY is required for live trading")
	}
	if isPlaceholder(c.FunderAddress) {
		return fmt.Errorf("FUNDER_ADDRESS is required for live trading")
	}
	if isPlaceholder(c.CLOBApiKey) || isPlaceholder(c.CLOBApiSecret) || isPlaceholder(c.CLOBPassphrase) {
		return fmt.Errorf("CLOB API credentials are required for live trading")
	}
	return nil
}

func isPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "" || strings.HasPrefix(v, "your-") || strings.HasPrefix(v, "changeme") || v == "0x0"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
