package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToDryRun(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.DryRun)
	require.False(t, cfg.TradingEnabled)
	require.Equal(t, "BTC", cfg.TradingAsset)
	require.True(t, cfg.MaxOrderCost.Equal(decimal.NewFromInt(10)))
	require.True(t, cfg.MinEntryPrice.Equal(decimal.NewFromFloat(0.60)))
	require.Equal(t, 5*time.Minute, cfg.EntryWindowMin)
	require.Equal(t, 10*time.Minute, cfg.EntryWindowMax)
	require.Equal(t, 30*time.Second, cfg.TickInterval)
	require.Equal(t, 30*time.Minute, cfg.SweepInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_ORDER_COST", "2.5")
	t.Setenv("TICK_INTERVAL", "10s")
	t.Setenv("TRADING_ASSET", "ETH")
	t.Setenv("MAX_TRADES_PER_HOUR", "3")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.MaxOrderCost.Equal(decimal.NewFromFloat(2.5)))
	require.Equal(t, 10*time.Second, cfg.TickInterval)
	require.Equal(t, "ETH", cfg.TradingAsset)
	require.Equal(t, 3, cfg.MaxTradesPerHour)
}

func TestLoadRejectsInvertedEntryWindow(t *testing.T) {
	t.Setenv("ENTRY_WINDOW_MIN_MIN", "12")
	t.Setenv("ENTRY_WINDOW_MAX_MIN", "5")

	_, err := Load()
	require.Error(t, err)
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	t.Setenv("DRY_RUN", "false")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PRIVATE_KEY")
}

func TestLiveModeRejectsPlaceholderCredentials(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("PRIVATE_KEY", "your-private-key-here")
	t.Setenv("FUNDER_ADDRESS", "0xabc")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "PRIVATE_KEY")
}

func TestLiveModeAcceptsRealCredentials(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("FUNDER_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("CLOB_API_KEY", "key")
	t.Setenv("CLOB_API_SECRET", "secret")
	t.Setenv("CLOB_PASSPHRASE", "pass")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.DryRun)
}

func TestInvalidTelegramChatID(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
