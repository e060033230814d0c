// Quarterbot - automated trader for 15-minute up/down windows on Polymarket.
//
// Every tick it fetches the current window, decides enter/hold/exit against
// accumulated risk limits, and executes at most one order per window even
// across restarts (the JSONL ledger is the idempotency source of truth).
// A second, slower driver sweeps recent windows on-chain and redeems
// settlement tokens for collateral.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/quarterbot/internal/chain"
	"github.com/web3guy0/quarterbot/internal/clob"
	"github.com/web3guy0/quarterbot/internal/config"
	"github.com/web3guy0/quarterbot/internal/database"
	"github.com/web3guy0/quarterbot/internal/engine"
	"github.com/web3guy0/quarterbot/internal/executor"
	"github.com/web3guy0/quarterbot/internal/guardrail"
	"github.com/web3guy0/quarterbot/internal/ledger"
	"github.com/web3guy0/quarterbot/internal/market"
	"github.com/web3guy0/quarterbot/internal/notify"
	"github.com/web3guy0/quarterbot/internal/sweeper"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "DRY RUN"
	if !cfg.DryRun {
		mode = "LIVE"
	}
	log.Info().
		Str("version", version).
		Str("mode", mode).
		Str("asset", cfg.TradingAsset).
		Bool("trading_enabled", cfg.TradingEnabled).
		Msg("🚀 Quarterbot starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable state first: the ledger replay is what makes restarts safe.
	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trade ledger")
	}
	defer led.Close()
	log.Info().Str("path", cfg.LedgerPath).Int("records", led.Len()).Msg("📒 Ledger loaded")

	guard := guardrail.New(guardrail.Config{
		TradingEnabled:   cfg.TradingEnabled,
		MaxOrderCost:     cfg.MaxOrderCost,
		MaxPositionSize:  cfg.MaxPositionSize,
		DailyLossLimit:   cfg.DailyLossLimit,
		MaxTradesPerHour: cfg.MaxTradesPerHour,
	})

	// Market source: Gamma REST, with live CLOB prices overlaid when the
	// websocket connects.
	fetcher := market.NewFetcher(cfg.GammaAPIURL)
	stream := market.NewPriceStream()
	if err := stream.Connect(); err != nil {
		log.Warn().Err(err).Msg("⚠️ CLOB price stream unavailable, using Gamma quotes only")
	} else {
		fetcher.SetPriceStream(stream)
		defer stream.Stop()
	}

	// Order client only exists in live mode; dry-run never touches it.
	var orderClient executor.OrderClient
	if !cfg.DryRun {
		c, err := clob.NewClient(cfg.CLOBAPIURL, cfg.CLOBApiKey, cfg.CLOBApiSecret, cfg.CLOBPassphrase, cfg.FunderAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize order client")
		}
		orderClient = c
	}

	exec := executor.New(led, guard, orderClient, cfg.DryRun)

	// The sweeper needs chain credentials; without them only the trading
	// loop runs.
	var sweep *sweeper.Sweeper
	if cfg.PrivateKey != "" && cfg.FunderAddress != "" {
		chainClient, err := chain.Dial(ctx, cfg.RPCURL, cfg.PrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Polygon RPC")
		}
		defer chainClient.Close()

		sweep = sweeper.New(led, fetcher, chainClient, common.HexToAddress(cfg.FunderAddress), cfg.TradingAsset)
		log.Info().
			Str("signer", chainClient.Signer().Hex()).
			Str("funder", cfg.FunderAddress).
			Msg("⛓️ Chain client connected")
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Trade history database unavailable, continuing without it")
		db = nil
	}
	if sweep != nil && db != nil {
		sweep.SetHistory(db)
	}
	if db != nil {
		if pnl, err := db.GetTotalProfitLoss(); err == nil {
			open, _ := db.GetOpenTrades()
			log.Info().
				Str("total_pnl", pnl.StringFixed(2)).
				Int("open_trades", len(open)).
				Msg("📊 Trade history loaded")
		}
	}

	tg := notify.New(cfg.TelegramToken, cfg.TelegramChatID)

	eng := engine.New(cfg, fetcher, exec, guard, sweep, db, tg)
	eng.Run(ctx)

	log.Info().Msg("👋 Shutdown complete")
}
