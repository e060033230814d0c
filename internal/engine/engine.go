// Package engine drives the decision and settlement loops.
//
// Two independent timers share one cancellation context: a short tick that
// evaluates the current window and executes signals, and a long interval
// that sweeps resolved windows on-chain. Neither loop runs its own callback
// concurrently with itself; the two may interleave arbitrarily with each
// other, and the ledger is the only state they share.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/quarterbot/internal/config"
	"github.com/web3guy0/quarterbot/internal/database"
	"github.com/web3guy0/quarterbot/internal/executor"
	"github.com/web3guy0/quarterbot/internal/guardrail"
	"github.com/web3guy0/quarterbot/internal/market"
	"github.com/web3guy0/quarterbot/internal/notify"
	"github.com/web3guy0/quarterbot/internal/strategy"
	"github.com/web3guy0/quarterbot/internal/sweeper"
)

// MarketSource fetches the current window's snapshot.
type MarketSource interface {
	FetchMarket(ctx context.Context, windowID string) (*market.Snapshot, error)
}

// Engine wires the tick-driven trading path and the sweep driver.
type Engine struct {
	cfg    *config.Config
	source MarketSource
	exec   *executor.Executor
	guard  *guardrail.Guardrails
	sweep  *sweeper.Sweeper // nil disables the sweep driver
	db     *database.Database
	tg     *notify.Telegram

	killswitchSeen bool
}

// New assembles the engine. db and tg may be nil; sweep may be nil when no
// chain credentials are configured.
func New(cfg *config.Config, source MarketSource, exec *executor.Executor, guard *guardrail.Guardrails, sweep *sweeper.Sweeper, db *database.Database, tg *notify.Telegram) *Engine {
	return &Engine{
		cfg:    cfg,
		source: source,
		exec:   exec,
		guard:  guard,
		sweep:  sweep,
		db:     db,
		tg:     tg,
	}
}

// Run blocks until ctx is cancelled, driving both loops.
func (e *Engine) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.sweepLoop(ctx)
		close(done)
	}()

	e.tickLoop(ctx)
	<-done
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", e.cfg.TickInterval).Msg("⏱️ Tick loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Tick loop stopped")
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle is one decision cycle: fetch, evaluate, execute. Every failure
// inside it is logged and absorbed; the loop always continues.
func (e *Engine) runCycle(ctx context.Context) {
	now := time.Now().UTC()
	windowID := market.WindowID(e.cfg.TradingAsset, now)

	snap, err := e.source.FetchMarket(ctx, windowID)
	if err != nil {
		if !errors.Is(err, market.ErrNotFound) {
			log.Warn().Err(err).Str("window", windowID).Msg("Snapshot fetch failed")
		}
		return
	}

	sig := strategy.Evaluate(snap, e.guard.Snapshot(), strategy.Params{
		MinEntryPrice:  e.cfg.MinEntryPrice,
		MaxOrderCost:   e.cfg.MaxOrderCost,
		EntryWindowMin: e.cfg.EntryWindowMin,
		EntryWindowMax: e.cfg.EntryWindowMax,
		TakeProfit:     e.cfg.TakeProfit,
	}, now)

	switch sig.Action {
	case strategy.ActionBuy:
		e.handleBuy(ctx, sig, snap)
	case strategy.ActionSell:
		e.handleSell(ctx, sig, snap)
	default:
		log.Debug().
			Str("window", windowID).
			Str("action", string(sig.Action)).
			Str("reason", sig.Reason).
			Msg("No trade this cycle")
	}

	e.alertOnKillswitch()
}

func (e *Engine) handleBuy(ctx context.Context, sig strategy.Signal, snap *market.Snapshot) {
	res := e.exec.ExecuteBuy(ctx, sig, snap)
	if !res.OK {
		log.Info().Str("window", snap.WindowID).Str("reason", res.Message).Msg("Buy not executed")
		return
	}

	cost := sig.Price.Mul(sig.Size)
	if e.db != nil {
		trade := &database.Trade{
			WindowID: snap.WindowID,
			Outcome:  sig.Outcome.Label,
			Side:     "BUY",
			Price:    sig.Price,
			Size:     sig.Size,
			Cost:     cost,
			OrderID:  res.OrderID,
			Status:   "open",
		}
		if err := e.db.SaveTrade(trade); err != nil {
			log.Warn().Err(err).Msg("Trade history save failed")
		}
	}
	e.tg.TradeOpened(snap.WindowID, sig.Outcome.Label, sig.Price, sig.Size, cost, e.cfg.DryRun)
}

func (e *Engine) handleSell(ctx context.Context, sig strategy.Signal, snap *market.Snapshot) {
	pos, held := e.guard.Position(snap.WindowID)

	res := e.exec.ExecuteSell(ctx, sig, snap)
	if !res.OK {
		log.Info().Str("window", snap.WindowID).Str("reason", res.Message).Msg("Sell not executed")
		return
	}

	if held {
		pnl := sig.Price.Mul(sig.Size).Sub(pos.CostBasis)
		if e.db != nil {
			if err := e.db.CloseTrade(snap.WindowID, pnl); err != nil {
				log.Warn().Err(err).Msg("Trade history close failed")
			}
		}
		e.tg.TradeClosed(snap.WindowID, pnl)
	}
}

// alertOnKillswitch sends one alert per killswitch transition.
func (e *Engine) alertOnKillswitch() {
	active := e.guard.Snapshot().Killswitch
	if active && !e.killswitchSeen {
		e.tg.KillswitchTripped("Trading halted by guardrails")
	}
	e.killswitchSeen = active
}

// sweepLoop fires a first sweep shortly after start, then recurs on the
// long interval, fully independent of the tick driver.
func (e *Engine) sweepLoop(ctx context.Context) {
	if e.sweep == nil {
		log.Info().Msg("Sweep driver disabled (no chain credentials)")
		return
	}

	log.Info().
		Dur("start_delay", e.cfg.SweepStartDelay).
		Dur("interval", e.cfg.SweepInterval).
		Msg("🧹 Sweep driver started")

	select {
	case <-ctx.Done():
		return
	case <-time.After(e.cfg.SweepStartDelay):
	}
	e.runSweep(ctx)

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sweep driver stopped")
			return
		case <-ticker.C:
			e.runSweep(ctx)
		}
	}
}

func (e *Engine) runSweep(ctx context.Context) {
	sum := e.sweep.RunSweep(ctx)
	e.tg.SweepComplete(sum.WindowsScanned, sum.Resolutions, sum.Redeemed)
}
