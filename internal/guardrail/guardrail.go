// Package guardrail tracks accumulated risk exposure and gates every trade.
// This is the GATEKEEPER - no order is submitted without its approval.
package guardrail

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// autoKillswitchLoss is the fixed daily-loss magnitude at which close
// accounting trips the killswitch on its own. Intentionally separate from
// the configurable daily-loss cap used pre-trade.
var autoKillswitchLoss = decimal.NewFromInt(50)

// Config holds the risk limits enforced before every trade.
type Config struct {
	TradingEnabled   bool
	MaxOrderCost     decimal.Decimal // cap per order
	MaxPositionSize  decimal.Decimal // cap on total open exposure
	DailyLossLimit   decimal.Decimal // stop trading past this daily loss
	MaxTradesPerHour int
}

// Position is an open position, immutable once created. Keyed by window ID.
type Position struct {
	WindowID   string
	TokenID    string
	Outcome    string
	EntryPrice decimal.Decimal
	Size       decimal.Decimal
	CostBasis  decimal.Decimal
	EntryTime  time.Time
}

// Decision is the result of a pre-trade check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Snapshot is a read-only copy of guardrail state handed to the strategy.
type Snapshot struct {
	DailyPnL    decimal.Decimal
	DailyTrades int
	Exposure    decimal.Decimal
	Killswitch  bool
	Positions   map[string]Position
}

// Guardrails is the in-memory risk tracker. Explicitly constructed and passed
// by reference; no ambient singletons, so tests can build and reset it freely.
type Guardrails struct {
	mu sync.Mutex

	cfg Config

	dailyPnL    decimal.Decimal
	dailyTrades int
	hourlyTimes []time.Time
	exposure    decimal.Decimal
	positions   map[string]Position
	killswitch  bool
	lastReset   string // UTC day marker, "2006-01-02"

	now func() time.Time // injectable clock for tests
}

// New creates guardrails with the given limits.
func New(cfg Config) *Guardrails {
	return &Guardrails{
		cfg:       cfg,
		positions: make(map[string]Position),
		lastReset: time.Now().UTC().Format("2006-01-02"),
		now:       time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (g *Guardrails) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// CheckPreTrade decides whether an order of the given cost may be placed.
// Checks run in strict order and short-circuit on the first denial.
func (g *Guardrails) CheckPreTrade(orderCost decimal.Decimal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()
	g.pruneHourlyLocked()

	if g.killswitch {
		return Decision{Reason: "killswitch active"}
	}
	if !g.cfg.TradingEnabled {
		return Decision{Reason: "trading disabled"}
	}
	if orderCost.GreaterThan(g.cfg.MaxOrderCost) {
		return Decision{Reason: "order cost exceeds per-order cap"}
	}
	if g.exposure.Add(orderCost).GreaterThan(g.cfg.MaxPositionSize) {
		return Decision{Reason: "max position exposure reached"}
	}
	if g.dailyPnL.IsNegative() && g.dailyPnL.Abs().GreaterThanOrEqual(g.cfg.DailyLossLimit) {
		return Decision{Reason: "daily loss limit reached"}
	}
	if len(g.hourlyTimes) >= g.cfg.MaxTradesPerHour {
		return Decision{Reason: "hourly trade limit reached"}
	}

	return Decision{Allowed: true}
}

// RecordTrade books a freshly opened position.
func (g *Guardrails) RecordTrade(pos Position) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.hourlyTimes = append(g.hourlyTimes, g.now())
	g.dailyTrades++
	g.exposure = g.exposure.Add(pos.CostBasis)
	g.positions[pos.WindowID] = pos

	log.Info().
		Str("window", pos.WindowID).
		Str("outcome", pos.Outcome).
		Str("cost", pos.CostBasis.StringFixed(2)).
		Str("exposure", g.exposure.StringFixed(2)).
		Int("daily_trades", g.dailyTrades).
		Msg("📒 Position recorded")
}

// RecordClose settles the position for windowKey against the realized
// proceeds and updates daily P&L. A deep enough daily loss trips the
// killswitch.
func (g *Guardrails) RecordClose(windowKey string, proceeds decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[windowKey]
	if !ok {
		return
	}

	pnl := proceeds.Sub(pos.CostBasis)
	g.dailyPnL = g.dailyPnL.Add(pnl)
	g.exposure = g.exposure.Sub(pos.CostBasis)
	delete(g.positions, windowKey)

	log.Info().
		Str("window", windowKey).
		Str("pnl", pnl.StringFixed(2)).
		Str("daily_pnl", g.dailyPnL.StringFixed(2)).
		Msg("💰 Position closed")

	if g.dailyPnL.IsNegative() && g.dailyPnL.Abs().GreaterThanOrEqual(autoKillswitchLoss) {
		g.killswitch = true
		log.Warn().
			Str("daily_pnl", g.dailyPnL.StringFixed(2)).
			Msg("🚨 KILLSWITCH tripped by daily loss")
	}
}

// ActivateKillswitch halts all new trades until ResetKillswitch.
func (g *Guardrails) ActivateKillswitch(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.killswitch = true
	log.Warn().Str("reason", reason).Msg("🚨 KILLSWITCH activated")
}

// ResetKillswitch clears the killswitch. This is the only way to clear it;
// the daily reset never does.
func (g *Guardrails) ResetKillswitch() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.killswitch = false
	log.Info().Msg("✅ Killswitch reset")
}

// Position returns the open position for windowID, if any.
func (g *Guardrails) Position(windowID string) (Position, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[windowID]
	return pos, ok
}

// Snapshot returns a read-only copy of current state.
func (g *Guardrails) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	positions := make(map[string]Position, len(g.positions))
	for k, v := range g.positions {
		positions[k] = v
	}
	return Snapshot{
		DailyPnL:    g.dailyPnL,
		DailyTrades: g.dailyTrades,
		Exposure:    g.exposure,
		Killswitch:  g.killswitch,
		Positions:   positions,
	}
}

// rolloverLocked resets daily counters on a UTC day change. Open positions,
// exposure and the killswitch survive the rollover.
func (g *Guardrails) rolloverLocked() {
	today := g.now().UTC().Format("2006-01-02")
	if today == g.lastReset {
		return
	}
	log.Info().Str("day", today).Msg("📅 New trading day - resetting limits")
	g.dailyPnL = decimal.Zero
	g.dailyTrades = 0
	g.hourlyTimes = nil
	g.lastReset = today
}

// pruneHourlyLocked drops trade timestamps older than one hour.
func (g *Guardrails) pruneHourlyLocked() {
	cutoff := g.now().Add(-time.Hour)
	kept := g.hourlyTimes[:0]
	for _, ts := range g.hourlyTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.hourlyTimes = kept
}
