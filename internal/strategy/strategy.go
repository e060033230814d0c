// Package strategy decides what to do with a window market.
//
// Evaluate is a pure function of (market snapshot, guardrail snapshot,
// params): no clocks beyond the passed-in now, no I/O, no side effects.
// The executor owns everything stateful.
package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/quarterbot/internal/guardrail"
	"github.com/web3guy0/quarterbot/internal/market"
)

// Action is the decision variant. NO decision is implicit: WAIT and HOLD are
// explicit outcomes with reasons, not absence of a signal.
type Action string

const (
	ActionWait Action = "WAIT"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is the single output format for all decisions. Outcome, Size and
// Price are meaningful only for BUY and SELL.
type Signal struct {
	Action  Action
	Reason  string
	Outcome market.Outcome
	Size    decimal.Decimal
	Price   decimal.Decimal
}

// Params are the externally supplied thresholds. The bot computes no pricing
// model of its own.
type Params struct {
	MinEntryPrice  decimal.Decimal
	MaxOrderCost   decimal.Decimal
	EntryWindowMin time.Duration   // minimum time remaining to enter
	EntryWindowMax time.Duration   // maximum time remaining to enter
	TakeProfit     decimal.Decimal // unrealized gain fraction triggering exit
}

// nearExpiryGain is the unrealized gain above which a position is sold in
// the final minute rather than held to resolution.
var nearExpiryGain = decimal.NewFromFloat(0.10)

// Evaluate returns the trade signal for the current cycle. If a position is
// open for this window it evaluates exit, otherwise entry.
func Evaluate(snap *market.Snapshot, guard guardrail.Snapshot, p Params, now time.Time) Signal {
	if pos, ok := guard.Positions[snap.WindowID]; ok {
		return evaluateExit(snap, pos, p, now)
	}
	return evaluateEntry(snap, p, now)
}

func evaluateEntry(snap *market.Snapshot, p Params, now time.Time) Signal {
	if snap.Closed {
		return Signal{Action: ActionWait, Reason: "market closed"}
	}

	remaining := snap.Remaining(now)
	if remaining > p.EntryWindowMax {
		return Signal{Action: ActionWait, Reason: fmt.Sprintf("too early: %.1f min remaining", remaining.Minutes())}
	}
	if remaining < p.EntryWindowMin {
		return Signal{Action: ActionWait, Reason: fmt.Sprintf("too late: %.1f min remaining", remaining.Minutes())}
	}

	leader, ok := leadingOutcome(snap.Outcomes)
	if !ok {
		return Signal{Action: ActionWait, Reason: "no outcome prices"}
	}
	if leader.Price.LessThan(p.MinEntryPrice) {
		return Signal{Action: ActionWait, Reason: fmt.Sprintf("leader %s at %s below entry floor", leader.Label, leader.Price.StringFixed(2))}
	}

	size := p.MaxOrderCost.Div(leader.Price).Floor()
	if size.IsZero() {
		return Signal{Action: ActionWait, Reason: "order too small for price"}
	}

	return Signal{
		Action:  ActionBuy,
		Reason:  fmt.Sprintf("%s leading at %s", leader.Label, leader.Price.StringFixed(2)),
		Outcome: leader,
		Size:    size,
		Price:   leader.Price,
	}
}

func evaluateExit(snap *market.Snapshot, pos guardrail.Position, p Params, now time.Time) Signal {
	current, ok := snap.Outcome(pos.TokenID)
	if !ok {
		return Signal{Action: ActionHold, Reason: "held token missing from snapshot (stale data)"}
	}

	value := current.Price.Mul(pos.Size)
	if pos.CostBasis.IsZero() {
		return Signal{Action: ActionHold, Reason: "zero cost basis"}
	}
	gain := value.Sub(pos.CostBasis).Div(pos.CostBasis)

	sell := Signal{
		Action:  ActionSell,
		Outcome: current,
		Size:    pos.Size,
		Price:   current.Price,
	}

	if gain.GreaterThanOrEqual(p.TakeProfit) {
		sell.Reason = fmt.Sprintf("take-profit: gain %s", gain.StringFixed(2))
		return sell
	}
	if snap.Remaining(now) < time.Minute && gain.GreaterThan(nearExpiryGain) {
		sell.Reason = fmt.Sprintf("near-expiry profit lock: gain %s", gain.StringFixed(2))
		return sell
	}

	return Signal{Action: ActionHold, Reason: fmt.Sprintf("gain %s below take-profit", gain.StringFixed(2))}
}

// leadingOutcome returns the outcome with the strictly highest price. Ties
// resolve to the first encountered.
func leadingOutcome(outcomes []market.Outcome) (market.Outcome, bool) {
	if len(outcomes) == 0 {
		return market.Outcome{}, false
	}
	leader := outcomes[0]
	for _, o := range outcomes[1:] {
		if o.Price.GreaterThan(leader.Price) {
			leader = o
		}
	}
	return leader, true
}
