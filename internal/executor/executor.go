// Package executor turns BUY/SELL signals into orders, gated by the ledger
// and the guardrails.
//
// The ledger check in ExecuteBuy is the restart-safe idempotency boundary:
// a window that already has a buy fact is never acted on again, even after
// a crash. The check and the later append are not atomic as a pair; with a
// tick interval far above external-call latency this is best-effort
// idempotency, not a hard guarantee.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/quarterbot/internal/clob"
	"github.com/web3guy0/quarterbot/internal/guardrail"
	"github.com/web3guy0/quarterbot/internal/ledger"
	"github.com/web3guy0/quarterbot/internal/market"
	"github.com/web3guy0/quarterbot/internal/strategy"
)

// OrderClient is the one capability needed from the CLOB. nil means live
// trading is not available (dry-run never touches it).
type OrderClient interface {
	SubmitOrder(ctx context.Context, tokenID string, price, size decimal.Decimal, side string, tickSize decimal.Decimal, negRisk bool) (clob.OrderResponse, error)
}

// Result is the structured outcome of one execution attempt. Failures are
// values, never panics; the tick loop continues regardless.
type Result struct {
	OK      bool
	Message string
	OrderID string
}

// DryRunOrderPrefix marks simulated order identifiers in the ledger.
const DryRunOrderPrefix = "DRY_"

// allowedTickSizes are the price increments the CLOB accepts.
var allowedTickSizes = []decimal.Decimal{
	decimal.NewFromFloat(0.1),
	decimal.NewFromFloat(0.01),
	decimal.NewFromFloat(0.001),
	decimal.NewFromFloat(0.0001),
}

var fallbackTickSize = decimal.NewFromFloat(0.01)

// Executor orchestrates order placement against ledger and guardrails.
type Executor struct {
	ledger *ledger.Ledger
	guard  *guardrail.Guardrails
	client OrderClient
	dryRun bool
}

// New creates an executor. client may be nil in dry-run mode.
func New(l *ledger.Ledger, g *guardrail.Guardrails, client OrderClient, dryRun bool) *Executor {
	return &Executor{
		ledger: l,
		guard:  g,
		client: client,
		dryRun: dryRun,
	}
}

// ExecuteBuy places the order described by a BUY signal.
func (e *Executor) ExecuteBuy(ctx context.Context, sig strategy.Signal, snap *market.Snapshot) Result {
	// Idempotency gate first: no side effects for a window already acted on.
	if e.ledger.HasBuy(snap.WindowID) {
		return Result{Message: "already acted on this window"}
	}

	cost := sig.Price.Mul(sig.Size)
	if decision := e.guard.CheckPreTrade(cost); !decision.Allowed {
		return Result{Message: decision.Reason}
	}

	if e.dryRun {
		orderID := e.dryRunOrderID()
		log.Info().
			Str("window", snap.WindowID).
			Str("outcome", sig.Outcome.Label).
			Str("price", sig.Price.StringFixed(2)).
			Str("size", sig.Size.String()).
			Msg("🧪 DRY RUN: would buy")
		return e.recordBuy(sig, snap, cost, orderID)
	}

	if e.client == nil {
		return Result{Message: "order client not initialized"}
	}

	resp, err := e.client.SubmitOrder(ctx, sig.Outcome.TokenID, sig.Price, sig.Size, "BUY",
		normalizeTickSize(snap.TickSize), snap.NegRisk)
	if err != nil {
		e.checkBalanceError(err)
		return Result{Message: "order submission failed: " + err.Error()}
	}
	if resp.Status != clob.StatusMatched && resp.Status != clob.StatusLive {
		return Result{Message: "order not accepted: status " + resp.Status}
	}

	return e.recordBuy(sig, snap, cost, resp.OrderID)
}

// ExecuteSell closes the position described by a SELL signal. There is no
// ledger gate on sells; the guardrail's position-presence check upstream is
// the only guard against re-selling a closed position.
func (e *Executor) ExecuteSell(ctx context.Context, sig strategy.Signal, snap *market.Snapshot) Result {
	proceeds := sig.Price.Mul(sig.Size)

	if e.dryRun {
		log.Info().
			Str("window", snap.WindowID).
			Str("outcome", sig.Outcome.Label).
			Str("price", sig.Price.StringFixed(2)).
			Str("proceeds", proceeds.StringFixed(2)).
			Msg("🧪 DRY RUN: would sell")
		e.guard.RecordClose(snap.WindowID, proceeds)
		return Result{OK: true, OrderID: e.dryRunOrderID(), Message: sig.Reason}
	}

	if e.client == nil {
		return Result{Message: "order client not initialized"}
	}

	resp, err := e.client.SubmitOrder(ctx, sig.Outcome.TokenID, sig.Price, sig.Size, "SELL",
		normalizeTickSize(snap.TickSize), snap.NegRisk)
	if err != nil {
		e.checkBalanceError(err)
		return Result{Message: "order submission failed: " + err.Error()}
	}
	if resp.Status != clob.StatusMatched && resp.Status != clob.StatusLive {
		return Result{Message: "order not accepted: status " + resp.Status}
	}

	e.guard.RecordClose(snap.WindowID, proceeds)
	return Result{OK: true, OrderID: resp.OrderID, Message: sig.Reason}
}

func (e *Executor) recordBuy(sig strategy.Signal, snap *market.Snapshot, cost decimal.Decimal, orderID string) Result {
	e.guard.RecordTrade(guardrail.Position{
		WindowID:   snap.WindowID,
		TokenID:    sig.Outcome.TokenID,
		Outcome:    sig.Outcome.Label,
		EntryPrice: sig.Price,
		Size:       sig.Size,
		CostBasis:  cost,
		EntryTime:  time.Now().UTC(),
	})

	if err := e.ledger.Append(ledger.NewBuy(snap.WindowID, sig.Outcome.Label, sig.Price, sig.Size, cost, orderID)); err != nil {
		// The position is booked; a ledger write failure loses only the
		// restart-safety record. Loud log, not a failed result.
		log.Error().Err(err).Str("window", snap.WindowID).Msg("Ledger append failed after trade")
	}

	return Result{OK: true, OrderID: orderID, Message: sig.Reason}
}

// checkBalanceError trips the killswitch on error text that suggests the
// funder is out of collateral. Deliberately coarse: upstream error strings
// are ambiguous, and halting is the safe reading.
func (e *Executor) checkBalanceError(err error) {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"not enough balance", "insufficient balance", "insufficient allowance"} {
		if strings.Contains(msg, marker) {
			e.guard.ActivateKillswitch("balance error: " + err.Error())
			return
		}
	}
}

func (e *Executor) dryRunOrderID() string {
	return fmt.Sprintf("%s%d", DryRunOrderPrefix, time.Now().UnixNano())
}

// normalizeTickSize clamps the market's price increment to the CLOB's
// allowed set, falling back to the most common increment.
func normalizeTickSize(tick decimal.Decimal) decimal.Decimal {
	for _, allowed := range allowedTickSizes {
		if tick.Equal(allowed) {
			return allowed
		}
	}
	return fallbackTickSize
}
