// Package sweeper reconciles resolved windows: it records resolution facts
// and redeems leftover settlement tokens for collateral.
//
// The sweep runs against a public RPC peer, so every call is individually
// bounded and individually recoverable, pacing delays are fixed rather than
// exponential, and only a detected out-of-gas condition aborts a sweep early.
package sweeper

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/quarterbot/internal/database"
	"github.com/web3guy0/quarterbot/internal/ledger"
	"github.com/web3guy0/quarterbot/internal/market"
)

// ChainClient is the on-chain capability surface the sweep consumes.
type ChainClient interface {
	Signer() common.Address
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, owner common.Address, tokenID *big.Int) (*big.Int, error)
	Redeem(ctx context.Context, funder common.Address, conditionID common.Hash, indexSets []*big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// MarketSource fetches window market metadata.
type MarketSource interface {
	FetchMarket(ctx context.Context, windowID string) (*market.Snapshot, error)
}

// Tunables. Delays are fixed, chosen to stay under public-endpoint rate
// limits; the gas floor covers a handful of proxy transactions.
const (
	recentWindows = 20
	waitAttempts  = 3
	waitTimeout   = 20 * time.Second
	retryPause    = 5 * time.Second
	fallbackPause = 8 * time.Second
	callPause     = 750 * time.Millisecond
	windowPause   = 2 * time.Second
)

// minGasWei is 0.01 MATIC.
var minGasWei = big.NewInt(1e16)

// Summary reports what one sweep accomplished.
type Summary struct {
	WindowsScanned int
	Resolutions    int
	Redeemed       int
	Skipped        int
}

// Sweeper scans recent windows for unredeemed settlement tokens.
type Sweeper struct {
	ledger *ledger.Ledger
	source MarketSource
	chain  ChainClient
	funder common.Address
	asset  string

	history *database.Database // optional redemption history

	sleep func(time.Duration) // injectable for tests
	now   func() time.Time
}

// New creates a sweeper for the given funding address.
func New(l *ledger.Ledger, source MarketSource, chain ChainClient, funder common.Address, asset string) *Sweeper {
	return &Sweeper{
		ledger: l,
		source: source,
		chain:  chain,
		funder: funder,
		asset:  asset,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// SetHistory attaches a redemption history store.
func (s *Sweeper) SetHistory(db *database.Database) {
	s.history = db
}

// SetPacing replaces the sleep function. Test hook.
func (s *Sweeper) SetPacing(sleep func(time.Duration)) {
	s.sleep = sleep
}

// SetClock replaces the time source. Test hook.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// RunSweep scans the most recent windows in descending recency order,
// recording resolutions and redeeming positive token balances.
func (s *Sweeper) RunSweep(ctx context.Context) Summary {
	var sum Summary

	gas, err := s.chain.NativeBalance(ctx, s.chain.Signer())
	if err != nil {
		log.Warn().Err(err).Msg("Sweep: gas balance check failed, skipping")
		return sum
	}
	if gas.Cmp(minGasWei) < 0 {
		log.Warn().
			Str("balance_wei", gas.String()).
			Str("required_wei", minGasWei.String()).
			Msg("⛽ Sweep: gas below floor, skipping entirely")
		return sum
	}

	for _, windowID := range market.RecentWindowIDs(s.asset, recentWindows, s.now()) {
		select {
		case <-ctx.Done():
			return sum
		default:
		}

		sum.WindowsScanned++
		if abort := s.sweepWindow(ctx, windowID, &sum); abort {
			log.Warn().Str("window", windowID).Msg("⛽ Sweep aborted: insufficient gas")
			break
		}
		s.sleep(windowPause)
	}

	log.Info().
		Int("scanned", sum.WindowsScanned).
		Int("resolutions", sum.Resolutions).
		Int("redeemed", sum.Redeemed).
		Int("skipped", sum.Skipped).
		Msg("🧹 Sweep complete")
	return sum
}

// sweepWindow handles one window. It returns true when the rest of the
// sweep should be abandoned (out of gas).
func (s *Sweeper) sweepWindow(ctx context.Context, windowID string, sum *Summary) bool {
	snap, err := s.source.FetchMarket(ctx, windowID)
	if err != nil {
		log.Debug().Str("window", windowID).Msg("Sweep: no market metadata")
		sum.Skipped++
		return false
	}

	if winner, ok := resolvedWinner(snap); ok && !s.ledger.HasResolution(windowID) {
		if err := s.ledger.Append(ledger.NewResolution(windowID, winner)); err != nil {
			log.Error().Err(err).Str("window", windowID).Msg("Sweep: resolution append failed")
		} else {
			sum.Resolutions++
			log.Info().Str("window", windowID).Str("winner", winner).Msg("🏁 Resolution recorded")
		}
	}

	if snap.ConditionID == "" {
		sum.Skipped++
		return false
	}
	conditionID := common.HexToHash(snap.ConditionID)

	for i, outcome := range snap.Outcomes {
		tokenID, ok := new(big.Int).SetString(outcome.TokenID, 10)
		if !ok {
			log.Warn().Str("token", outcome.TokenID).Msg("Sweep: unparsable token id")
			continue
		}

		s.sleep(callPause)
		balance, err := s.chain.TokenBalance(ctx, s.funder, tokenID)
		if err != nil {
			if isInsufficientGas(err) {
				return true
			}
			log.Warn().Err(err).Str("window", windowID).Str("outcome", outcome.Label).
				Msg("Sweep: balance read failed")
			continue
		}
		if balance.Sign() <= 0 {
			continue
		}

		log.Info().
			Str("window", windowID).
			Str("outcome", outcome.Label).
			Str("balance", balance.String()).
			Msg("🎫 Unredeemed settlement tokens found")

		indexSet := new(big.Int).Lsh(big.NewInt(1), uint(i))
		if abort := s.redeemToken(ctx, windowID, outcome.Label, conditionID, indexSet, sum); abort {
			return true
		}
	}
	return false
}

// redeemToken submits one redemption call and classifies its outcome.
func (s *Sweeper) redeemToken(ctx context.Context, windowID, label string, conditionID common.Hash, indexSet *big.Int, sum *Summary) bool {
	s.sleep(callPause)
	txHash, err := s.chain.Redeem(ctx, s.funder, conditionID, []*big.Int{indexSet})
	if err != nil {
		if isInsufficientGas(err) {
			return true
		}
		log.Warn().Err(err).Str("window", windowID).Str("outcome", label).
			Msg("Sweep: redemption submit failed")
		return false
	}

	receipt := s.awaitReceipt(ctx, txHash)
	var status string
	switch {
	case receipt == nil:
		// The tokens may already have been transferred out from under us;
		// count it redeemed and let the next sweep verify.
		status = "pending"
		sum.Redeemed++
		log.Warn().
			Str("window", windowID).
			Str("tx", txHash.Hex()).
			Msg("Sweep: no receipt, counting redeemed pending next sweep")
	case receipt.Status == types.ReceiptStatusSuccessful:
		status = "redeemed"
		sum.Redeemed++
		log.Info().
			Str("window", windowID).
			Str("outcome", label).
			Str("tx", txHash.Hex()).
			Msg("💸 Redeemed")
	default:
		status = "reverted"
		log.Warn().
			Str("window", windowID).
			Str("tx", txHash.Hex()).
			Msg("Sweep: redemption reverted, possibly not yet resolved")
	}

	if s.history != nil {
		if err := s.history.SaveRedemption(&database.Redemption{
			WindowID: windowID,
			Outcome:  label,
			TxHash:   txHash.Hex(),
			Status:   status,
		}); err != nil {
			log.Warn().Err(err).Msg("Sweep: redemption history save failed")
		}
	}
	return false
}

// awaitReceipt tries the bounded wait three times with fixed pauses, then
// falls back to one delayed direct receipt poll.
func (s *Sweeper) awaitReceipt(ctx context.Context, txHash common.Hash) *types.Receipt {
	for attempt := 1; attempt <= waitAttempts; attempt++ {
		receipt, err := s.chain.WaitMined(ctx, txHash, waitTimeout)
		if err == nil && receipt != nil {
			return receipt
		}
		log.Debug().
			Int("attempt", attempt).
			Str("tx", txHash.Hex()).
			Msg("Sweep: confirmation wait timed out")
		if attempt < waitAttempts {
			s.sleep(retryPause)
		}
	}

	s.sleep(fallbackPause)
	receipt, err := s.chain.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil
	}
	return receipt
}

// resolvedWinner reports the winning outcome when the market has settled:
// exactly one outcome priced at exactly 1.
func resolvedWinner(snap *market.Snapshot) (string, bool) {
	one := decimal.NewFromInt(1)
	for _, o := range snap.Outcomes {
		if o.Price.Equal(one) {
			return o.Label, true
		}
	}
	return "", false
}

func isInsufficientGas(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}
