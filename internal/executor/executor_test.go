package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/quarterbot/internal/clob"
	"github.com/web3guy0/quarterbot/internal/guardrail"
	"github.com/web3guy0/quarterbot/internal/ledger"
	"github.com/web3guy0/quarterbot/internal/market"
	"github.com/web3guy0/quarterbot/internal/strategy"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeClient records submissions and replies with a canned response.
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	sides   []string
	resp    clob.OrderResponse
	err     error
	barrier chan struct{} // when set, SubmitOrder blocks until it closes
}

func (f *fakeClient) SubmitOrder(_ context.Context, _ string, _, _ decimal.Decimal, side string, _ decimal.Decimal, _ bool) (clob.OrderResponse, error) {
	if f.barrier != nil {
		<-f.barrier
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sides = append(f.sides, side)
	return f.resp, f.err
}

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testGuard() *guardrail.Guardrails {
	return guardrail.New(guardrail.Config{
		TradingEnabled:   true,
		MaxOrderCost:     dec("25"),
		MaxPositionSize:  dec("100"),
		DailyLossLimit:   dec("50"),
		MaxTradesPerHour: 10,
	})
}

func testSnapshot() *market.Snapshot {
	return &market.Snapshot{
		WindowID: "btc-updown-15m-1700000000",
		TickSize: dec("0.01"),
		EndTime:  time.Now().Add(8 * time.Minute),
		Outcomes: []market.Outcome{
			{TokenID: "tok-up", Label: "Up", Price: dec("0.62")},
			{TokenID: "tok-down", Label: "Down", Price: dec("0.38")},
		},
	}
}

func buySignal() strategy.Signal {
	return strategy.Signal{
		Action:  strategy.ActionBuy,
		Reason:  "Up leading at 0.62",
		Outcome: market.Outcome{TokenID: "tok-up", Label: "Up", Price: dec("0.62")},
		Size:    dec("16"),
		Price:   dec("0.62"),
	}
}

func sellSignal() strategy.Signal {
	return strategy.Signal{
		Action:  strategy.ActionSell,
		Reason:  "take-profit: gain 0.90",
		Outcome: market.Outcome{TokenID: "tok-up", Label: "Up", Price: dec("0.95")},
		Size:    dec("16"),
		Price:   dec("0.95"),
	}
}

func TestDryRunBuyRecordsSentinelOrder(t *testing.T) {
	l := testLedger(t)
	g := testGuard()
	e := New(l, g, nil, true)
	snap := testSnapshot()

	res := e.ExecuteBuy(context.Background(), buySignal(), snap)
	require.True(t, res.OK)
	require.True(t, strings.HasPrefix(res.OrderID, DryRunOrderPrefix))

	rec, ok := l.Buy(snap.WindowID)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(rec.OrderID, DryRunOrderPrefix))

	_, held := g.Position(snap.WindowID)
	require.True(t, held)
}

func TestBuyRejectsRepeatWindow(t *testing.T) {
	l := testLedger(t)
	e := New(l, testGuard(), nil, true)
	snap := testSnapshot()

	require.True(t, e.ExecuteBuy(context.Background(), buySignal(), snap).OK)

	res := e.ExecuteBuy(context.Background(), buySignal(), snap)
	require.False(t, res.OK)
	require.Equal(t, "already acted on this window", res.Message)
}

func TestBuyRejectsRepeatWindowAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	l, err := ledger.Open(path)
	require.NoError(t, err)
	snap := testSnapshot()
	require.True(t, New(l, testGuard(), nil, true).ExecuteBuy(context.Background(), buySignal(), snap).OK)
	require.NoError(t, l.Close())

	// Fresh process: empty guardrails, ledger replayed from disk.
	l2, err := ledger.Open(path)
	require.NoError(t, err)
	defer l2.Close()

	res := New(l2, testGuard(), nil, true).ExecuteBuy(context.Background(), buySignal(), snap)
	require.False(t, res.OK)
	require.Equal(t, "already acted on this window", res.Message)
}

func TestBuyPassesGuardrailReasonThrough(t *testing.T) {
	g := guardrail.New(guardrail.Config{TradingEnabled: false})
	e := New(testLedger(t), g, nil, true)

	res := e.ExecuteBuy(context.Background(), buySignal(), testSnapshot())
	require.False(t, res.OK)
	require.Equal(t, "trading disabled", res.Message)
}

func TestLiveBuySubmitsAndRecords(t *testing.T) {
	l := testLedger(t)
	g := testGuard()
	client := &fakeClient{resp: clob.OrderResponse{OrderID: "ord-1", Status: clob.StatusMatched}}
	e := New(l, g, client, false)
	snap := testSnapshot()

	res := e.ExecuteBuy(context.Background(), buySignal(), snap)
	require.True(t, res.OK)
	require.Equal(t, "ord-1", res.OrderID)
	require.Equal(t, 1, client.calls)
	require.True(t, l.HasBuy(snap.WindowID))
}

func TestLiveBuyNilClient(t *testing.T) {
	e := New(testLedger(t), testGuard(), nil, false)

	res := e.ExecuteBuy(context.Background(), buySignal(), testSnapshot())
	require.False(t, res.OK)
	require.Equal(t, "order client not initialized", res.Message)
}

func TestLiveBuyRejectedStatusNotRecorded(t *testing.T) {
	l := testLedger(t)
	client := &fakeClient{resp: clob.OrderResponse{OrderID: "ord-1", Status: "rejected"}}
	e := New(l, testGuard(), client, false)
	snap := testSnapshot()

	res := e.ExecuteBuy(context.Background(), buySignal(), snap)
	require.False(t, res.OK)
	require.Contains(t, res.Message, "order not accepted")
	require.False(t, l.HasBuy(snap.WindowID))
}

func TestBalanceErrorTripsKillswitch(t *testing.T) {
	g := testGuard()
	client := &fakeClient{err: errors.New("request failed: not enough balance / allowance")}
	e := New(testLedger(t), g, client, false)

	res := e.ExecuteBuy(context.Background(), buySignal(), testSnapshot())
	require.False(t, res.OK)
	require.True(t, g.Snapshot().Killswitch)
}

func TestOtherSubmitErrorLeavesKillswitchAlone(t *testing.T) {
	g := testGuard()
	client := &fakeClient{err: errors.New("context deadline exceeded")}
	e := New(testLedger(t), g, client, false)

	res := e.ExecuteBuy(context.Background(), buySignal(), testSnapshot())
	require.False(t, res.OK)
	require.False(t, g.Snapshot().Killswitch)
}

func TestSellClosesPosition(t *testing.T) {
	l := testLedger(t)
	g := testGuard()
	e := New(l, g, nil, true)
	snap := testSnapshot()

	require.True(t, e.ExecuteBuy(context.Background(), buySignal(), snap).OK)
	require.True(t, e.ExecuteSell(context.Background(), sellSignal(), snap).OK)

	_, held := g.Position(snap.WindowID)
	require.False(t, held)
	// proceeds 15.20 - cost 9.92 = +5.28 realized
	require.True(t, g.Snapshot().DailyPnL.GreaterThan(decimal.Zero))
}

// Two concurrent buys for the same window can both pass the ledger gate;
// the gate is restart-safety, not a mutex. The barrier forces both calls
// past the check before either appends, pinning down the documented
// best-effort behavior.
func TestConcurrentBuysAreBestEffort(t *testing.T) {
	l := testLedger(t)
	barrier := make(chan struct{})
	client := &fakeClient{
		resp:    clob.OrderResponse{OrderID: "ord-1", Status: clob.StatusMatched},
		barrier: barrier,
	}
	e := New(l, testGuard(), client, false)
	snap := testSnapshot()

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.ExecuteBuy(context.Background(), buySignal(), snap)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(barrier)
	wg.Wait()

	require.True(t, results[0].OK)
	require.True(t, results[1].OK)
	require.Equal(t, 2, client.calls)
}

func TestNormalizeTickSize(t *testing.T) {
	require.True(t, normalizeTickSize(dec("0.001")).Equal(dec("0.001")))
	require.True(t, normalizeTickSize(dec("0.05")).Equal(dec("0.01")))
	require.True(t, normalizeTickSize(decimal.Zero).Equal(dec("0.01")))
}
