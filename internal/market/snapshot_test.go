package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestWindowIDAlignsToQuarterHour(t *testing.T) {
	// 2023-11-14 22:17:40 UTC falls in the window starting 22:15:00.
	mid := time.Unix(1700000260, 0).UTC()
	aligned := time.Unix(1700000100, 0).UTC()

	require.Equal(t, WindowID("btc", aligned), WindowID("BTC", mid))
	require.Equal(t, "btc-updown-15m-1700000100", WindowID("btc", mid))
}

func TestCurrentWindowStart(t *testing.T) {
	now := time.Unix(1700000260, 0).UTC()
	start := CurrentWindowStart(now)
	require.Equal(t, int64(1700000100), start.Unix())
	require.Zero(t, start.Minute()%15)
}

func TestRecentWindowIDsDescending(t *testing.T) {
	now := time.Unix(1700000260, 0).UTC()
	ids := RecentWindowIDs("eth", 3, now)
	require.Equal(t, []string{
		"eth-updown-15m-1700000100",
		"eth-updown-15m-1699999200",
		"eth-updown-15m-1699998300",
	}, ids)
}

func TestSnapshotRemaining(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	snap := &Snapshot{EndTime: now.Add(7 * time.Minute)}
	require.Equal(t, 7*time.Minute, snap.Remaining(now))
}

func TestSnapshotOutcomeLookup(t *testing.T) {
	snap := &Snapshot{Outcomes: []Outcome{
		{TokenID: "101", Label: "Up", Price: decimal.NewFromFloat(0.62)},
		{TokenID: "102", Label: "Down", Price: decimal.NewFromFloat(0.38)},
	}}

	o, ok := snap.Outcome("102")
	require.True(t, ok)
	require.Equal(t, "Down", o.Label)

	_, ok = snap.Outcome("999")
	require.False(t, ok)
}
