package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func tempLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	return l, path
}

func TestOpenMissingFile(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "does-not-exist.jsonl"))
	require.NoError(t, err)
	require.Equal(t, 0, l.Len())
}

func TestAppendAndLookup(t *testing.T) {
	l, _ := tempLedger(t)
	defer l.Close()

	require.False(t, l.HasBuy("btc-updown-15m-1000"))

	buy := NewBuy("btc-updown-15m-1000", "Up", decimal.NewFromFloat(0.62), decimal.NewFromInt(16), decimal.NewFromFloat(9.92), "order-1")
	require.NoError(t, l.Append(buy))

	require.True(t, l.HasBuy("btc-updown-15m-1000"))
	require.False(t, l.HasResolution("btc-updown-15m-1000"))
	require.False(t, l.HasBuy("btc-updown-15m-2000"))

	require.NoError(t, l.Append(NewResolution("btc-updown-15m-1000", "Up")))
	require.True(t, l.HasResolution("btc-updown-15m-1000"))
}

func TestTailScanReturnsMostRecent(t *testing.T) {
	l, _ := tempLedger(t)
	defer l.Close()

	first := NewBuy("w1", "Up", decimal.NewFromFloat(0.60), decimal.NewFromInt(10), decimal.NewFromInt(6), "order-a")
	second := NewBuy("w1", "Down", decimal.NewFromFloat(0.70), decimal.NewFromInt(5), decimal.NewFromFloat(3.5), "order-b")
	require.NoError(t, l.Append(first))
	require.NoError(t, l.Append(second))

	got, ok := l.Buy("w1")
	require.True(t, ok)
	require.Equal(t, "order-b", got.OrderID)
}

func TestReplayAfterRestart(t *testing.T) {
	l, path := tempLedger(t)

	buy := NewBuy("w-restart", "Up", decimal.NewFromFloat(0.65), decimal.NewFromInt(12), decimal.NewFromFloat(7.8), "order-live")
	require.NoError(t, l.Append(buy))
	require.NoError(t, l.Append(NewResolution("w-restart", "Up")))
	require.NoError(t, l.Close())

	// Simulated process restart: a fresh ledger replays the same file.
	reloaded, err := Open(path)
	require.NoError(t, err)
	defer reloaded.Close()

	require.Equal(t, 2, reloaded.Len())
	require.True(t, reloaded.HasBuy("w-restart"))
	require.True(t, reloaded.HasResolution("w-restart"))

	got, ok := reloaded.Buy("w-restart")
	require.True(t, ok)
	require.Equal(t, "order-live", got.OrderID)
	require.True(t, got.Price.Equal(decimal.NewFromFloat(0.65)))
}

func TestReplayRejectsCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"kind\":\"buy\",\"window_id\":\"w1\"}\nnot-json\n"), 0o644))

	_, err := Open(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}

func TestAppendSurvivesBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("\n{\"kind\":\"resolution\",\"window_id\":\"w9\",\"winner\":\"Down\"}\n\n"), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, 1, l.Len())
	require.True(t, l.HasResolution("w9"))
}
