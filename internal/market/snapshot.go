// Package market provides market metadata for 15-minute up/down windows.
//
// snapshot.go - The internal market schema. External payload shapes are
// normalized at the fetch boundary (gamma.go); nothing past this package
// sees raw API fields.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WindowDuration is the length of one prediction window.
const WindowDuration = 15 * time.Minute

// Outcome is one side of a binary window market.
type Outcome struct {
	TokenID string
	Label   string // "Up" or "Down"
	Price   decimal.Decimal
}

// Snapshot is the per-cycle view of a window market. It is re-fetched every
// tick and carries no identity beyond its WindowID.
type Snapshot struct {
	WindowID    string
	ConditionID string // on-chain condition identifier, needed for redemption
	Question    string
	StartTime   time.Time
	EndTime     time.Time
	Outcomes    []Outcome
	TickSize    decimal.Decimal
	NegRisk     bool
	Closed      bool
}

// Remaining returns the time until the window expires.
func (s *Snapshot) Remaining(now time.Time) time.Duration {
	return s.EndTime.Sub(now)
}

// Outcome returns the outcome holding tokenID, if present.
func (s *Snapshot) Outcome(tokenID string) (Outcome, bool) {
	for _, o := range s.Outcomes {
		if o.TokenID == tokenID {
			return o, true
		}
	}
	return Outcome{}, false
}

// WindowID builds the canonical window identifier for the window starting at
// start. Start times are aligned to 15-minute boundaries.
func WindowID(asset string, start time.Time) string {
	aligned := start.UTC().Truncate(WindowDuration)
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(asset), aligned.Unix())
}

// CurrentWindowStart returns the start of the window containing now.
func CurrentWindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(WindowDuration)
}

// RecentWindowIDs returns the identifiers of the n most recent windows in
// descending recency order, starting with the window containing now.
func RecentWindowIDs(asset string, n int, now time.Time) []string {
	ids := make([]string, 0, n)
	start := CurrentWindowStart(now)
	for i := 0; i < n; i++ {
		ids = append(ids, WindowID(asset, start))
		start = start.Add(-WindowDuration)
	}
	return ids
}
