// gamma.go - Fetches window market metadata from the Gamma API.
//
// Gamma is inconsistent about field shapes: list fields frequently arrive as
// JSON strings that themselves contain a JSON array, and tick size shows up
// under more than one name. All of that tolerance lives here; callers only
// ever see Snapshot.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const DefaultGammaURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

// ErrNotFound is returned when no market exists for a window identifier.
// Unreachable upstreams are folded into it as well: the strategy treats both
// the same way (wait for the next cycle).
var ErrNotFound = errors.New("market not found")

// Fetcher retrieves window market snapshots.
type Fetcher struct {
	host       string
	httpClient *http.Client
	userAgent  string
	stream     *PriceStream // optional, freshens prices between fetches
}

// NewFetcher creates a Gamma fetcher. An empty host uses the public endpoint.
func NewFetcher(host string) *Fetcher {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultGammaURL
	}
	return &Fetcher{
		host:       strings.TrimRight(host, "/"),
		httpClient: &http.Client{Timeout: 12 * time.Second},
		userAgent:  DefaultUserAgent,
	}
}

// SetPriceStream attaches a live price cache. When present, cached CLOB
// prices override the slower Gamma quotes.
func (f *Fetcher) SetPriceStream(ps *PriceStream) {
	f.stream = ps
}

// stringList tolerates Gamma returning a list either directly or as a JSON
// string wrapping a JSON array.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*s = vals
		return nil
	}
	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

// gammaMarket mirrors the subset of the Gamma payload we normalize from.
type gammaMarket struct {
	Slug          string     `json:"slug"`
	ConditionID   string     `json:"conditionId"`
	Question      string     `json:"question"`
	Outcomes      stringList `json:"outcomes"`
	OutcomePrices stringList `json:"outcomePrices"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	StartDate     string     `json:"startDate"`
	EndDate       string     `json:"endDate"`
	EndDateISO    string     `json:"endDateIso"`
	NegRisk       bool       `json:"negRisk"`
	Closed        bool       `json:"closed"`

	// Tick size arrives under either name depending on the endpoint.
	OrderPriceMinTickSize json.Number `json:"orderPriceMinTickSize"`
	MinimumTickSize       json.Number `json:"minimum_tick_size"`
}

// FetchMarket returns the snapshot for windowID, or ErrNotFound.
func (f *Fetcher) FetchMarket(ctx context.Context, windowID string) (*Snapshot, error) {
	q := url.Values{}
	q.Set("slug", windowID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.host+"/markets?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gamma request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("window", windowID).Msg("Gamma fetch failed")
		return nil, ErrNotFound
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode >= 400 {
		log.Debug().Int("status", resp.StatusCode).Str("window", windowID).Msg("Gamma fetch non-OK")
		return nil, ErrNotFound
	}

	var markets []gammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		// Some endpoints return a single object instead of an array.
		var one gammaMarket
		if err2 := json.Unmarshal(body, &one); err2 != nil {
			return nil, fmt.Errorf("gamma decode: %w", err)
		}
		markets = []gammaMarket{one}
	}
	if len(markets) == 0 {
		return nil, ErrNotFound
	}

	snap, err := f.normalize(windowID, markets[0])
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (f *Fetcher) normalize(windowID string, m gammaMarket) (*Snapshot, error) {
	if len(m.Outcomes) == 0 || len(m.Outcomes) != len(m.ClobTokenIDs) {
		return nil, fmt.Errorf("gamma market %s: outcome/token mismatch (%d vs %d)",
			windowID, len(m.Outcomes), len(m.ClobTokenIDs))
	}

	snap := &Snapshot{
		WindowID:    windowID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		NegRisk:     m.NegRisk,
		Closed:      m.Closed,
		TickSize:    pickTickSize(m.OrderPriceMinTickSize, m.MinimumTickSize),
	}

	snap.StartTime = parseTime(m.StartDate)
	snap.EndTime = parseTime(firstNonEmpty(m.EndDate, m.EndDateISO))
	if snap.EndTime.IsZero() && !snap.StartTime.IsZero() {
		snap.EndTime = snap.StartTime.Add(WindowDuration)
	}

	if f.stream != nil {
		if err := f.stream.Subscribe(m.ClobTokenIDs...); err != nil {
			log.Debug().Err(err).Msg("Price stream subscribe failed")
		}
	}

	for i, label := range m.Outcomes {
		price := decimal.Zero
		if i < len(m.OutcomePrices) {
			if p, err := decimal.NewFromString(strings.TrimSpace(m.OutcomePrices[i])); err == nil {
				price = p
			}
		}
		tokenID := m.ClobTokenIDs[i]
		if f.stream != nil {
			if live, ok := f.stream.Price(tokenID); ok {
				price = live
			}
		}
		snap.Outcomes = append(snap.Outcomes, Outcome{
			TokenID: tokenID,
			Label:   label,
			Price:   price,
		})
	}

	return snap, nil
}

func pickTickSize(candidates ...json.Number) decimal.Decimal {
	for _, c := range candidates {
		if s := strings.TrimSpace(c.String()); s != "" {
			if d, err := decimal.NewFromString(s); err == nil && d.IsPositive() {
				return d
			}
		}
	}
	return decimal.NewFromFloat(0.01)
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
