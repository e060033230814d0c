// Package ledger is the durable, append-only record of buys and market
// resolutions. It is the idempotency source of truth: a restarted process
// replays the file to avoid double-buying a window it already acted on.
//
// Records are newline-delimited JSON, one object per line, flushed on every
// append so tailers (and crashes) see whole records. Appends are atomic at
// one-record granularity; a lookup followed later by an append is not atomic
// as a pair. See the executor docs for why that race is acceptable.
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Record kinds.
const (
	KindBuy        = "buy"
	KindResolution = "resolution"
)

// Record is one ledger entry. Kind selects which fields are meaningful.
type Record struct {
	Kind     string    `json:"kind"`
	WindowID string    `json:"window_id"`
	Time     time.Time `json:"ts"`

	// buy fields
	Outcome string          `json:"outcome,omitempty"`
	Price   decimal.Decimal `json:"price,omitempty"`
	Size    decimal.Decimal `json:"size,omitempty"`
	Cost    decimal.Decimal `json:"cost,omitempty"`
	OrderID string          `json:"order_id,omitempty"`

	// resolution fields
	Winner string `json:"winner,omitempty"`
}

// NewBuy builds a buy fact.
func NewBuy(windowID, outcome string, price, size, cost decimal.Decimal, orderID string) Record {
	return Record{
		Kind:     KindBuy,
		WindowID: windowID,
		Outcome:  outcome,
		Price:    price,
		Size:     size,
		Cost:     cost,
		OrderID:  orderID,
		Time:     time.Now().UTC(),
	}
}

// NewResolution builds a resolution fact.
func NewResolution(windowID, winner string) Record {
	return Record{
		Kind:     KindResolution,
		WindowID: windowID,
		Winner:   winner,
		Time:     time.Now().UTC(),
	}
}

// Ledger appends records to a JSONL file and answers idempotency lookups.
// Safe for concurrent use from both driver loops.
type Ledger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	w       *bufio.Writer
	records []Record // replayed + appended, oldest first
}

// Open loads the ledger at path, replaying existing records. The file and
// its directory are created on first append.
func Open(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger path required")
	}

	l := &Ledger{path: path}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	for i, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse ledger %s line %d: %w", path, i+1, err)
		}
		l.records = append(l.records, rec)
	}
	return l, nil
}

func (l *Ledger) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Append writes rec as a single JSON line and flushes it. Entries are never
// rewritten.
func (l *Ledger) Append(rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := l.w.Flush(); err != nil {
		return err
	}

	l.records = append(l.records, rec)
	return nil
}

// HasBuy reports whether a buy fact exists for windowID.
func (l *Ledger) HasBuy(windowID string) bool {
	_, ok := l.find(KindBuy, windowID)
	return ok
}

// HasResolution reports whether a resolution fact exists for windowID.
func (l *Ledger) HasResolution(windowID string) bool {
	_, ok := l.find(KindResolution, windowID)
	return ok
}

// Buy returns the most recent buy fact for windowID.
func (l *Ledger) Buy(windowID string) (Record, bool) {
	return l.find(KindBuy, windowID)
}

// find scans from the most recent record backward for the first match of
// kind and window key.
func (l *Ledger) find(kind, windowID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Kind == kind && l.records[i].WindowID == windowID {
			return l.records[i], true
		}
	}
	return Record{}, false
}

// Len returns the number of records currently held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Close flushes buffered data and closes the file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil
	return firstErr
}
