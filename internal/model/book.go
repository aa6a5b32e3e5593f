package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var symbolSeparators = strings.NewReplacer("-", "", "_", "", "/", "")

// CanonicalSymbol upper-cases a symbol and strips separators, so that
// "btc-usdt" and "BTC_USDT" both become "BTCUSDT".
func CanonicalSymbol(raw string) string {
	return strings.ToUpper(symbolSeparators.Replace(strings.TrimSpace(raw)))
}

// MinSize is the floor applied to degenerate quote sizes.
const MinSize = 1e-4

// Level is a single price level of an order book side.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// NormalizedBook is the latest top-of-book snapshot for one exchange and symbol.
// Bids are sorted best (highest) first, Asks best (lowest) first. When no depth
// is known the sides hold only the top level.
type NormalizedBook struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   float64   `json:"bid_size"`
	AskSize   float64   `json:"ask_size"`
	Bids      []Level   `json:"bids,omitempty"`
	Asks      []Level   `json:"asks,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote is a raw, not yet validated ticker observation.
type Quote struct {
	Exchange  string
	Symbol    string
	Bid       float64
	Ask       float64
	BidSize   float64
	AskSize   float64
	Timestamp time.Time
}

// Normalize validates a raw quote and turns it into a NormalizedBook.
// Non-positive, NaN or infinite prices and crossed quotes are rejected with
// ErrDataQuality. Non-positive sizes are clamped up to MinSize.
func Normalize(q Quote) (NormalizedBook, error) {
	if q.Exchange == "" || q.Symbol == "" {
		return NormalizedBook{}, fmt.Errorf("%w: missing exchange or symbol", ErrDataQuality)
	}
	if !validPrice(q.Bid) || !validPrice(q.Ask) {
		return NormalizedBook{}, fmt.Errorf("%w: %s %s invalid price bid=%v ask=%v", ErrDataQuality, q.Exchange, q.Symbol, q.Bid, q.Ask)
	}
	if q.Bid >= q.Ask {
		return NormalizedBook{}, fmt.Errorf("%w: %s %s crossed book bid=%v ask=%v", ErrDataQuality, q.Exchange, q.Symbol, q.Bid, q.Ask)
	}

	ts := q.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	book := NormalizedBook{
		Exchange:  q.Exchange,
		Symbol:    q.Symbol,
		Bid:       q.Bid,
		Ask:       q.Ask,
		BidSize:   clampSize(q.BidSize),
		AskSize:   clampSize(q.AskSize),
		Timestamp: ts.UTC(),
	}
	book.Bids = []Level{{Price: book.Bid, Size: book.BidSize}}
	book.Asks = []Level{{Price: book.Ask, Size: book.AskSize}}
	return book, nil
}

// Validate re-checks the stored invariants: positive prices and sizes, bid < ask.
func (b NormalizedBook) Validate() error {
	if b.Exchange == "" || b.Symbol == "" {
		return fmt.Errorf("%w: missing exchange or symbol", ErrDataQuality)
	}
	if !validPrice(b.Bid) || !validPrice(b.Ask) || b.Bid >= b.Ask {
		return fmt.Errorf("%w: %s %s bad prices bid=%v ask=%v", ErrDataQuality, b.Exchange, b.Symbol, b.Bid, b.Ask)
	}
	if !(b.BidSize > 0) || !(b.AskSize > 0) {
		return fmt.Errorf("%w: %s %s non-positive size", ErrDataQuality, b.Exchange, b.Symbol)
	}
	for _, lvl := range b.Bids {
		if !validPrice(lvl.Price) || !(lvl.Size > 0) {
			return fmt.Errorf("%w: %s %s bad bid level", ErrDataQuality, b.Exchange, b.Symbol)
		}
	}
	for _, lvl := range b.Asks {
		if !validPrice(lvl.Price) || !(lvl.Size > 0) {
			return fmt.Errorf("%w: %s %s bad ask level", ErrDataQuality, b.Exchange, b.Symbol)
		}
	}
	return nil
}

// AskLevels returns the ask side, falling back to the top of book.
func (b NormalizedBook) AskLevels() []Level {
	if len(b.Asks) > 0 {
		return b.Asks
	}
	return []Level{{Price: b.Ask, Size: b.AskSize}}
}

// BidLevels returns the bid side, falling back to the top of book.
func (b NormalizedBook) BidLevels() []Level {
	if len(b.Bids) > 0 {
		return b.Bids
	}
	return []Level{{Price: b.Bid, Size: b.BidSize}}
}

// Mid returns the midpoint of the top of book.
func (b NormalizedBook) Mid() float64 {
	return (b.Bid + b.Ask) / 2
}

// Age reports how old the snapshot is relative to now.
func (b NormalizedBook) Age(now time.Time) time.Duration {
	return now.Sub(b.Timestamp)
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

func clampSize(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return MinSize
	}
	return s
}
