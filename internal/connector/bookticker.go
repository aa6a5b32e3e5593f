package connector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"arbsignals/internal/model"
)

const bookTickerPath = "/api/v3/ticker/bookTicker"

// BookTicker reads the bulk /api/v3/ticker/bookTicker endpoint shared by
// Binance and MEXC. One request returns every listed symbol.
type BookTicker struct {
	name   string
	http   *httpClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewBinance builds a Binance adapter.
func NewBinance(name string, opts HTTPOptions, logger zerolog.Logger) *BookTicker {
	return newBookTicker(name, opts, "https://api.binance.com", logger)
}

// NewMEXC builds a MEXC adapter.
func NewMEXC(name string, opts HTTPOptions, logger zerolog.Logger) *BookTicker {
	return newBookTicker(name, opts, "https://api.mexc.com", logger)
}

func newBookTicker(name string, opts HTTPOptions, defaultBase string, logger zerolog.Logger) *BookTicker {
	return &BookTicker{
		name:   name,
		http:   newHTTPClient(opts, defaultBase),
		logger: logger.With().Str("component", "exchange").Str("exchange", name).Logger(),
		now:    time.Now,
	}
}

// Name implements Exchange.
func (b *BookTicker) Name() string { return b.name }

type bookTickerRow struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

// FetchBooks implements Exchange.
func (b *BookTicker) FetchBooks(ctx context.Context, symbols []string) ([]model.NormalizedBook, error) {
	var rows []bookTickerRow
	if err := b.http.getJSON(ctx, bookTickerPath, nil, &rows); err != nil {
		return nil, err
	}

	want := symbolSet(symbols)
	now := b.now().UTC()
	books := make([]model.NormalizedBook, 0, len(want))
	for _, row := range rows {
		symbol := CanonicalSymbol(row.Symbol)
		if !want[symbol] {
			continue
		}
		books = appendQuote(books, model.Quote{
			Exchange:  b.name,
			Symbol:    symbol,
			Bid:       parseNumber(row.BidPrice),
			Ask:       parseNumber(row.AskPrice),
			BidSize:   parseNumber(row.BidQty),
			AskSize:   parseNumber(row.AskQty),
			Timestamp: now,
		}, b.logger)
	}
	return books, nil
}

var _ Exchange = (*BookTicker)(nil)
