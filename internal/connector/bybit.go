package connector

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"arbsignals/internal/model"
)

const bybitTickersPath = "/v5/market/tickers"

// Bybit reads spot tickers from the Bybit v5 REST API.
type Bybit struct {
	name   string
	http   *httpClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewBybit builds a Bybit adapter.
func NewBybit(name string, opts HTTPOptions, logger zerolog.Logger) *Bybit {
	return &Bybit{
		name:   name,
		http:   newHTTPClient(opts, "https://api.bybit.com"),
		logger: logger.With().Str("component", "exchange").Str("exchange", name).Logger(),
		now:    time.Now,
	}
}

// Name implements Exchange.
func (b *Bybit) Name() string { return b.name }

type bybitResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Bid1Size  string `json:"bid1Size"`
			Ask1Price string `json:"ask1Price"`
			Ask1Size  string `json:"ask1Size"`
		} `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

// FetchBooks implements Exchange.
func (b *Bybit) FetchBooks(ctx context.Context, symbols []string) ([]model.NormalizedBook, error) {
	var res bybitResponse
	if err := b.http.getJSON(ctx, bybitTickersPath, url.Values{"category": {"spot"}}, &res); err != nil {
		return nil, err
	}
	if res.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error (code %d): %s", res.RetCode, res.RetMsg)
	}

	ts := b.now().UTC()
	if res.Time > 0 {
		ts = time.UnixMilli(res.Time).UTC()
	}
	want := symbolSet(symbols)
	books := make([]model.NormalizedBook, 0, len(want))
	for _, row := range res.Result.List {
		symbol := CanonicalSymbol(row.Symbol)
		if !want[symbol] {
			continue
		}
		books = appendQuote(books, model.Quote{
			Exchange:  b.name,
			Symbol:    symbol,
			Bid:       parseNumber(row.Bid1Price),
			Ask:       parseNumber(row.Ask1Price),
			BidSize:   parseNumber(row.Bid1Size),
			AskSize:   parseNumber(row.Ask1Size),
			Timestamp: ts,
		}, b.logger)
	}
	return books, nil
}

var _ Exchange = (*Bybit)(nil)
