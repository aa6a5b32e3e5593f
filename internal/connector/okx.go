package connector

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"arbsignals/internal/model"
)

const okxTickersPath = "/api/v5/market/tickers"

// OKX reads spot tickers from the OKX v5 REST API.
type OKX struct {
	name   string
	http   *httpClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewOKX builds an OKX adapter.
func NewOKX(name string, opts HTTPOptions, logger zerolog.Logger) *OKX {
	return &OKX{
		name:   name,
		http:   newHTTPClient(opts, "https://www.okx.com"),
		logger: logger.With().Str("component", "exchange").Str("exchange", name).Logger(),
		now:    time.Now,
	}
}

// Name implements Exchange.
func (o *OKX) Name() string { return o.name }

type okxResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		BidSz  string `json:"bidSz"`
		AskPx  string `json:"askPx"`
		AskSz  string `json:"askSz"`
		TS     string `json:"ts"`
	} `json:"data"`
}

// FetchBooks implements Exchange.
func (o *OKX) FetchBooks(ctx context.Context, symbols []string) ([]model.NormalizedBook, error) {
	var res okxResponse
	if err := o.http.getJSON(ctx, okxTickersPath, url.Values{"instType": {"SPOT"}}, &res); err != nil {
		return nil, err
	}
	if res.Code != "0" {
		return nil, fmt.Errorf("okx api error (code %s): %s", res.Code, res.Msg)
	}

	want := symbolSet(symbols)
	now := o.now().UTC()
	books := make([]model.NormalizedBook, 0, len(want))
	for _, row := range res.Data {
		symbol := CanonicalSymbol(row.InstID)
		if !want[symbol] {
			continue
		}
		books = appendQuote(books, model.Quote{
			Exchange:  o.name,
			Symbol:    symbol,
			Bid:       parseNumber(row.BidPx),
			Ask:       parseNumber(row.AskPx),
			BidSize:   parseNumber(row.BidSz),
			AskSize:   parseNumber(row.AskSz),
			Timestamp: parseMillis(row.TS, now),
		}, o.logger)
	}
	return books, nil
}

var _ Exchange = (*OKX)(nil)
