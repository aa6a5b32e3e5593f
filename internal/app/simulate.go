package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"arbsignals/internal/connector"
	"arbsignals/internal/model"
)

// SimulateOptions describe one offline detection run.
type SimulateOptions struct {
	Symbol string
	Quotes []model.Quote
}

// ParseQuote reads "exchange:bid:ask[:bid_size:ask_size]". Missing sizes
// default to one unit of the base asset.
func ParseQuote(raw string) (model.Quote, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 && len(parts) != 5 {
		return model.Quote{}, fmt.Errorf("quote %q: want exchange:bid:ask[:bid_size:ask_size]", raw)
	}

	values := make([]float64, 0, 4)
	for _, p := range parts[1:] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return model.Quote{}, fmt.Errorf("quote %q: %w", raw, err)
		}
		values = append(values, v)
	}

	q := model.Quote{Exchange: parts[0], Bid: values[0], Ask: values[1], BidSize: 1, AskSize: 1}
	if len(values) == 4 {
		q.BidSize, q.AskSize = values[2], values[3]
	}
	return q, nil
}

// Simulate runs detection once against the given quotes using the configured
// fees and floors, and prints the resulting signals. Nothing is written.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	signals, err := a.simulate(opts, time.Now().UTC())
	if err != nil {
		return err
	}
	return renderSignals(os.Stdout, signals)
}

func (a *App) simulate(opts SimulateOptions, now time.Time) ([]model.Signal, error) {
	if len(opts.Quotes) < 2 {
		return nil, errors.New("at least two quotes are required")
	}
	symbol := connector.CanonicalSymbol(opts.Symbol)
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}

	books := make(map[string]model.NormalizedBook, len(opts.Quotes))
	for _, q := range opts.Quotes {
		q.Symbol = symbol
		q.Timestamp = now
		book, err := model.Normalize(q)
		if err != nil {
			return nil, err
		}
		books[book.Exchange] = book
	}

	detector := a.newDetector(nil, nil, nil)
	return detector.Detect(symbol, books, a.Config.Thresholds(), now), nil
}
