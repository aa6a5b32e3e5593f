// Package stats derives per-symbol market statistics and the aggregate system
// status that operators and downstream consumers read.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"arbsignals/internal/model"
	"arbsignals/internal/state"
)

// Store is the slice of the state store the stats engine reads and writes.
type Store interface {
	BooksFor(ctx context.Context, symbol string) (map[string]model.NormalizedBook, error)
	ExchangeHealth(ctx context.Context) (map[string]model.ExchangeHealth, error)
	Signals(ctx context.Context) ([]model.Signal, error)
	PendingTrades(ctx context.Context) ([]model.VirtualTrade, error)
	SetMarketStats(ctx context.Context, stats []model.MarketStats) error
	SetSystemStatus(ctx context.Context, status model.SystemStatus) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
}

// Options configure the stats engine.
type Options struct {
	Symbols    []string
	MaxBookAge time.Duration
	Now        func() time.Time
}

// Engine computes statistics.
type Engine struct {
	opts   Options
	store  Store
	logger zerolog.Logger
}

// New constructs an Engine.
func New(opts Options, store Store, logger zerolog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxBookAge <= 0 {
		opts.MaxBookAge = 5 * time.Second
	}
	return &Engine{opts: opts, store: store, logger: logger.With().Str("component", "stats").Logger()}
}

// Market summarises the fresh books of one symbol. ok is false when no
// usable book exists.
func Market(symbol string, books map[string]model.NormalizedBook, now time.Time, maxAge time.Duration) (model.MarketStats, bool) {
	bestBid, bestAsk := 0.0, math.Inf(1)
	n := 0
	for _, b := range books {
		if b.Validate() != nil || b.Age(now) > maxAge {
			continue
		}
		bestBid = math.Max(bestBid, b.Bid)
		bestAsk = math.Min(bestAsk, b.Ask)
		n++
	}
	if n == 0 {
		return model.MarketStats{}, false
	}
	mid := (bestBid + bestAsk) / 2
	return model.MarketStats{
		Symbol:        symbol,
		MidPrice:      mid,
		DispersionBps: (bestBid - bestAsk) / mid * 10_000,
		BestBid:       bestBid,
		BestAsk:       bestAsk,
		Exchanges:     n,
		UpdatedAt:     now,
	}, true
}

// Cycle recomputes market stats and the system status, stores both and
// publishes the status.
func (e *Engine) Cycle(ctx context.Context) (model.SystemStatus, error) {
	now := e.opts.Now().UTC()
	status := model.SystemStatus{GeneratedAt: now, StoreOK: true}

	if err := e.store.Ping(ctx); err != nil {
		status.StoreOK = false
		status.Degraded = true
		return status, fmt.Errorf("store unavailable: %w", err)
	}

	var market []model.MarketStats
	for _, symbol := range e.opts.Symbols {
		books, err := e.store.BooksFor(ctx, symbol)
		if err != nil {
			return status, fmt.Errorf("load books %s: %w", symbol, err)
		}
		ms, ok := Market(symbol, books, now, e.opts.MaxBookAge)
		if !ok {
			continue
		}
		market = append(market, ms)
		if ms.Exchanges >= 2 {
			status.ActiveSymbols = append(status.ActiveSymbols, symbol)
		}
	}
	if err := e.store.SetMarketStats(ctx, market); err != nil {
		return status, fmt.Errorf("store market stats: %w", err)
	}

	health, err := e.store.ExchangeHealth(ctx)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return status, fmt.Errorf("load exchange health: %w", err)
	}
	for name, h := range health {
		if h.CircuitOpen {
			status.OpenCircuits = append(status.OpenCircuits, name)
		} else {
			status.ActiveExchanges = append(status.ActiveExchanges, name)
		}
	}
	sort.Strings(status.ActiveExchanges)
	sort.Strings(status.OpenCircuits)

	signals, err := e.store.Signals(ctx)
	if err != nil {
		return status, fmt.Errorf("load signals: %w", err)
	}
	status.CurrentSignals = len(signals)

	pending, err := e.store.PendingTrades(ctx)
	if err != nil {
		return status, fmt.Errorf("load pending trades: %w", err)
	}
	status.PendingTrades = len(pending)

	status.Degraded = len(status.OpenCircuits) > 0 || len(status.ActiveExchanges) < 2

	if err := e.store.SetSystemStatus(ctx, status); err != nil {
		return status, fmt.Errorf("store system status: %w", err)
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return status, err
	}
	if err := e.store.Publish(ctx, state.ChannelStatus, payload); err != nil {
		e.logger.Warn().Err(err).Msg("publish status failed")
	}
	if status.Degraded {
		e.logger.Warn().Strs("open_circuits", status.OpenCircuits).Int("active_exchanges", len(status.ActiveExchanges)).Msg("system degraded")
	}
	return status, nil
}
