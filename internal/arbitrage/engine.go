// Package arbitrage turns the current book set of every tracked symbol into
// profit-ranked signals, one stateless cycle at a time.
package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arbsignals/internal/metrics"
	"arbsignals/internal/model"
	"arbsignals/internal/state"
)

// Store is the slice of the state store the engine needs.
type Store interface {
	BooksFor(ctx context.Context, symbol string) (map[string]model.NormalizedBook, error)
	ParamSnapshot(ctx context.Context) (model.ParamSnapshot, error)
	ReplaceSignals(ctx context.Context, signals []model.Signal) error
	AppendSignalHistory(ctx context.Context, signals []model.Signal) error
	MarketStats(ctx context.Context) ([]model.MarketStats, error)
	ExchangeHealth(ctx context.Context) (map[string]model.ExchangeHealth, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Archive optionally mirrors emitted signals to durable storage.
type Archive interface {
	ArchiveSignals(ctx context.Context, signals []model.Signal) error
}

// Options parameterise detection.
type Options struct {
	Symbols    []string
	Costs      CostModel
	Thresholds model.Thresholds
	// VolumeCapUSD is the maximum notional of one simulated trade.
	VolumeCapUSD   float64
	AlertProfitBps float64
	MaxBookAge     time.Duration
	// MinScore drops signals a configured scorer rates below it.
	MinScore  float64
	Scorer    Scorer
	Clusterer Clusterer
	Archive   Archive
	Now       func() time.Time
	NewID     func() string
}

// Engine runs the detection cycle.
type Engine struct {
	opts    Options
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New constructs an Engine.
func New(opts Options, store Store, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.MaxBookAge <= 0 {
		opts.MaxBookAge = 5 * time.Second
	}
	return &Engine{
		opts:    opts,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "arbitrage").Logger(),
	}
}

// Thresholds resolves the effective thresholds from the latest snapshot. A
// missing or unreadable snapshot falls back to the configured floors.
func (e *Engine) Thresholds(ctx context.Context) (model.Thresholds, error) {
	snap, err := e.store.ParamSnapshot(ctx)
	switch {
	case err == nil:
		return e.opts.Thresholds.Effective(&snap), nil
	case errors.Is(err, model.ErrNotFound):
		return e.opts.Thresholds, nil
	case errors.Is(err, model.ErrDataQuality):
		e.logger.Warn().Err(err).Msg("ignoring unreadable param snapshot")
		return e.opts.Thresholds, nil
	default:
		return model.Thresholds{}, fmt.Errorf("load param snapshot: %w", err)
	}
}

// Cycle evaluates every tracked symbol, replaces the current signal set,
// appends it to the history log and publishes each signal.
func (e *Engine) Cycle(ctx context.Context) ([]model.Signal, error) {
	th, err := e.Thresholds(ctx)
	if err != nil {
		return nil, err
	}

	now := e.opts.Now().UTC()
	var signals []model.Signal
	for _, symbol := range e.opts.Symbols {
		books, err := e.store.BooksFor(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("load books %s: %w", symbol, err)
		}
		signals = append(signals, e.Detect(symbol, books, th, now)...)
	}

	signals = e.postFilter(ctx, signals)

	if err := e.store.ReplaceSignals(ctx, signals); err != nil {
		return nil, fmt.Errorf("replace signals: %w", err)
	}
	if len(signals) > 0 {
		if err := e.store.AppendSignalHistory(ctx, signals); err != nil {
			return nil, fmt.Errorf("append signal history: %w", err)
		}
		if e.opts.Archive != nil {
			if err := e.opts.Archive.ArchiveSignals(ctx, signals); err != nil {
				e.logger.Warn().Err(err).Int("signals", len(signals)).Msg("archive signals failed")
			}
		}
	}
	for _, s := range signals {
		payload, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		if err := e.store.Publish(ctx, state.ChannelSignals, payload); err != nil {
			e.logger.Warn().Err(err).Str("signal_id", s.ID).Msg("publish signal failed")
		}
		e.logger.Info().
			Str("signal_id", s.ID).
			Str("route", s.Route.Key()).
			Float64("profit_usd", s.ProfitUSD).
			Float64("profit_bps", s.ProfitBps).
			Str("severity", string(s.Severity)).
			Msg("signal")
	}
	e.metrics.SignalsProduced(signals)
	return signals, nil
}

// Detect evaluates every ordered exchange pair of one symbol. It never touches
// the store.
func (e *Engine) Detect(symbol string, books map[string]model.NormalizedBook, th model.Thresholds, now time.Time) []model.Signal {
	fresh := e.freshBooks(books, now)
	if len(fresh) < 2 {
		return nil
	}

	var out []model.Signal
	for _, buy := range fresh {
		for _, sell := range fresh {
			if buy.Exchange == sell.Exchange {
				continue
			}
			if s, ok := e.evaluateRoute(symbol, buy, sell, th, now); ok {
				out = append(out, s)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProfitUSD > out[j].ProfitUSD })
	return out
}

func (e *Engine) freshBooks(books map[string]model.NormalizedBook, now time.Time) []model.NormalizedBook {
	fresh := make([]model.NormalizedBook, 0, len(books))
	for name, b := range books {
		if err := b.Validate(); err != nil || b.Exchange != name {
			e.logger.Debug().Err(err).Str("exchange", name).Msg("dropping invalid book")
			continue
		}
		if b.Age(now) > e.opts.MaxBookAge {
			e.logger.Debug().Str("exchange", name).Str("symbol", b.Symbol).Dur("age", b.Age(now)).Msg("dropping stale book")
			continue
		}
		fresh = append(fresh, b)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Exchange < fresh[j].Exchange })
	return fresh
}

func (e *Engine) evaluateRoute(symbol string, buy, sell model.NormalizedBook, th model.Thresholds, now time.Time) (model.Signal, bool) {
	notional := TradableNotional(buy, sell, e.opts.VolumeCapUSD)
	if !(notional > 0) || notional < th.MinVolumeUSD {
		return model.Signal{}, false
	}

	ex, err := e.opts.Costs.Simulate(buy, sell, notional)
	if err != nil {
		return model.Signal{}, false
	}
	if !qualifies(ex, th) {
		return model.Signal{}, false
	}

	return model.Signal{
		ID:     e.opts.NewID(),
		Symbol: symbol,
		Route: model.Route{
			Symbol:       symbol,
			BuyExchange:  buy.Exchange,
			SellExchange: sell.Exchange,
			BuyPrice:     ex.AvgBuy,
			SellPrice:    ex.AvgSell,
			VolumeUSD:    ex.SpentUSD,
		},
		ProfitUSD:  ex.ProfitUSD,
		ProfitBps:  ex.ProfitBps,
		SpreadBps:  ex.SpreadBps,
		VolumeUSD:  ex.SpentUSD,
		Severity:   e.severity(ex.ProfitBps),
		Confidence: e.confidence(ex.ProfitBps),
		CreatedAt:  now,
	}, true
}

func qualifies(ex Execution, th model.Thresholds) bool {
	return ex.ProfitUSD > 0 &&
		ex.ProfitUSD >= th.MinNetProfitUSD &&
		ex.ProfitBps >= th.MinProfitBps &&
		ex.SpreadBps >= th.MinSpreadBps &&
		ex.SpentUSD >= th.MinVolumeUSD
}

func (e *Engine) severity(profitBps float64) model.Severity {
	if e.opts.AlertProfitBps > 0 && profitBps > e.opts.AlertProfitBps {
		return model.SeverityCritical
	}
	return model.SeverityElevated
}

func (e *Engine) confidence(profitBps float64) float64 {
	if e.opts.AlertProfitBps <= 0 {
		return 1
	}
	return math.Max(0, math.Min(1, profitBps/e.opts.AlertProfitBps))
}

// postFilter attaches scores and cluster ids. Context reads are best effort;
// a scorer with no opinion keeps the signal.
func (e *Engine) postFilter(ctx context.Context, signals []model.Signal) []model.Signal {
	if len(signals) == 0 || (e.opts.Scorer == nil && e.opts.Clusterer == nil) {
		return signals
	}

	statsBySymbol := make(map[string]*model.MarketStats)
	if stats, err := e.store.MarketStats(ctx); err == nil {
		for i := range stats {
			statsBySymbol[stats[i].Symbol] = &stats[i]
		}
	}
	health, err := e.store.ExchangeHealth(ctx)
	if err != nil {
		health = nil
	}

	kept := signals[:0]
	for _, s := range signals {
		f := BuildFeatures(s, statsBySymbol[s.Symbol], health)
		if e.opts.Scorer != nil {
			if score, ok := e.opts.Scorer.Score(f); ok {
				s.Score = &score
				if score < e.opts.MinScore {
					e.logger.Debug().Str("route", s.Route.Key()).Float64("score", score).Msg("signal filtered by scorer")
					continue
				}
			}
		}
		if e.opts.Clusterer != nil {
			if id, ok := e.opts.Clusterer.Cluster(f); ok {
				s.Cluster = &id
			}
		}
		kept = append(kept, s)
	}
	return kept
}
