// Package evaluation grades past signals by opening a virtual position per
// signal and unwinding it against live books after a hold period.
//
// Each signal moves through none -> PENDING -> EVALUATED. The result record is
// written before the pending record is deleted, so a crash in between leaves a
// pending trade that the next cycle only needs to clean up.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"arbsignals/internal/metrics"
	"arbsignals/internal/model"
)

// DefaultEpsilon separates NEUTRAL from WIN and LOSS.
const DefaultEpsilon = 1e-6

// Store is the slice of the state store the engine needs.
type Store interface {
	Signals(ctx context.Context) ([]model.Signal, error)
	BooksFor(ctx context.Context, symbol string) (map[string]model.NormalizedBook, error)
	CreatePendingTrade(ctx context.Context, t model.VirtualTrade, ttl time.Duration) (bool, error)
	DeletePendingTrade(ctx context.Context, signalID string) error
	PendingTrades(ctx context.Context) ([]model.VirtualTrade, error)
	EvalResult(ctx context.Context, signalID string) (model.VirtualEvalResult, error)
	SaveEvalResult(ctx context.Context, r model.VirtualEvalResult) error
}

// Archive optionally mirrors results to durable storage.
type Archive interface {
	ArchiveEvalResult(ctx context.Context, r model.VirtualEvalResult) error
}

// Options tune the evaluation.
type Options struct {
	HoldDuration time.Duration
	// PendingTTL is the storage safety expiry of pending records.
	PendingTTL time.Duration
	Epsilon    float64
	Archive    Archive
	Now        func() time.Time
}

// Engine runs open and close phases.
type Engine struct {
	opts    Options
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New constructs an Engine.
func New(opts Options, store Store, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if opts.HoldDuration <= 0 {
		opts.HoldDuration = 30 * time.Second
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = time.Duration(2.5 * float64(opts.HoldDuration))
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:    opts,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "evaluation").Logger(),
	}
}

// Cycle opens trades for new signals, then closes the ones past their hold.
func (e *Engine) Cycle(ctx context.Context) error {
	opened, err := e.Open(ctx)
	if err != nil {
		return err
	}
	closed, err := e.Close(ctx)
	if err != nil {
		return err
	}
	if opened > 0 || len(closed) > 0 {
		e.logger.Debug().Int("opened", opened).Int("closed", len(closed)).Msg("evaluation cycle")
	}
	return nil
}

// Open creates a pending trade for every current signal that has neither a
// pending trade nor a result. Re-running it is a no-op for known signals.
func (e *Engine) Open(ctx context.Context) (int, error) {
	signals, err := e.store.Signals(ctx)
	if err != nil {
		return 0, fmt.Errorf("load signals: %w", err)
	}

	opened := 0
	for _, s := range signals {
		done, err := e.evaluated(ctx, s.ID)
		if err != nil {
			return opened, err
		}
		if done {
			continue
		}

		trade := model.VirtualTrade{
			SignalID:           s.ID,
			Symbol:             s.Symbol,
			BuyExchange:        s.Route.BuyExchange,
			SellExchange:       s.Route.SellExchange,
			OpenPriceBuy:       s.Route.BuyPrice,
			OpenPriceSell:      s.Route.SellPrice,
			OpenTS:             e.opts.Now().UTC(),
			VolumeUSD:          s.VolumeUSD,
			PredictedProfitUSD: s.ProfitUSD,
		}
		if err := trade.Validate(); err != nil {
			e.logger.Debug().Err(err).Str("signal_id", s.ID).Msg("signal cannot be evaluated")
			continue
		}
		created, err := e.store.CreatePendingTrade(ctx, trade, e.opts.PendingTTL)
		if err != nil {
			return opened, fmt.Errorf("create pending trade %s: %w", s.ID, err)
		}
		if created {
			opened++
			e.metrics.TradeOpened()
		}
	}
	return opened, nil
}

func (e *Engine) evaluated(ctx context.Context, signalID string) (bool, error) {
	_, err := e.store.EvalResult(ctx, signalID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, model.ErrNotFound):
		return false, nil
	case errors.Is(err, model.ErrDataQuality):
		// an unreadable result still counts as terminal
		return true, nil
	default:
		return false, fmt.Errorf("load eval result %s: %w", signalID, err)
	}
}

// Close grades every pending trade whose hold period has elapsed. Trades whose
// exit books are unavailable stay pending until a later cycle.
func (e *Engine) Close(ctx context.Context) ([]model.VirtualEvalResult, error) {
	pending, err := e.store.PendingTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending trades: %w", err)
	}

	now := e.opts.Now().UTC()
	books := make(map[string]map[string]model.NormalizedBook)
	var results []model.VirtualEvalResult
	remaining := 0
	for _, trade := range pending {
		if now.Sub(trade.OpenTS) < e.opts.HoldDuration {
			remaining++
			continue
		}

		done, err := e.evaluated(ctx, trade.SignalID)
		if err != nil {
			return results, err
		}
		if done {
			if err := e.store.DeletePendingTrade(ctx, trade.SignalID); err != nil {
				return results, fmt.Errorf("delete pending trade %s: %w", trade.SignalID, err)
			}
			continue
		}

		symbolBooks, ok := books[trade.Symbol]
		if !ok {
			symbolBooks, err = e.store.BooksFor(ctx, trade.Symbol)
			if err != nil {
				return results, fmt.Errorf("load books %s: %w", trade.Symbol, err)
			}
			books[trade.Symbol] = symbolBooks
		}
		buyBook, okBuy := symbolBooks[trade.BuyExchange]
		sellBook, okSell := symbolBooks[trade.SellExchange]
		if !okBuy || !okSell {
			e.logger.Debug().Str("signal_id", trade.SignalID).Msg("exit books unavailable, deferring")
			remaining++
			continue
		}

		result := e.Grade(trade, buyBook.Bid, sellBook.Ask, now)
		if err := e.store.SaveEvalResult(ctx, result); err != nil {
			return results, fmt.Errorf("save eval result %s: %w", trade.SignalID, err)
		}
		if err := e.store.DeletePendingTrade(ctx, trade.SignalID); err != nil {
			return results, fmt.Errorf("delete pending trade %s: %w", trade.SignalID, err)
		}
		e.metrics.TradeEvaluated(result.Grade)
		e.archive(ctx, result)
		e.logger.Info().
			Str("signal_id", result.SignalID).
			Str("symbol", result.Symbol).
			Float64("predicted_usd", result.PredictedProfitUSD).
			Float64("final_usd", result.FinalProfitUSD).
			Str("grade", string(result.Grade)).
			Msg("virtual trade evaluated")
		results = append(results, result)
	}
	e.metrics.SetPending(remaining)
	return results, nil
}

// Grade unwinds trade at exitSell (bid where it bought) and exitBuy (ask where
// it sold) and classifies the change in spread.
func (e *Engine) Grade(trade model.VirtualTrade, exitSell, exitBuy float64, now time.Time) model.VirtualEvalResult {
	final := FinalProfit(trade, exitSell, exitBuy)
	return model.VirtualEvalResult{
		SignalID:           trade.SignalID,
		Symbol:             trade.Symbol,
		BuyExchange:        trade.BuyExchange,
		SellExchange:       trade.SellExchange,
		OpenTS:             trade.OpenTS,
		EvalTS:             now,
		PredictedProfitUSD: trade.PredictedProfitUSD,
		FinalProfitUSD:     final,
		Grade:              Classify(final, e.opts.Epsilon),
	}
}

// FinalProfit is (spread_close - spread_open) * qty with qty = volume / open buy price.
func FinalProfit(trade model.VirtualTrade, exitSell, exitBuy float64) float64 {
	qty := trade.VolumeUSD / trade.OpenPriceBuy
	spreadOpen := trade.OpenPriceSell - trade.OpenPriceBuy
	spreadClose := exitSell - exitBuy
	return (spreadClose - spreadOpen) * qty
}

// Classify maps a profit onto a grade with a dead band of eps around zero.
func Classify(profit, eps float64) model.Grade {
	switch {
	case math.IsNaN(profit):
		return model.GradeNeutral
	case profit > eps:
		return model.GradeWin
	case profit < -eps:
		return model.GradeLoss
	default:
		return model.GradeNeutral
	}
}

func (e *Engine) archive(ctx context.Context, r model.VirtualEvalResult) {
	if e.opts.Archive == nil {
		return
	}
	if err := e.opts.Archive.ArchiveEvalResult(ctx, r); err != nil {
		e.logger.Warn().Err(err).Str("signal_id", r.SignalID).Msg("archive eval result failed")
	}
}
