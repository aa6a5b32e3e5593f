package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbsignals/internal/model"
	"arbsignals/internal/state"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newClock() *clock { return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)} }

func testSignal(id string) model.Signal {
	return model.Signal{
		ID:     id,
		Symbol: "BTCUSDT",
		Route: model.Route{
			Symbol: "BTCUSDT", BuyExchange: "A", SellExchange: "B",
			BuyPrice: 100, SellPrice: 100.5, VolumeUSD: 1000,
		},
		ProfitUSD: 2.5,
		ProfitBps: 25,
		SpreadBps: 50,
		VolumeUSD: 1000,
		Severity:  model.SeverityElevated,
		CreatedAt: newClock().t,
	}
}

func setBooks(t *testing.T, store *state.Memory, at time.Time, aBid, aAsk, bBid, bAsk float64) {
	t.Helper()
	a, err := model.Normalize(model.Quote{Exchange: "A", Symbol: "BTCUSDT", Bid: aBid, Ask: aAsk, BidSize: 10, AskSize: 10, Timestamp: at})
	require.NoError(t, err)
	b, err := model.Normalize(model.Quote{Exchange: "B", Symbol: "BTCUSDT", Bid: bBid, Ask: bAsk, BidSize: 10, AskSize: 10, Timestamp: at})
	require.NoError(t, err)
	require.NoError(t, store.SetBooks(context.Background(), "BTCUSDT", map[string]model.NormalizedBook{"A": a, "B": b}))
}

func newEngine(store Store, c *clock) *Engine {
	return New(Options{HoldDuration: 30 * time.Second, Now: c.Now}, store, nil, zerolog.Nop())
}

func TestFinalProfitLossScenario(t *testing.T) {
	// spread_open = 0.5, qty = 10, spread_close = 0.2
	trade := model.VirtualTrade{OpenPriceBuy: 100, OpenPriceSell: 100.5, VolumeUSD: 1000}
	final := FinalProfit(trade, 100.7, 100.5)
	assert.InDelta(t, -3.0, final, 1e-9)
	assert.Equal(t, model.GradeLoss, Classify(final, DefaultEpsilon))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.GradeWin, Classify(0.01, DefaultEpsilon))
	assert.Equal(t, model.GradeNeutral, Classify(5e-7, DefaultEpsilon))
	assert.Equal(t, model.GradeNeutral, Classify(-5e-7, DefaultEpsilon))
	assert.Equal(t, model.GradeLoss, Classify(-0.01, DefaultEpsilon))
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := state.NewMemory(state.MemoryOptions{Clock: c.Now})
	require.NoError(t, store.ReplaceSignals(ctx, []model.Signal{testSignal("s1")}))
	e := newEngine(store, c)

	n, err := e.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := store.PendingTrades(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 100.0, pending[0].OpenPriceBuy)
	assert.Equal(t, 2.5, pending[0].PredictedProfitUSD)
}

func TestCloseWaitsForHoldThenGrades(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := state.NewMemory(state.MemoryOptions{Clock: c.Now})
	require.NoError(t, store.ReplaceSignals(ctx, []model.Signal{testSignal("s1")}))
	e := newEngine(store, c)

	_, err := e.Open(ctx)
	require.NoError(t, err)

	c.t = c.t.Add(29 * time.Second)
	setBooks(t, store, c.t, 100.7, 100.8, 100.4, 100.5)
	results, err := e.Close(ctx)
	require.NoError(t, err)
	assert.Empty(t, results, "hold period not yet elapsed")

	c.t = c.t.Add(time.Second)
	setBooks(t, store, c.t, 100.7, 100.8, 100.4, 100.5)
	results, err = e.Close(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	// exit sell on A at 100.7, exit buy on B at 100.5 -> spread_close 0.2
	assert.InDelta(t, -3.0, r.FinalProfitUSD, 1e-9)
	assert.Equal(t, model.GradeLoss, r.Grade)
	assert.Equal(t, c.t, r.EvalTS)

	_, err = store.PendingTrade(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNotFound, "pending trade removed after evaluation")
	stored, err := store.EvalResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.GradeLoss, stored.Grade)

	bySymbol, err := store.RecentEvalResults(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, bySymbol, 1)

	// signal still in the current set: no second trade is opened
	n, err := e.Open(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCloseDefersWhenBookMissing(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := state.NewMemory(state.MemoryOptions{Clock: c.Now})
	require.NoError(t, store.ReplaceSignals(ctx, []model.Signal{testSignal("s1")}))
	e := newEngine(store, c)
	_, err := e.Open(ctx)
	require.NoError(t, err)

	c.t = c.t.Add(time.Minute)
	a, err := model.Normalize(model.Quote{Exchange: "A", Symbol: "BTCUSDT", Bid: 100, Ask: 101, BidSize: 1, AskSize: 1, Timestamp: c.t})
	require.NoError(t, err)
	require.NoError(t, store.SetBooks(ctx, "BTCUSDT", map[string]model.NormalizedBook{"A": a}))

	results, err := e.Close(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	_, err = store.PendingTrade(ctx, "s1")
	assert.NoError(t, err, "trade stays pending")
}

func TestCloseCleansUpAfterInterruptedHandoff(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := state.NewMemory(state.MemoryOptions{Clock: c.Now})
	trade := model.VirtualTrade{
		SignalID: "s1", Symbol: "BTCUSDT", BuyExchange: "A", SellExchange: "B",
		OpenPriceBuy: 100, OpenPriceSell: 100.5, OpenTS: c.t, VolumeUSD: 1000,
	}
	_, err := store.CreatePendingTrade(ctx, trade, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.SaveEvalResult(ctx, model.VirtualEvalResult{
		SignalID: "s1", Symbol: "BTCUSDT", Grade: model.GradeWin, FinalProfitUSD: 1,
	}))

	c.t = c.t.Add(time.Minute)
	e := newEngine(store, c)
	results, err := e.Close(ctx)
	require.NoError(t, err)
	assert.Empty(t, results, "existing result is not rewritten")

	_, err = store.PendingTrade(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	stored, err := store.EvalResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.GradeWin, stored.Grade)
}

func TestEveryTradeReachesExactlyOneResult(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := state.NewMemory(state.MemoryOptions{Clock: c.Now})
	signals := []model.Signal{testSignal("s1"), testSignal("s2"), testSignal("s3")}
	require.NoError(t, store.ReplaceSignals(ctx, signals))
	e := newEngine(store, c)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Cycle(ctx))
		for _, s := range signals {
			_, pendErr := store.PendingTrade(ctx, s.ID)
			_, resErr := store.EvalResult(ctx, s.ID)
			assert.False(t, pendErr == nil && resErr == nil, "signal %s pending and evaluated at once", s.ID)
		}
		c.t = c.t.Add(15 * time.Second)
		setBooks(t, store, c.t, 100.2, 100.3, 100.6, 100.7)
	}

	for _, s := range signals {
		r, err := store.EvalResult(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, r.Grade.Valid())
	}
	all, err := store.RecentEvalResults(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

type failingArchive struct{ calls int }

func (f *failingArchive) ArchiveEvalResult(context.Context, model.VirtualEvalResult) error {
	f.calls++
	return errors.New("db down")
}

func TestArchiveFailureDoesNotBlockEvaluation(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := state.NewMemory(state.MemoryOptions{Clock: c.Now})
	require.NoError(t, store.ReplaceSignals(ctx, []model.Signal{testSignal("s1")}))
	archive := &failingArchive{}
	e := New(Options{HoldDuration: time.Second, Archive: archive, Now: c.Now}, store, nil, zerolog.Nop())

	_, err := e.Open(ctx)
	require.NoError(t, err)
	c.t = c.t.Add(2 * time.Second)
	setBooks(t, store, c.t, 100, 100.1, 100.5, 100.6)
	results, err := e.Close(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, archive.calls)
}
