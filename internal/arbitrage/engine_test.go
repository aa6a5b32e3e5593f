package arbitrage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbsignals/internal/model"
	"arbsignals/internal/state"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func book(exchange string, bid, ask, size float64) model.NormalizedBook {
	b, err := model.Normalize(model.Quote{
		Exchange: exchange, Symbol: "BTCUSDT",
		Bid: bid, Ask: ask, BidSize: size, AskSize: size,
		Timestamp: testNow,
	})
	if err != nil {
		panic(err)
	}
	return b
}

func scenarioBooks() map[string]model.NormalizedBook {
	return map[string]model.NormalizedBook{
		"A": book("A", 100, 100.1, 10),
		"B": book("B", 100.5, 100.6, 10),
	}
}

func newTestEngine(store Store, mutate func(*Options)) *Engine {
	seq := 0
	opts := Options{
		Symbols: []string{"BTCUSDT"},
		Costs: CostModel{
			Fees:      model.FeeTable{"A": {Taker: 0.0004}, "B": {Taker: 0.001}},
			SlippageK: 0.01,
		},
		Thresholds:     model.Thresholds{MinProfitBps: 5, MinVolumeUSD: 100},
		VolumeCapUSD:   1000,
		AlertProfitBps: 25,
		MaxBookAge:     5 * time.Second,
		Now:            func() time.Time { return testNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("sig-%d", seq)
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts, store, nil, zerolog.Nop())
}

func TestDetectBuysCheapSellsRich(t *testing.T) {
	e := newTestEngine(nil, nil)
	signals := e.Detect("BTCUSDT", scenarioBooks(), e.opts.Thresholds, testNow)

	require.Len(t, signals, 1, "only A->B is profitable")
	s := signals[0]
	assert.Equal(t, "A", s.Route.BuyExchange)
	assert.Equal(t, "B", s.Route.SellExchange)
	assert.Greater(t, s.ProfitUSD, 0.0)

	// 1000 USD at 100.1, sold at 100.5, fees 0.4 + 1.004, slippage 0.01*sqrt(1000)
	received := 1000 / 100.1 * 100.5
	want := received - 1000 - 0.4 - received*0.001 - 0.01*31.6227766017
	assert.InDelta(t, want, s.ProfitUSD, 1e-6)
	assert.InDelta(t, want/1000*10_000, s.ProfitBps, 1e-6)
	assert.InDelta(t, (100.5-100.1)/100.1*10_000, s.SpreadBps, 1e-6)
	assert.InDelta(t, 1000, s.VolumeUSD, 1e-9)
	assert.Equal(t, model.SeverityElevated, s.Severity)
	assert.InDelta(t, s.ProfitBps/25, s.Confidence, 1e-9)
}

func TestDetectReverseDirectionRejected(t *testing.T) {
	e := newTestEngine(nil, nil)
	books := scenarioBooks()
	for _, s := range e.Detect("BTCUSDT", books, e.opts.Thresholds, testNow) {
		assert.False(t, s.Route.BuyExchange == "B" && s.Route.SellExchange == "A", "B->A has a negative spread")
	}

	buy, sell := books["B"], books["A"]
	ex, err := e.opts.Costs.Simulate(buy, sell, TradableNotional(buy, sell, 1000))
	require.NoError(t, err)
	assert.Less(t, ex.SpreadBps, 0.0)
	assert.Less(t, ex.ProfitUSD, 0.0)
}

func TestDetectEvaluatesBothDirections(t *testing.T) {
	e := newTestEngine(nil, func(o *Options) {
		o.Costs.Fees = model.FeeTable{}
		o.Costs.SlippageK = 0
		o.Thresholds = model.Thresholds{}
	})
	// every ordered pair is simulated; only directions with a positive spread survive
	books := map[string]model.NormalizedBook{
		"A": book("A", 100, 100.1, 10),
		"B": book("B", 100.5, 100.6, 10),
		"C": book("C", 101, 101.2, 10),
	}
	signals := e.Detect("BTCUSDT", books, e.opts.Thresholds, testNow)
	routes := make(map[string]bool)
	for _, s := range signals {
		routes[s.Route.BuyExchange+">"+s.Route.SellExchange] = true
	}
	assert.Equal(t, map[string]bool{"A>B": true, "A>C": true, "B>C": true}, routes)
	assert.GreaterOrEqual(t, signals[0].ProfitUSD, signals[len(signals)-1].ProfitUSD, "sorted by profit")
}

func TestDetectSkipsStaleAndSingleExchange(t *testing.T) {
	e := newTestEngine(nil, nil)
	books := scenarioBooks()
	stale := books["B"]
	stale.Timestamp = testNow.Add(-time.Minute)
	books["B"] = stale

	assert.Empty(t, e.Detect("BTCUSDT", books, e.opts.Thresholds, testNow))
	assert.Empty(t, e.Detect("BTCUSDT", map[string]model.NormalizedBook{"A": book("A", 1, 2, 1)}, e.opts.Thresholds, testNow))
}

func TestDetectDropsCorruptBooks(t *testing.T) {
	e := newTestEngine(nil, nil)
	books := scenarioBooks()
	bad := books["B"]
	bad.Bid, bad.Ask = 101, 100
	books["B"] = bad
	assert.Empty(t, e.Detect("BTCUSDT", books, e.opts.Thresholds, testNow))
}

func TestVolumeBelowMinimumSkipped(t *testing.T) {
	e := newTestEngine(nil, nil)
	books := map[string]model.NormalizedBook{
		"A": book("A", 100, 100.1, 0.5),
		"B": book("B", 100.5, 100.6, 0.5),
	}
	th := e.opts.Thresholds
	th.MinVolumeUSD = 100
	// available liquidity is 0.5 * 100.1 = 50 USD
	assert.Empty(t, e.Detect("BTCUSDT", books, th, testNow))
}

func TestSimulateInsufficientDepth(t *testing.T) {
	costs := CostModel{}
	buy := book("A", 100, 100.1, 10)
	buy.Asks = []model.Level{{Price: 100.1, Size: 1}, {Price: 100.2, Size: 1}}
	sell := book("B", 100.5, 100.6, 10)

	_, err := costs.Simulate(buy, sell, 1000)
	assert.ErrorIs(t, err, model.ErrInsufficientDepth)

	ex, err := costs.Simulate(buy, sell, 150)
	require.NoError(t, err)
	// 100.1 USD fills the first level, 49.9 USD the second
	assert.InDelta(t, 1+49.9/100.2, ex.Quantity, 1e-12)
	assert.Greater(t, ex.AvgBuy, 100.1)
}

func TestCycleWritesAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory(state.MemoryOptions{})
	require.NoError(t, store.SetBooks(ctx, "BTCUSDT", scenarioBooks()))

	sub, err := store.Subscribe(ctx, state.ChannelSignals)
	require.NoError(t, err)

	e := newTestEngine(store, nil)
	signals, err := e.Cycle(ctx)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	current, err := store.Signals(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "sig-1", current[0].ID)

	history, err := store.RecentSignalHistory(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	select {
	case payload := <-sub:
		var got model.Signal
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, "sig-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("signal not published")
	}

	// next cycle with no opportunity replaces the set wholesale
	require.NoError(t, store.SetBooks(ctx, "BTCUSDT", map[string]model.NormalizedBook{}))
	_, err = e.Cycle(ctx)
	require.NoError(t, err)
	current, err = store.Signals(ctx)
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestCycleUsesTunedThresholdsAboveFloor(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory(state.MemoryOptions{})
	require.NoError(t, store.SetBooks(ctx, "BTCUSDT", scenarioBooks()))

	e := newTestEngine(store, nil)

	require.NoError(t, store.SetParamSnapshot(ctx, model.ParamSnapshot{MinNetProfitUSD: 5, UpdatedAt: testNow}))
	signals, err := e.Cycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, signals, "tuned profit floor of 5 USD exceeds the 2.28 USD opportunity")

	// a looser tuned value cannot relax the configured volume floor
	require.NoError(t, store.SetParamSnapshot(ctx, model.ParamSnapshot{MinVolumeUSD: 1, UpdatedAt: testNow}))
	th, err := e.Thresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, th.MinVolumeUSD)
}

type fixedScorer struct {
	score float64
	ok    bool
}

func (f fixedScorer) Score(Features) (float64, bool) { return f.score, f.ok }

func TestScorerPostFilter(t *testing.T) {
	e := newTestEngine(nil, func(o *Options) {
		o.Scorer = fixedScorer{score: 0.2, ok: true}
		o.MinScore = 0.5
	})
	store := state.NewMemory(state.MemoryOptions{})
	e.store = store
	signals := e.Detect("BTCUSDT", scenarioBooks(), e.opts.Thresholds, testNow)
	require.Len(t, signals, 1)
	assert.Empty(t, e.postFilter(context.Background(), signals))

	e.opts.Scorer = fixedScorer{ok: false}
	kept := e.postFilter(context.Background(), e.Detect("BTCUSDT", scenarioBooks(), e.opts.Thresholds, testNow))
	require.Len(t, kept, 1)
	assert.Nil(t, kept[0].Score, "no opinion means no filtering")
}

func TestBuildFeatures(t *testing.T) {
	s := model.Signal{
		Symbol:    "BTCUSDT",
		Route:     model.Route{BuyExchange: "A", SellExchange: "B", BuyPrice: 100, SellPrice: 101},
		SpreadBps: 100,
		CreatedAt: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
	}
	f := BuildFeatures(s, nil, map[string]model.ExchangeHealth{"A": {CircuitOpen: true}})
	assert.Equal(t, 1.0, f.SpreadAbs)
	assert.Equal(t, 100.5, f.MidPrice)
	assert.Equal(t, 0.2, f.BuyExchangeScore)
	assert.Equal(t, 0.5, f.SellExchangeScore)
	assert.Equal(t, 0.25, f.HourOfDay)
	assert.Len(t, f.Vector(), 11)
}
