package tuner

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbsignals/internal/model"
	"arbsignals/internal/state"
)

var (
	now    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	floors = model.Thresholds{MinNetProfitUSD: 1, MinProfitBps: 5, MinSpreadBps: 10, MinVolumeUSD: 100}
)

func sig(id string, profit, spread, volume float64) model.Signal {
	return model.Signal{
		ID: id, Symbol: "BTCUSDT",
		Route:     model.Route{Symbol: "BTCUSDT", BuyExchange: "A", SellExchange: "B", BuyPrice: 100, SellPrice: 101},
		ProfitUSD: profit, SpreadBps: spread, VolumeUSD: volume,
		Severity: model.SeverityElevated, CreatedAt: now,
	}
}

func TestMedianAndQuantiles(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))

	// matches the exclusive method: [1..8] -> 2.25, 4.5, 6.75
	q := Quantiles([]float64{8, 7, 6, 5, 4, 3, 2, 1}, 4)
	require.Len(t, q, 3)
	assert.InDelta(t, 2.25, q[0], 1e-12)
	assert.InDelta(t, 4.5, q[1], 1e-12)
	assert.InDelta(t, 6.75, q[2], 1e-12)

	assert.InDelta(t, 3.75, P75([]float64{1, 2, 3, 4}), 1e-12)
	assert.Equal(t, 2.0, P75([]float64{1, 2, 3}), "fewer than four samples fall back to the median")
}

func TestEmptyHistoryPublishesDefaults(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory(state.MemoryOptions{})
	tu := New(Options{Window: 500, Floors: floors, Now: func() time.Time { return now }}, store, nil, zerolog.Nop())

	snap, err := tu.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ParamSnapshot{
		MinNetProfitUSD: 1, MinSpreadBps: 10, MinVolumeUSD: 100, UpdatedAt: now,
	}, snap)

	stored, err := store.ParamSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.MinVolumeUSD, stored.MinVolumeUSD)
}

func TestComputeTightensAboveFloors(t *testing.T) {
	signals := []model.Signal{
		sig("1", 2, 20, 500), sig("2", 4, 30, 800),
		sig("3", 6, 40, 1000), sig("4", 8, 50, 1000),
	}
	snap := Compute(signals, floors, now)
	assert.InDelta(t, 7.5, snap.MinNetProfitUSD, 1e-12)
	assert.Equal(t, 35.0, snap.MinSpreadBps)
	assert.Equal(t, 900.0, snap.MinVolumeUSD)
	assert.Equal(t, 4, snap.SampleCount)
}

func TestTunerNeverBelowFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(20)
		signals := make([]model.Signal, n)
		for i := range signals {
			signals[i] = sig("x", rng.Float64()*3-1, rng.Float64()*30-5, rng.Float64()*300)
		}
		snap := Compute(signals, floors, now)
		assert.GreaterOrEqual(t, snap.MinNetProfitUSD, floors.MinNetProfitUSD)
		assert.GreaterOrEqual(t, snap.MinSpreadBps, floors.MinSpreadBps)
		assert.GreaterOrEqual(t, snap.MinVolumeUSD, floors.MinVolumeUSD)
	}
}

func TestCycleReadsBoundedWindow(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemory(state.MemoryOptions{})
	var history []model.Signal
	for i := 0; i < 10; i++ {
		history = append(history, sig("old", 100, 100, 10_000))
	}
	require.NoError(t, store.AppendSignalHistory(ctx, history))
	require.NoError(t, store.AppendSignalHistory(ctx, []model.Signal{sig("new1", 2, 20, 200), sig("new2", 2, 20, 200)}))

	tu := New(Options{Window: 2, Floors: floors, Now: func() time.Time { return now }}, store, nil, zerolog.Nop())
	snap, err := tu.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.SampleCount)
	assert.Equal(t, 200.0, snap.MinVolumeUSD)
}
