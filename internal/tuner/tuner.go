// Package tuner recomputes detection thresholds from the recent signal
// population. Tuned values only ever tighten the configured floors.
package tuner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"arbsignals/internal/metrics"
	"arbsignals/internal/model"
)

// Store is the slice of the state store the tuner needs.
type Store interface {
	RecentSignalHistory(ctx context.Context, limit int) ([]model.Signal, error)
	SetParamSnapshot(ctx context.Context, snap model.ParamSnapshot) error
}

// Options configure the tuner.
type Options struct {
	// Window is the number of most recent signals considered.
	Window int
	Floors model.Thresholds
	Now    func() time.Time
}

// Tuner publishes ParamSnapshots.
type Tuner struct {
	opts    Options
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New constructs a Tuner.
func New(opts Options, store Store, m *metrics.Metrics, logger zerolog.Logger) *Tuner {
	if opts.Window <= 0 {
		opts.Window = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tuner{
		opts:    opts,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "tuner").Logger(),
	}
}

// Cycle reads the history window and replaces the snapshot.
func (t *Tuner) Cycle(ctx context.Context) (model.ParamSnapshot, error) {
	history, err := t.store.RecentSignalHistory(ctx, t.opts.Window)
	if err != nil {
		return model.ParamSnapshot{}, fmt.Errorf("load signal history: %w", err)
	}

	snap := Compute(history, t.opts.Floors, t.opts.Now().UTC())
	if err := t.store.SetParamSnapshot(ctx, snap); err != nil {
		return model.ParamSnapshot{}, fmt.Errorf("store param snapshot: %w", err)
	}
	t.metrics.SetSnapshot(snap)
	t.logger.Debug().
		Int("samples", snap.SampleCount).
		Float64("min_net_profit_usd", snap.MinNetProfitUSD).
		Float64("min_spread_bps", snap.MinSpreadBps).
		Float64("min_volume_usd", snap.MinVolumeUSD).
		Msg("param snapshot updated")
	return snap, nil
}

// Compute derives a snapshot from signals. An empty history yields the floors.
func Compute(signals []model.Signal, floors model.Thresholds, now time.Time) model.ParamSnapshot {
	snap := model.ParamSnapshot{
		MinNetProfitUSD: floors.MinNetProfitUSD,
		MinSpreadBps:    floors.MinSpreadBps,
		MinVolumeUSD:    floors.MinVolumeUSD,
		UpdatedAt:       now,
	}

	profits := make([]float64, 0, len(signals))
	spreads := make([]float64, 0, len(signals))
	volumes := make([]float64, 0, len(signals))
	for _, s := range signals {
		if !finite(s.ProfitUSD) || !finite(s.SpreadBps) || !finite(s.VolumeUSD) {
			continue
		}
		profits = append(profits, s.ProfitUSD)
		spreads = append(spreads, s.SpreadBps)
		volumes = append(volumes, s.VolumeUSD)
	}
	snap.SampleCount = len(profits)
	if snap.SampleCount == 0 {
		return snap
	}

	snap.MinNetProfitUSD = math.Max(floors.MinNetProfitUSD, P75(profits))
	snap.MinSpreadBps = math.Max(floors.MinSpreadBps, Median(spreads))
	snap.MinVolumeUSD = math.Max(floors.MinVolumeUSD, Median(volumes))
	return snap
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
