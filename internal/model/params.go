package model

import (
	"fmt"
	"math"
	"time"
)

// ParamSnapshot holds the tuned detection thresholds.
type ParamSnapshot struct {
	MinNetProfitUSD float64   `json:"min_net_profit_usd"`
	MinSpreadBps    float64   `json:"min_spread_bps"`
	MinVolumeUSD    float64   `json:"min_volume_usd"`
	SampleCount     int       `json:"sample_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate rejects snapshots with NaN or negative thresholds.
func (p ParamSnapshot) Validate() error {
	for _, v := range []float64{p.MinNetProfitUSD, p.MinSpreadBps, p.MinVolumeUSD} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: param snapshot has invalid threshold %v", ErrDataQuality, v)
		}
	}
	return nil
}

// Thresholds are the floors a signal must meet to qualify.
type Thresholds struct {
	MinNetProfitUSD float64
	MinProfitBps    float64
	MinSpreadBps    float64
	MinVolumeUSD    float64
}

// Effective merges a tuned snapshot into static floors. Tuned values can only
// tighten a floor, never relax it. A nil snapshot returns the floors unchanged.
func (t Thresholds) Effective(snap *ParamSnapshot) Thresholds {
	if snap == nil {
		return t
	}
	out := t
	out.MinNetProfitUSD = math.Max(t.MinNetProfitUSD, snap.MinNetProfitUSD)
	out.MinSpreadBps = math.Max(t.MinSpreadBps, snap.MinSpreadBps)
	out.MinVolumeUSD = math.Max(t.MinVolumeUSD, snap.MinVolumeUSD)
	return out
}
