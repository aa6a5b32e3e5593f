package model

import (
	"fmt"
	"math"
	"time"
)

// Severity classifies how interesting a signal is for alerting consumers.
type Severity string

const (
	SeverityElevated Severity = "elevated"
	SeverityCritical Severity = "critical"
)

// Route is a directed buy/sell pair with the prices and notional of one
// simulated trade. BuyPrice and SellPrice are average execution prices.
type Route struct {
	Symbol       string  `json:"symbol"`
	BuyExchange  string  `json:"buy_exchange"`
	SellExchange string  `json:"sell_exchange"`
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	VolumeUSD    float64 `json:"volume_usd"`
}

// Key identifies the direction independent of the trade size.
func (r Route) Key() string {
	return r.Symbol + ":" + r.BuyExchange + ">" + r.SellExchange
}

// Signal is an immutable record of one profitable route simulation.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Route      Route     `json:"route"`
	ProfitUSD  float64   `json:"profit_usd"`
	ProfitBps  float64   `json:"profit_bps"`
	SpreadBps  float64   `json:"spread_bps"`
	VolumeUSD  float64   `json:"volume_usd"`
	Severity   Severity  `json:"severity"`
	Confidence float64   `json:"confidence"`
	Score      *float64  `json:"score,omitempty"`
	Cluster    *int      `json:"cluster,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks the fields a consumer relies on.
func (s Signal) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: signal without id", ErrDataQuality)
	case s.Symbol == "" || s.Route.BuyExchange == "" || s.Route.SellExchange == "":
		return fmt.Errorf("%w: signal %s missing route", ErrDataQuality, s.ID)
	case s.Route.BuyExchange == s.Route.SellExchange:
		return fmt.Errorf("%w: signal %s same-exchange route", ErrDataQuality, s.ID)
	case !(s.Route.BuyPrice > 0) || !(s.Route.SellPrice > 0):
		return fmt.Errorf("%w: signal %s non-positive route price", ErrDataQuality, s.ID)
	case !(s.VolumeUSD > 0):
		return fmt.Errorf("%w: signal %s non-positive volume", ErrDataQuality, s.ID)
	case math.IsNaN(s.ProfitUSD) || math.IsNaN(s.ProfitBps) || math.IsNaN(s.SpreadBps):
		return fmt.Errorf("%w: signal %s NaN metric", ErrDataQuality, s.ID)
	case s.Confidence < 0 || s.Confidence > 1:
		return fmt.Errorf("%w: signal %s confidence out of range", ErrDataQuality, s.ID)
	}
	return nil
}
