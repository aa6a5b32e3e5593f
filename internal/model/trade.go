package model

import (
	"fmt"
	"time"
)

// Grade is the terminal verdict of a virtual trade.
type Grade string

const (
	GradeWin     Grade = "WIN"
	GradeNeutral Grade = "NEUTRAL"
	GradeLoss    Grade = "LOSS"
)

// Valid reports whether g is one of the known grades.
func (g Grade) Valid() bool {
	switch g {
	case GradeWin, GradeNeutral, GradeLoss:
		return true
	}
	return false
}

// VirtualTrade is an open (PENDING) evaluation for a signal.
type VirtualTrade struct {
	SignalID           string    `json:"signal_id"`
	Symbol             string    `json:"symbol"`
	BuyExchange        string    `json:"buy_exchange"`
	SellExchange       string    `json:"sell_exchange"`
	OpenPriceBuy       float64   `json:"open_price_buy"`
	OpenPriceSell      float64   `json:"open_price_sell"`
	OpenTS             time.Time `json:"open_ts"`
	VolumeUSD          float64   `json:"volume_usd"`
	PredictedProfitUSD float64   `json:"predicted_profit_usd"`
}

// Validate checks that the trade can be graded.
func (t VirtualTrade) Validate() error {
	if t.SignalID == "" || t.Symbol == "" || t.BuyExchange == "" || t.SellExchange == "" {
		return fmt.Errorf("%w: virtual trade missing identity", ErrDataQuality)
	}
	if !(t.OpenPriceBuy > 0) || !(t.OpenPriceSell > 0) || !(t.VolumeUSD > 0) {
		return fmt.Errorf("%w: virtual trade %s non-positive prices or volume", ErrDataQuality, t.SignalID)
	}
	if t.OpenTS.IsZero() {
		return fmt.Errorf("%w: virtual trade %s without open time", ErrDataQuality, t.SignalID)
	}
	return nil
}

// VirtualEvalResult is the terminal (EVALUATED) record for a virtual trade.
type VirtualEvalResult struct {
	SignalID           string    `json:"signal_id"`
	Symbol             string    `json:"symbol"`
	BuyExchange        string    `json:"buy_exchange"`
	SellExchange       string    `json:"sell_exchange"`
	OpenTS             time.Time `json:"open_ts"`
	EvalTS             time.Time `json:"eval_ts"`
	PredictedProfitUSD float64   `json:"predicted_profit_usd"`
	FinalProfitUSD     float64   `json:"final_profit_usd"`
	Grade              Grade     `json:"grade"`
}

// Validate checks the result carries a known grade and identity.
func (r VirtualEvalResult) Validate() error {
	if r.SignalID == "" || r.Symbol == "" {
		return fmt.Errorf("%w: eval result missing identity", ErrDataQuality)
	}
	if !r.Grade.Valid() {
		return fmt.Errorf("%w: eval result %s unknown grade %q", ErrDataQuality, r.SignalID, r.Grade)
	}
	return nil
}
