package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"arbsignals/internal/model"
)

// SignalRecord is an archived signal.
type SignalRecord struct {
	ID           string
	Symbol       string
	BuyExchange  string
	SellExchange string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	VolumeUSD    decimal.Decimal
	ProfitUSD    decimal.Decimal
	ProfitBps    decimal.Decimal
	SpreadBps    decimal.Decimal
	Severity     string
	Confidence   decimal.Decimal
	Score        *float64
	CreatedAt    time.Time
}

// EvalRecord is an archived virtual trade outcome.
type EvalRecord struct {
	SignalID           string
	Symbol             string
	BuyExchange        string
	SellExchange       string
	OpenTS             time.Time
	EvalTS             time.Time
	PredictedProfitUSD decimal.Decimal
	FinalProfitUSD     decimal.Decimal
	Grade              string
}

// GradeSummary aggregates archived results per grade.
type GradeSummary struct {
	Grade          string
	Count          int64
	TotalFinalUSD  decimal.Decimal
	TotalPredicted decimal.Decimal
}

// SignalRecordFrom converts a domain signal.
func SignalRecordFrom(s model.Signal) SignalRecord {
	return SignalRecord{
		ID:           s.ID,
		Symbol:       s.Symbol,
		BuyExchange:  s.Route.BuyExchange,
		SellExchange: s.Route.SellExchange,
		BuyPrice:     decimal.NewFromFloat(s.Route.BuyPrice),
		SellPrice:    decimal.NewFromFloat(s.Route.SellPrice),
		VolumeUSD:    decimal.NewFromFloat(s.VolumeUSD),
		ProfitUSD:    decimal.NewFromFloat(s.ProfitUSD),
		ProfitBps:    decimal.NewFromFloat(s.ProfitBps),
		SpreadBps:    decimal.NewFromFloat(s.SpreadBps),
		Severity:     string(s.Severity),
		Confidence:   decimal.NewFromFloat(s.Confidence),
		Score:        s.Score,
		CreatedAt:    s.CreatedAt,
	}
}

// EvalRecordFrom converts a domain result.
func EvalRecordFrom(r model.VirtualEvalResult) EvalRecord {
	return EvalRecord{
		SignalID:           r.SignalID,
		Symbol:             r.Symbol,
		BuyExchange:        r.BuyExchange,
		SellExchange:       r.SellExchange,
		OpenTS:             r.OpenTS,
		EvalTS:             r.EvalTS,
		PredictedProfitUSD: decimal.NewFromFloat(r.PredictedProfitUSD),
		FinalProfitUSD:     decimal.NewFromFloat(r.FinalProfitUSD),
		Grade:              string(r.Grade),
	}
}

// Result converts the record back to the domain type.
func (r EvalRecord) Result() model.VirtualEvalResult {
	return model.VirtualEvalResult{
		SignalID:           r.SignalID,
		Symbol:             r.Symbol,
		BuyExchange:        r.BuyExchange,
		SellExchange:       r.SellExchange,
		OpenTS:             r.OpenTS,
		EvalTS:             r.EvalTS,
		PredictedProfitUSD: r.PredictedProfitUSD.InexactFloat64(),
		FinalProfitUSD:     r.FinalProfitUSD.InexactFloat64(),
		Grade:              model.Grade(r.Grade),
	}
}
