package arbitrage

import (
	"arbsignals/internal/model"
)

// Features is the numeric description of a signal handed to external scorers.
type Features struct {
	SpreadAbs         float64
	SpreadBps         float64
	NetProfitUSD      float64
	NetProfitBps      float64
	VolumeUSD         float64
	SymbolIndex       float64
	MidPrice          float64
	DispersionBps     float64
	BuyExchangeScore  float64
	SellExchangeScore float64
	HourOfDay         float64
}

// Vector flattens the features in declaration order.
func (f Features) Vector() []float64 {
	return []float64{
		f.SpreadAbs, f.SpreadBps, f.NetProfitUSD, f.NetProfitBps, f.VolumeUSD,
		f.SymbolIndex, f.MidPrice, f.DispersionBps,
		f.BuyExchangeScore, f.SellExchangeScore, f.HourOfDay,
	}
}

// BuildFeatures derives the feature vector of s. Market stats and exchange
// health are optional context; missing context yields neutral values.
func BuildFeatures(s model.Signal, stats *model.MarketStats, health map[string]model.ExchangeHealth) Features {
	mid := (s.Route.BuyPrice + s.Route.SellPrice) / 2
	f := Features{
		SpreadAbs:         s.Route.SellPrice - s.Route.BuyPrice,
		SpreadBps:         s.SpreadBps,
		NetProfitUSD:      s.ProfitUSD,
		NetProfitBps:      s.ProfitBps,
		VolumeUSD:         s.VolumeUSD,
		SymbolIndex:       float64(symbolIndex(s.Symbol)),
		MidPrice:          mid,
		BuyExchangeScore:  exchangeScore(health, s.Route.BuyExchange),
		SellExchangeScore: exchangeScore(health, s.Route.SellExchange),
		HourOfDay:         float64(s.CreatedAt.UTC().Hour()) / 24,
	}
	if stats != nil {
		f.MidPrice = stats.MidPrice
		f.DispersionBps = stats.DispersionBps
	}
	return f
}

func symbolIndex(symbol string) int {
	sum := 0
	for _, r := range symbol {
		sum += int(r)
	}
	return sum % 1000
}

func exchangeScore(health map[string]model.ExchangeHealth, exchange string) float64 {
	h, ok := health[exchange]
	switch {
	case !ok:
		return 0.5
	case h.CircuitOpen:
		return 0.2
	case h.ConsecutiveFailures > 0:
		return 0.8
	default:
		return 1
	}
}

// Scorer is an optional post-filter. ok=false means the scorer has no opinion.
type Scorer interface {
	Score(f Features) (score float64, ok bool)
}

// Clusterer optionally tags signals with a cluster id.
type Clusterer interface {
	Cluster(f Features) (id int, ok bool)
}
